package probe

import (
	"context"
	"time"

	"github.com/zeebo/blake3"
)

// HashBenchmark — бенчмарк на цепочке хэшей BLAKE3 фиксированной длительности.
type HashBenchmark struct {
	Duration time.Duration
}

// NewHashBenchmark создаёт бенчмарк. Длительность <= 0 заменяется на 100ms.
func NewHashBenchmark(d time.Duration) *HashBenchmark {
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	return &HashBenchmark{Duration: d}
}

// Benchmark реализует Benchmarker: итерации хэширования за миллисекунду.
func (b *HashBenchmark) Benchmark(ctx context.Context) (float64, error) {
	iterations, elapsed, _ := HashChain(ctx, b.Duration)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	if ms <= 0 {
		return 0, nil
	}
	return float64(iterations) / ms, nil
}

// HashChain хэширует цепочку BLAKE3 в течение d или до отмены контекста.
// Возвращает число итераций, фактическую длительность и итоговый дайджест.
func HashChain(ctx context.Context, d time.Duration) (int64, time.Duration, [32]byte) {
	var digest [32]byte
	var iterations int64

	start := time.Now()
	deadline := start.Add(d)
	for {
		// Проверка времени раз в 256 итераций
		for range 256 {
			digest = blake3.Sum256(digest[:])
			iterations++
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			break
		}
	}
	return iterations, time.Since(start), digest
}
