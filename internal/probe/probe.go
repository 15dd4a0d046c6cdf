// Пакет probe — измерительные пробы участников: скорость канала,
// задержка и вычислительный бенчмарк.
//
// Сервисы зависят только от интерфейсов SpeedProbe, Pinger и Benchmarker.
// Реализации этого пакета выполняют реальные замеры; тесты подставляют
// детерминированные заглушки.
package probe

import (
	"context"
	"time"
)

// ProbeBytes — объём данных одного направления speed-пробы (1 MiB).
const ProbeBytes = 1 << 20

// Target — цель пробы.
type Target struct {
	// ParticipantID — идентификатор участника
	ParticipantID string
	// Endpoint — сетевой адрес host:port ("" — участник локальный)
	Endpoint string
}

// Speed — результат speed-пробы.
type Speed struct {
	UploadMbps   float64
	DownloadMbps float64
}

// SpeedProbe измеряет пропускную способность канала участника.
// Реализация обязана уложиться в таймаут контекста.
type SpeedProbe interface {
	MeasureSpeed(ctx context.Context, target Target) (Speed, error)
}

// Pinger измеряет время кругового обхода до участника.
// Ошибка означает, что участник недоступен.
type Pinger interface {
	Ping(ctx context.Context, target Target) (time.Duration, error)
}

// Benchmarker выполняет вычислительный бенчмарк фиксированной длительности
// и возвращает оценку в итерациях хэширования за миллисекунду.
type Benchmarker interface {
	Benchmark(ctx context.Context) (float64, error)
}
