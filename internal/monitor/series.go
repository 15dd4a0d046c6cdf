package monitor

import (
	"sync"
	"sync/atomic"
)

// series — ограниченный по длине временной ряд с копированием при записи.
// Писатели сериализуются мьютексом, читатели получают неизменяемый срез без блокировок.
type series[T any] struct {
	mu    sync.Mutex
	items atomic.Pointer[[]T]
	limit int
}

func newSeries[T any](limit int) *series[T] {
	s := &series[T]{limit: limit}
	empty := []T{}
	s.items.Store(&empty)
	return s
}

// append добавляет элементы, отбрасывая самые старые сверх limit.
func (s *series[T]) append(items ...T) {
	if len(items) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := *s.items.Load()
	next := make([]T, 0, len(old)+len(items))
	next = append(next, old...)
	next = append(next, items...)
	if s.limit > 0 && len(next) > s.limit {
		next = append([]T(nil), next[len(next)-s.limit:]...)
	}
	s.items.Store(&next)
}

// replace атомарно заменяет содержимое ряда результатом fn.
// fn получает текущий срез и не должна его изменять.
func (s *series[T]) replace(fn func(cur []T) []T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(*s.items.Load())
	s.items.Store(&next)
}

// load возвращает текущий срез. Срез нельзя изменять.
func (s *series[T]) load() []T {
	return *s.items.Load()
}
