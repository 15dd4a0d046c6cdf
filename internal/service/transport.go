package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/filestore"
)

// ReplicaStore — операции с репликами на одном участнике.
type ReplicaStore interface {
	// WriteReplica записывает реплику и возвращает SHA-256 записанных данных.
	WriteReplica(ctx context.Context, objectID string, data []byte) (string, error)
	ReadReplica(ctx context.Context, objectID string) ([]byte, error)
	DeleteReplica(ctx context.Context, objectID string) error
}

// Transport разрешает участника в ReplicaStore по его storage path.
type Transport interface {
	Store(participantID, storagePath string) (ReplicaStore, error)
}

// LocalTransport — реплики хранятся в локальных директориях участников.
type LocalTransport struct {
	mu     sync.Mutex
	stores map[string]*filestore.FileStore
}

// NewLocalTransport создаёт локальный транспорт.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{stores: make(map[string]*filestore.FileStore)}
}

// Store реализует Transport. Перед первым использованием пути
// выполняется пробная запись.
func (t *LocalTransport) Store(participantID, storagePath string) (ReplicaStore, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fs, ok := t.stores[storagePath]; ok {
		return fs, nil
	}
	if err := filestore.CheckWritable(storagePath); err != nil {
		return nil, err
	}
	fs, err := filestore.New(storagePath)
	if err != nil {
		return nil, err
	}
	t.stores[storagePath] = fs
	return fs, nil
}

// breakers — circuit breaker транспорта реплик для каждого участника.
// Участник с открытым breaker исключается из выбора кандидатов.
type breakers struct {
	mu       sync.Mutex
	m        map[string]*gobreaker.CircuitBreaker
	failures uint32
	timeout  time.Duration
}

func newBreakers(failures uint32, timeout time.Duration) *breakers {
	if failures == 0 {
		failures = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &breakers{
		m:        make(map[string]*gobreaker.CircuitBreaker),
		failures: failures,
		timeout:  timeout,
	}
}

func (b *breakers) get(participantID string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.m[participantID]; ok {
		return cb
	}
	threshold := b.failures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        participantID,
		MaxRequests: 1,
		Timeout:     b.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Отсутствие реплики не считается отказом транспорта
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, filestore.ErrReplicaNotFound)
		},
		OnStateChange: func(name string, _ gobreaker.State, to gobreaker.State) {
			breakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	b.m[participantID] = cb
	return cb
}

// isOpen проверяет, открыт ли breaker участника.
func (b *breakers) isOpen(participantID string) bool {
	return b.get(participantID).State() == gobreaker.StateOpen
}

// forget удаляет breaker участника.
func (b *breakers) forget(participantID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.m, participantID)
	breakerState.DeleteLabelValues(participantID)
}

// guardedStore — ReplicaStore, обёрнутый circuit breaker участника.
type guardedStore struct {
	inner ReplicaStore
	cb    *gobreaker.CircuitBreaker
}

func (g *guardedStore) WriteReplica(ctx context.Context, objectID string, data []byte) (string, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.WriteReplica(ctx, objectID, data)
	})
	if err != nil {
		return "", breakerErr(err)
	}
	return res.(string), nil
}

func (g *guardedStore) ReadReplica(ctx context.Context, objectID string) ([]byte, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.ReadReplica(ctx, objectID)
	})
	if err != nil {
		return nil, breakerErr(err)
	}
	return res.([]byte), nil
}

func (g *guardedStore) DeleteReplica(ctx context.Context, objectID string) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.inner.DeleteReplica(ctx, objectID)
	})
	return breakerErr(err)
}

func breakerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("транспорт участника недоступен: %w", err)
	default:
		return err
	}
}
