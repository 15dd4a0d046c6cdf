package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/allocation"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/probe"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/reward"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/catalog"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/filestore"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/kv"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/wal"
)

var testRates = reward.Rates{
	StoragePerGBMonth:     0.10,
	ComputePerCoreMonth:   5.0,
	BandwidthPerMbpsMonth: 0.50,
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memStore — ReplicaStore в памяти с управляемыми отказами.
type memStore struct {
	mu          sync.Mutex
	data        map[string][]byte
	failWrite   bool
	failRead    bool
	failDelete  bool
	writesCount int
	// beforeWrite и beforeDelete вызываются вне мьютекса до операции
	beforeWrite  func()
	beforeDelete func()
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) WriteReplica(_ context.Context, objectID string, data []byte) (string, error) {
	if m.beforeWrite != nil {
		m.beforeWrite()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return "", errors.New("запись недоступна")
	}
	m.writesCount++
	m.data[objectID] = append([]byte(nil), data...)
	return filestore.Checksum(data), nil
}

func (m *memStore) ReadReplica(_ context.Context, objectID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead {
		return nil, errors.New("чтение недоступно")
	}
	data, ok := m.data[objectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", filestore.ErrReplicaNotFound, objectID)
	}
	return append([]byte(nil), data...), nil
}

func (m *memStore) DeleteReplica(_ context.Context, objectID string) error {
	if m.beforeDelete != nil {
		m.beforeDelete()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return errors.New("удаление недоступно")
	}
	delete(m.data, objectID)
	return nil
}

func (m *memStore) ListReplicas() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) has(objectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[objectID]
	return ok
}

func (m *memStore) put(objectID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[objectID] = data
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// fakeTransport — по одному memStore на участника.
type fakeTransport struct {
	mu     sync.Mutex
	stores map[string]*memStore
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{stores: make(map[string]*memStore)}
}

func (f *fakeTransport) Store(participantID, _ string) (ReplicaStore, error) {
	return f.store(participantID), nil
}

func (f *fakeTransport) store(participantID string) *memStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stores[participantID]
	if !ok {
		s = newMemStore()
		f.stores[participantID] = s
	}
	return s
}

// storageEnv — окружение StorageService на фейковом транспорте.
type storageEnv struct {
	svc       *StorageService
	ledger    *allocation.Ledger
	catalog   *catalog.Catalog
	wal       *wal.WAL
	transport *fakeTransport
}

func newStorageEnv(t *testing.T) *storageEnv {
	t.Helper()

	dir := t.TempDir()
	logger := testLogger()

	w, err := wal.New(dir+"/wal", logger)
	if err != nil {
		t.Fatalf("Ошибка создания WAL: %v", err)
	}
	env := &storageEnv{
		ledger:    allocation.New(dir+"/state", logger),
		catalog:   catalog.New(dir+"/catalog", logger),
		wal:       w,
		transport: newFakeTransport(),
	}
	env.svc = NewStorageService(env.ledger, env.catalog, env.wal, env.transport, nil, 3, testRates, logger)
	return env
}

// registerMiB регистрирует storage-выделение ёмкостью mib MiB.
func (e *storageEnv) registerMiB(t *testing.T, participantID string, mib float64) {
	t.Helper()
	_, err := e.svc.RegisterAllocation(context.Background(), StorageRegistration{
		ParticipantID: participantID,
		CapacityGB:    mib / 1024,
		StoragePath:   "/data/" + participantID,
	})
	if err != nil {
		t.Fatalf("Ошибка регистрации %s: %v", participantID, err)
	}
}

func (e *storageEnv) used(t *testing.T, participantID string) int64 {
	t.Helper()
	a, err := e.ledger.Get(participantID, "storage")
	if err != nil {
		t.Fatalf("Ошибка получения выделения %s: %v", participantID, err)
	}
	return a.Used
}

// fakeBenchmark возвращает оценки по очереди.
type fakeBenchmark struct {
	mu     sync.Mutex
	scores []float64
	err    error
}

func (f *fakeBenchmark) Benchmark(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if len(f.scores) == 0 {
		return 1, nil
	}
	s := f.scores[0]
	f.scores = f.scores[1:]
	return s, nil
}

// fakeSpeed — детерминированная speed-проба.
type fakeSpeed struct {
	mu    sync.Mutex
	speed probe.Speed
	err   error
	calls int
}

func (f *fakeSpeed) MeasureSpeed(context.Context, probe.Target) (probe.Speed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.speed, f.err
}

func (f *fakeSpeed) set(s probe.Speed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speed = s
}

// fakePinger — детерминированный ping.
type fakePinger struct {
	latency time.Duration
	err     error
}

func (f *fakePinger) Ping(context.Context, probe.Target) (time.Duration, error) {
	return f.latency, f.err
}

func newMemKV(t *testing.T) *kv.Store {
	t.Helper()
	store, err := kv.OpenInMemory()
	if err != nil {
		t.Fatalf("Ошибка открытия kv: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
