package wal

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	return w
}

// TestNew_CreatesDirectory проверяет, что New создаёт директорию WAL.
func TestNew_CreatesDirectory(t *testing.T) {
	walDir := filepath.Join(t.TempDir(), "wal")

	w, err := New(walDir, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное создание WAL, получена ошибка: %v", err)
	}
	if w.Dir() != walDir {
		t.Errorf("ожидался путь %s, получен %s", walDir, w.Dir())
	}
	if info, err := os.Stat(walDir); err != nil || !info.IsDir() {
		t.Fatalf("директория WAL не создана: %v", err)
	}
}

// TestStartTransaction проверяет создание pending записи с кандидатами.
func TestStartTransaction(t *testing.T) {
	w := newWAL(t)
	candidates := []string{"a", "b", "c"}

	entry, err := w.StartTransaction(OpObjectStore, "obj-1", 1024, candidates)
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	// Изменение исходного среза не влияет на запись
	candidates[0] = "x"

	if entry.TransactionID == "" {
		t.Error("TransactionID не должен быть пустым")
	}
	if entry.Status != StatusPending {
		t.Errorf("ожидался статус %s, получен %s", StatusPending, entry.Status)
	}

	stored, err := w.GetTransaction(entry.TransactionID)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if stored.ObjectID != "obj-1" || stored.Size != 1024 {
		t.Errorf("неожиданная запись: %+v", stored)
	}
	if len(stored.Candidates) != 3 || stored.Candidates[0] != "a" {
		t.Errorf("кандидаты: ожидалось [a b c], получено %v", stored.Candidates)
	}

	// temp файл не остался, JSON валиден
	path := filepath.Join(w.Dir(), walFileName(entry.TransactionID))
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("временный файл не удалён")
	}
	data, _ := os.ReadFile(path)
	var raw Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("невалидный JSON: %v", err)
	}
}

// TestCommitAndRollback проверяет завершение транзакций.
func TestCommitAndRollback(t *testing.T) {
	w := newWAL(t)

	tx1, _ := w.StartTransaction(OpObjectStore, "o1", 1, []string{"a"})
	tx2, _ := w.StartTransaction(OpObjectDelete, "o2", 1, []string{"a"})

	if err := w.Commit(tx1.TransactionID); err != nil {
		t.Fatalf("ошибка коммита: %v", err)
	}
	if err := w.Rollback(tx2.TransactionID); err != nil {
		t.Fatalf("ошибка rollback: %v", err)
	}

	got1, _ := w.GetTransaction(tx1.TransactionID)
	if got1.Status != StatusCommitted || got1.CompletedAt == nil {
		t.Errorf("ожидался committed с CompletedAt, получено %+v", got1)
	}
	got2, _ := w.GetTransaction(tx2.TransactionID)
	if got2.Status != StatusRolledBack || got2.CompletedAt == nil {
		t.Errorf("ожидался rolled_back с CompletedAt, получено %+v", got2)
	}

	// Повторное завершение — ошибка
	if err := w.Commit(tx1.TransactionID); err == nil {
		t.Error("ожидалась ошибка при повторном коммите")
	}
	if err := w.Rollback(tx1.TransactionID); err == nil {
		t.Error("ожидалась ошибка при rollback закоммиченной транзакции")
	}
}

// TestGetTransaction_NotFound проверяет ошибку при несуществующей транзакции.
func TestGetTransaction_NotFound(t *testing.T) {
	w := newWAL(t)
	if _, err := w.GetTransaction("nonexistent-tx-id"); err == nil {
		t.Error("ожидалась ошибка для несуществующей транзакции")
	}
}

// TestRecoverPending проверяет, что возвращаются только pending записи.
func TestRecoverPending(t *testing.T) {
	w := newWAL(t)

	pending, _ := w.StartTransaction(OpObjectStore, "o1", 1, []string{"a", "b"})
	committed, _ := w.StartTransaction(OpObjectStore, "o2", 1, []string{"a"})
	_ = w.Commit(committed.TransactionID)
	rolledBack, _ := w.StartTransaction(OpObjectDelete, "o3", 1, []string{"a"})
	_ = w.Rollback(rolledBack.TransactionID)

	recovered, err := w.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка восстановления: %v", err)
	}
	if len(recovered) != 1 || recovered[0].TransactionID != pending.TransactionID {
		t.Fatalf("ожидалась 1 pending транзакция %s, получено %v", pending.TransactionID, recovered)
	}
	if len(recovered[0].Candidates) != 2 {
		t.Errorf("кандидаты не восстановлены: %v", recovered[0].Candidates)
	}
}

// TestCleanCommitted проверяет очистку завершённых записей.
func TestCleanCommitted(t *testing.T) {
	w := newWAL(t)

	_, _ = w.StartTransaction(OpObjectStore, "o1", 1, nil)
	tx2, _ := w.StartTransaction(OpObjectStore, "o2", 1, nil)
	_ = w.Commit(tx2.TransactionID)
	tx3, _ := w.StartTransaction(OpObjectDelete, "o3", 1, nil)
	_ = w.Rollback(tx3.TransactionID)

	cleaned, err := w.CleanCommitted()
	if err != nil {
		t.Fatalf("ошибка очистки: %v", err)
	}
	if cleaned != 2 {
		t.Errorf("ожидалось 2 очищенных записи, получено %d", cleaned)
	}

	recovered, _ := w.RecoverPending()
	if len(recovered) != 1 {
		t.Errorf("ожидалась 1 pending запись, получено %d", len(recovered))
	}
}

// TestConcurrentAccess проверяет потокобезопасность WAL.
func TestConcurrentAccess(t *testing.T) {
	w := newWAL(t)

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			entry, err := w.StartTransaction(OpObjectStore, "obj", 1, []string{"a"})
			if err != nil {
				errs <- err
				return
			}
			if err := w.Commit(entry.TransactionID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("ошибка в горутине: %v", err)
	}
}
