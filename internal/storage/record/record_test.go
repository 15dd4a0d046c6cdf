package record

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	ID    string `json:"id"`
	Value int64  `json:"value"`
}

// TestWriteAndRead проверяет запись и чтение записи.
func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "a"+ObjectSuffix)

	if err := Write(path, &sample{ID: "a", Value: 42}); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	var got sample
	if err := Read(path, &got); err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if got.ID != "a" || got.Value != 42 {
		t.Errorf("ожидалось {a 42}, получено %+v", got)
	}

	// Временный файл не должен остаться
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("временный файл не удалён")
	}
}

// TestDelete_Missing проверяет, что удаление несуществующего файла не ошибка.
func TestDelete_Missing(t *testing.T) {
	if err := Delete(filepath.Join(t.TempDir(), "missing"+ObjectSuffix)); err != nil {
		t.Errorf("ожидался nil, получено: %v", err)
	}
}

// TestScan_SkipsInvalid проверяет, что невалидные файлы пропускаются.
func TestScan_SkipsInvalid(t *testing.T) {
	dir := t.TempDir()

	for _, id := range []string{"one", "two"} {
		if err := Write(filepath.Join(dir, ObjectFileName(id)), &sample{ID: id}); err != nil {
			t.Fatalf("ошибка записи: %v", err)
		}
	}
	broken := filepath.Join(dir, "broken"+ObjectSuffix)
	if err := os.WriteFile(broken, []byte("{не json"), 0o640); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	// Файл с другим суффиксом не сканируется
	if err := Write(filepath.Join(dir, "x"+AllocationSuffix), &sample{ID: "x"}); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	items, skipped, err := Scan[sample](dir, ObjectSuffix)
	if err != nil {
		t.Fatalf("ошибка сканирования: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("ожидалось 2 записи, получено %d", len(items))
	}
	if len(skipped) != 1 || skipped[0] != broken {
		t.Errorf("ожидался пропуск %s, получено %v", broken, skipped)
	}
}

// TestAllocationFileName проверяет формат имени и отсутствие коллизий.
func TestAllocationFileName(t *testing.T) {
	a := AllocationFileName("node/a", "storage")
	b := AllocationFileName("node:a", "storage")

	if !strings.HasSuffix(a, ".storage"+AllocationSuffix) {
		t.Errorf("неожиданный суффикс: %s", a)
	}
	if strings.ContainsAny(a, "/:") {
		t.Errorf("имя содержит небезопасные символы: %s", a)
	}
	if a == b {
		t.Errorf("ожидались разные имена для разных участников, получено %s", a)
	}
	if AllocationFileName("node/a", "storage") != a {
		t.Error("имя файла должно быть детерминированным")
	}
}
