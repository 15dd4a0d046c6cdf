package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// testObject создаёт тестовый объект.
func testObject(id string, size int64, createdAt time.Time, replicas ...string) *model.StoredObject {
	return &model.StoredObject{
		ID:          id,
		Name:        id + ".bin",
		ContentHash: "hash-" + id,
		Size:        size,
		Owner:       "owner",
		CreatedAt:   createdAt,
		Replicas:    replicas,
	}
}

// TestPublishAndGet проверяет публикацию и получение копии.
func TestPublishAndGet(t *testing.T) {
	c := New("", testLogger())
	obj := testObject("o1", 10, time.Now(), "a", "b", "c")

	if err := c.Publish(obj); err != nil {
		t.Fatalf("ошибка публикации: %v", err)
	}

	// Изменение исходного объекта не влияет на каталог
	obj.Replicas[0] = "x"

	got := c.Get("o1")
	if got == nil {
		t.Fatal("объект не найден")
	}
	if got.Replicas[0] != "a" {
		t.Errorf("каталог изменён через исходный объект: %v", got.Replicas)
	}

	// Изменение результата не влияет на каталог
	got.Replicas[1] = "y"
	if c.Get("o1").Replicas[1] != "b" {
		t.Error("каталог изменён через возвращённую копию")
	}
}

// TestGet_NotFound проверяет отсутствующий объект.
func TestGet_NotFound(t *testing.T) {
	c := New("", testLogger())
	if c.Get("missing") != nil {
		t.Error("ожидался nil для отсутствующего объекта")
	}
}

// TestRemove проверяет удаление и пересчёт размера.
func TestRemove(t *testing.T) {
	c := New("", testLogger())
	_ = c.Publish(testObject("o1", 10, time.Now(), "a"))
	_ = c.Publish(testObject("o2", 5, time.Now(), "a"))

	removed, err := c.Remove("o1")
	if err != nil || !removed {
		t.Fatalf("ожидалось удаление, получено removed=%v err=%v", removed, err)
	}
	if c.TotalSize() != 5 {
		t.Errorf("ожидался TotalSize=5, получено %d", c.TotalSize())
	}

	removed, _ = c.Remove("o1")
	if removed {
		t.Error("повторное удаление должно возвращать false")
	}
}

// TestByHolderAndExpired проверяет фильтры.
func TestByHolderAndExpired(t *testing.T) {
	c := New("", testLogger())
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	o1 := testObject("o1", 1, now, "a", "b")
	o1.ExpiresAt = &past
	o2 := testObject("o2", 1, now, "b", "c")
	o2.ExpiresAt = &future
	o3 := testObject("o3", 1, now, "c")

	for _, o := range []*model.StoredObject{o1, o2, o3} {
		_ = c.Publish(o)
	}

	if got := c.ByHolder("b"); len(got) != 2 {
		t.Errorf("ByHolder(b): ожидалось 2, получено %d", len(got))
	}
	if got := c.ByHolder("z"); len(got) != 0 {
		t.Errorf("ByHolder(z): ожидалось 0, получено %d", len(got))
	}

	expired := c.Expired(now)
	if len(expired) != 1 || expired[0].ID != "o1" {
		t.Errorf("Expired: ожидался [o1], получено %v", expired)
	}
}

// TestList_WithPagination проверяет сортировку и пагинацию.
func TestList_WithPagination(t *testing.T) {
	c := New("", testLogger())
	base := time.Now().UTC()
	for i := range 5 {
		_ = c.Publish(testObject(fmt.Sprintf("o%d", i), 1, base.Add(time.Duration(i)*time.Minute), "a"))
	}

	page, total := c.List(2, 1)
	if total != 5 {
		t.Errorf("ожидалось total=5, получено %d", total)
	}
	if len(page) != 2 || page[0].ID != "o3" || page[1].ID != "o2" {
		t.Errorf("неожиданная страница: %v", page)
	}

	page, _ = c.List(10, 10)
	if page != nil {
		t.Errorf("ожидалась пустая страница, получено %v", page)
	}
}

// TestLoad проверяет восстановление каталога с диска.
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, testLogger())
	_ = c.Publish(testObject("o1", 7, time.Now().UTC(), "a", "b", "c"))
	_ = c.Publish(testObject("o2", 3, time.Now().UTC(), "a", "b", "c"))
	_, _ = c.Remove("o2")

	restored := New(dir, testLogger())
	if restored.IsReady() {
		t.Error("каталог не должен быть готов до Load")
	}
	if err := restored.Load(); err != nil {
		t.Fatalf("ошибка загрузки: %v", err)
	}
	if !restored.IsReady() {
		t.Error("каталог должен быть готов после Load")
	}
	if restored.Count() != 1 || restored.TotalSize() != 7 {
		t.Errorf("ожидался 1 объект размером 7, получено %d/%d", restored.Count(), restored.TotalSize())
	}
	if got := restored.Get("o1"); got == nil || len(got.Replicas) != 3 {
		t.Errorf("объект восстановлен некорректно: %+v", got)
	}
}

// TestConcurrentAccess проверяет конкурентную публикацию и чтение.
func TestConcurrentAccess(t *testing.T) {
	c := New("", testLogger())
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Publish(testObject(fmt.Sprintf("o%d", i), 1, time.Now(), "a"))
		}()
		go func() {
			defer wg.Done()
			_ = c.ByHolder("a")
			_ = c.Count()
		}()
	}
	wg.Wait()

	if c.Count() != 50 || c.TotalSize() != 50 {
		t.Errorf("ожидалось 50 объектов, получено %d (size %d)", c.Count(), c.TotalSize())
	}
}
