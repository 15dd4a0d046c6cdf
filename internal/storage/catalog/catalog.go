// Пакет catalog — потокобезопасный каталог опубликованных объектов.
//
// Объект попадает в каталог только через Publish, который вызывается
// после записи всех реплик. Читатели никогда не видят частично
// реплицированный объект.
//
// При заданной директории каждая запись сохраняется в {object_id}.obj.json
// и восстанавливается при старте через Load.
package catalog

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/record"
)

// Catalog — каталог объектов. sync.RWMutex для конкурентного чтения.
type Catalog struct {
	mu        sync.RWMutex
	objects   map[string]*model.StoredObject // object_id → object
	totalSize int64
	ready     bool
	// dir — директория *.obj.json ("" — только в памяти)
	dir    string
	logger *slog.Logger
}

// New создаёт пустой каталог. Для восстановления вызовите Load.
func New(dir string, logger *slog.Logger) *Catalog {
	return &Catalog{
		objects: make(map[string]*model.StoredObject),
		dir:     dir,
		logger:  logger.With(slog.String("component", "catalog")),
	}
}

// Load восстанавливает каталог из *.obj.json. Заменяет текущее содержимое.
func (c *Catalog) Load() error {
	var objects []*model.StoredObject
	if c.dir != "" {
		loaded, skipped, err := record.Scan[model.StoredObject](c.dir, record.ObjectSuffix)
		if err != nil {
			return fmt.Errorf("ошибка загрузки каталога: %w", err)
		}
		for _, path := range skipped {
			c.logger.Warn("Пропущен невалидный файл каталога", slog.String("path", path))
		}
		objects = loaded
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.objects = make(map[string]*model.StoredObject, len(objects))
	c.totalSize = 0
	for _, obj := range objects {
		c.objects[obj.ID] = obj
		c.totalSize += obj.Size
	}
	c.ready = true

	c.logger.Info("Каталог объектов загружен",
		slog.Int("objects", len(c.objects)),
		slog.String("dir", c.dir),
	)
	return nil
}

// IsReady возвращает true, если каталог загружен.
func (c *Catalog) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Publish сохраняет объект и делает его видимым для читателей.
func (c *Catalog) Publish(obj *model.StoredObject) error {
	copied := obj.Clone()

	if c.dir != "" {
		if err := record.Write(c.path(obj.ID), copied); err != nil {
			return fmt.Errorf("не удалось сохранить объект %s в каталоге: %w", obj.ID, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.objects[obj.ID]; ok {
		c.totalSize -= old.Size
	}
	c.objects[obj.ID] = copied
	c.totalSize += copied.Size
	return nil
}

// Remove удаляет объект из каталога.
// Возвращает false, если объект не найден.
func (c *Catalog) Remove(objectID string) (bool, error) {
	c.mu.Lock()
	obj, ok := c.objects[objectID]
	if ok {
		delete(c.objects, objectID)
		c.totalSize -= obj.Size
	}
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	if c.dir != "" {
		if err := record.Delete(c.path(objectID)); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Get возвращает копию объекта или nil, если объект не найден.
func (c *Catalog) Get(objectID string) *model.StoredObject {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obj, ok := c.objects[objectID]
	if !ok {
		return nil
	}
	return obj.Clone()
}

// List возвращает пагинированный список объектов (новые первые) и общее количество.
// limit = 0 — без ограничения.
func (c *Catalog) List(limit, offset int) ([]*model.StoredObject, int) {
	all := c.filter(func(*model.StoredObject) bool { return true })
	total := len(all)

	if offset >= total {
		return nil, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total
}

// ByHolder возвращает объекты, реплику которых хранит участник.
func (c *Catalog) ByHolder(participantID string) []*model.StoredObject {
	return c.filter(func(o *model.StoredObject) bool {
		return o.HasReplica(participantID)
	})
}

// Expired возвращает объекты с истёкшим сроком хранения на момент now.
func (c *Catalog) Expired(now time.Time) []*model.StoredObject {
	return c.filter(func(o *model.StoredObject) bool {
		return o.IsExpired(now)
	})
}

// Count возвращает количество объектов.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}

// TotalSize возвращает суммарный размер объектов (без учёта репликации).
func (c *Catalog) TotalSize() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalSize
}

// filter возвращает копии объектов, удовлетворяющих условию, отсортированные
// по времени создания (новые первые).
func (c *Catalog) filter(keep func(*model.StoredObject) bool) []*model.StoredObject {
	c.mu.RLock()
	var result []*model.StoredObject
	for _, obj := range c.objects {
		if keep(obj) {
			result = append(result, obj.Clone())
		}
	}
	c.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (c *Catalog) path(objectID string) string {
	return filepath.Join(c.dir, record.ObjectFileName(objectID))
}
