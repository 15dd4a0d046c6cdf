// Пакет record — атомарная запись и чтение JSON-записей состояния.
// Выделения участников хранятся как *.alloc.json, каталог объектов — как *.obj.json.
// Все операции записи выполняются атомарно: temp → fsync → rename.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// AllocationSuffix — суффикс файла выделения ресурса.
	AllocationSuffix = ".alloc.json"
	// ObjectSuffix — суффикс файла записи каталога объектов.
	ObjectSuffix = ".obj.json"
)

// AllocationFileName возвращает имя файла выделения участника.
// Формат: {participant}-{hash8}.{kind}.alloc.json
// Хэш исключает коллизии после удаления небезопасных символов.
func AllocationFileName(participantID, kind string) string {
	sum := sha256.Sum256([]byte(participantID))
	name := sanitize(participantID)
	if len(name) > 50 {
		name = name[:50]
	}
	return fmt.Sprintf("%s-%s.%s%s", name, hex.EncodeToString(sum[:4]), kind, AllocationSuffix)
}

// ObjectFileName возвращает имя файла записи каталога для объекта.
func ObjectFileName(objectID string) string {
	return sanitize(objectID) + ObjectSuffix
}

// Write атомарно записывает значение v в JSON-файл path.
// Паттерн: JSON → temp файл → fsync → atomic rename.
func Write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}
	return WriteBytes(path, data)
}

// WriteBytes атомарно записывает data в файл path.
func WriteBytes(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Read читает JSON-файл path в значение v.
func Read(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ошибка чтения записи %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ошибка десериализации записи %s: %w", path, err)
	}
	return nil
}

// Delete удаляет файл записи.
// Возвращает nil если файл уже не существует.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления записи %s: %w", path, err)
	}
	return nil
}

// Scan читает все записи с суффиксом suffix из директории dir.
// Не рекурсивный. Невалидные файлы пропускаются, их пути возвращаются в skipped.
func Scan[T any](dir, suffix string) (items []*T, skipped []string, err error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+suffix))
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка сканирования директории %s: %w", dir, err)
	}

	for _, path := range matches {
		var item T
		if err := Read(path, &item); err != nil {
			skipped = append(skipped, path)
			continue
		}
		items = append(items, &item)
	}

	return items, skipped, nil
}

// sanitize убирает небезопасные символы из строки для использования в имени файла.
// Оставляет только буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "record"
	}
	return result.String()
}
