// Пакет filestore — хранение реплик объектов в директории участника.
// Каждая реплика — файл {object_id}.replica в storage path участника.
// Запись атомарна (temp → fsync → rename), SHA-256 считается на лету.
package filestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ReplicaSuffix — суффикс файла реплики.
const ReplicaSuffix = ".replica"

// ErrReplicaNotFound — реплика отсутствует на диске.
var ErrReplicaNotFound = errors.New("реплика не найдена")

// FileStore — реплики одного участника на локальном диске.
type FileStore struct {
	// dataDir — storage path участника
	dataDir string
}

// New создаёт FileStore. Создаёт директорию если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// CheckWritable выполняет пробную запись и удаление файла в dir.
// Используется при регистрации storage-выделения.
func CheckWritable(dir string) error {
	if dir == "" {
		return errors.New("путь хранения не задан")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	probe := []byte("rc-write-test-" + uuid.New().String())
	testFile := filepath.Join(dir, ".rc_write_test_"+uuid.New().String()[:8])

	if err := os.WriteFile(testFile, probe, 0o640); err != nil {
		return fmt.Errorf("директория %s недоступна для записи: %w", dir, err)
	}
	defer os.Remove(testFile)

	got, err := os.ReadFile(testFile)
	if err != nil {
		return fmt.Errorf("директория %s недоступна для чтения: %w", dir, err)
	}
	if !bytes.Equal(got, probe) {
		return fmt.Errorf("директория %s вернула искажённые данные при проверке", dir)
	}

	if err := os.Remove(testFile); err != nil {
		return fmt.Errorf("не удалось удалить проверочный файл в %s: %w", dir, err)
	}
	return nil
}

// WriteReplica атомарно записывает реплику объекта.
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// Возвращает SHA-256 записанных данных.
func (fs *FileStore) WriteReplica(ctx context.Context, objectID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fullPath := fs.FullPath(objectID)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	w := io.MultiWriter(f, hasher)

	if _, err := w.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ReadReplica читает реплику объекта целиком.
// Возвращает ErrReplicaNotFound, если файла нет.
func (fs *FileStore) ReadReplica(ctx context.Context, objectID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fs.FullPath(objectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrReplicaNotFound, objectID)
		}
		return nil, fmt.Errorf("ошибка чтения реплики %s: %w", objectID, err)
	}
	return data, nil
}

// DeleteReplica удаляет реплику объекта.
// Возвращает nil если файл уже не существует.
func (fs *FileStore) DeleteReplica(ctx context.Context, objectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(fs.FullPath(objectID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления реплики %s: %w", objectID, err)
	}
	return nil
}

// Exists проверяет наличие реплики на диске.
func (fs *FileStore) Exists(objectID string) bool {
	_, err := os.Stat(fs.FullPath(objectID))
	return err == nil
}

// ComputeChecksum вычисляет SHA-256 хэш реплики на диске.
func (fs *FileStore) ComputeChecksum(objectID string) (string, error) {
	f, err := os.Open(fs.FullPath(objectID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrReplicaNotFound, objectID)
		}
		return "", fmt.Errorf("ошибка открытия реплики %s: %w", objectID, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", objectID, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ListReplicas возвращает идентификаторы объектов, реплики которых лежат на диске.
func (fs *FileStore) ListReplicas() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(fs.dataDir, "*"+ReplicaSuffix))
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", fs.dataDir, err)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), ReplicaSuffix))
	}
	return ids, nil
}

// FullPath возвращает абсолютный путь к файлу реплики.
func (fs *FileStore) FullPath(objectID string) string {
	return filepath.Join(fs.dataDir, sanitize(objectID)+ReplicaSuffix)
}

// DataDir возвращает storage path участника.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// Checksum вычисляет SHA-256 хэш данных в hex.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sanitize убирает небезопасные символы из идентификатора объекта.
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
		return "object"
	}
	return result.String()
}
