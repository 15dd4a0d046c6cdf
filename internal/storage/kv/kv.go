// Пакет kv — журнал записей об использовании ресурсов на базе Pebble.
//
// Хранит неизменяемые записи: передачи данных, замеры задержки,
// использование ядер задачами. Ключи упорядочены лексикографически:
// {prefix}/{participant}/{unix_nano:020d}/{id}, что даёт дешёвый
// выбор по участнику и диапазону времени.
//
// Запись идёт без fsync (pebble.NoSync), фоновая горутина периодически
// синхронизирует журнал Pebble на диск.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// defaultSyncInterval — интервал синхронизации журнала Pebble.
const defaultSyncInterval = 100 * time.Millisecond

// Префиксы ключей.
const (
	PrefixTransfer = "transfer"
	PrefixLatency  = "latency"
	PrefixUsage    = "usage"
)

// ErrStop — возвращается из функции обхода для досрочной остановки без ошибки.
var ErrStop = errors.New("обход остановлен")

// Store — key-value хранилище поверх Pebble.
type Store struct {
	db       *pebble.DB
	stopSync chan struct{}
	wg       sync.WaitGroup
	closed   sync.Once
}

// Open открывает хранилище в директории path.
func Open(path string) (*Store, error) {
	return open(path, &pebble.Options{
		Cache:                       pebble.NewCache(16 << 20),
		MemTableSize:                8 << 20,
		MemTableStopWritesThreshold: 2,
	})
}

// OpenInMemory открывает хранилище в памяти (для тестов и режима без RC_DATA_DIR).
func OpenInMemory() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть хранилище %q: %w", path, err)
	}

	s := &Store{
		db:       db,
		stopSync: make(chan struct{}),
	}
	s.startSyncLoop()
	return s, nil
}

// Key собирает ключ из сегментов через "/".
func Key(parts ...string) []byte {
	return []byte(strings.Join(parts, "/"))
}

// TimeKey собирает ключ {prefix}/{participant}/{unix_nano:020d}/{id}.
func TimeKey(prefix, participant string, t time.Time, id string) []byte {
	return Key(prefix, participant, fmt.Sprintf("%020d", t.UnixNano()), id)
}

// ParticipantPrefix возвращает префикс всех записей участника.
func ParticipantPrefix(prefix, participant string) []byte {
	return Key(prefix, participant, "")
}

// PutJSON сериализует v и сохраняет по ключу.
func (s *Store) PutJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}
	if err := s.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("ошибка записи ключа %s: %w", key, err)
	}
	return nil
}

// GetJSON читает значение по ключу в v. Возвращает false, если ключа нет.
func (s *Store) GetJSON(key []byte, v any) (bool, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка чтения ключа %s: %w", key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(value, v); err != nil {
		return false, fmt.Errorf("ошибка десериализации ключа %s: %w", key, err)
	}
	return true, nil
}

// DeleteRange удаляет все ключи в диапазоне [start, end).
func (s *Store) DeleteRange(start, end []byte) error {
	return s.db.DeleteRange(start, end, pebble.NoSync)
}

// DeletePrefix удаляет все ключи с префиксом.
func (s *Store) DeletePrefix(prefix []byte) error {
	return s.db.DeleteRange(prefix, prefixUpperBound(prefix), pebble.NoSync)
}

// IteratePrefix вызывает fn для каждой пары с указанным префиксом
// в лексикографическом порядке. ErrStop прекращает обход без ошибки.
func (s *Store) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	return s.iterate(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	}, false, fn)
}

// IteratePrefixReverse — как IteratePrefix, но от последнего ключа к первому.
func (s *Store) IteratePrefixReverse(prefix []byte, fn func(key, value []byte) error) error {
	return s.iterate(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	}, true, fn)
}

// IterateRange вызывает fn для ключей {prefix}/{participant}/{ts} с from <= ts < to.
func (s *Store) IterateRange(prefix, participant string, from, to time.Time, fn func(key, value []byte) error) error {
	return s.iterate(&pebble.IterOptions{
		LowerBound: TimeKey(prefix, participant, from, ""),
		UpperBound: TimeKey(prefix, participant, to, ""),
	}, false, fn)
}

func (s *Store) iterate(opts *pebble.IterOptions, reverse bool, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(opts)
	if err != nil {
		return err
	}
	defer iter.Close()

	first, next := iter.First, iter.Next
	if reverse {
		first, next = iter.Last, iter.Prev
	}

	for valid := first(); valid; valid = next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := fn(iter.Key(), value); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return iter.Error()
}

// Close останавливает синхронизацию и закрывает базу с финальным fsync.
func (s *Store) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.stopSync)
		s.wg.Wait()

		if syncErr := s.sync(); syncErr != nil {
			err = syncErr
		}
		if closeErr := s.db.Close(); closeErr != nil {
			err = closeErr
		}
	})
	return err
}

// startSyncLoop запускает фоновую синхронизацию журнала.
func (s *Store) startSyncLoop() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(defaultSyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
}

func (s *Store) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}

// prefixUpperBound вычисляет исключающую верхнюю границу для обхода по префиксу.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}

// DecodeJSON — вспомогательная функция для функций обхода.
func DecodeJSON[T any](value []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return nil, fmt.Errorf("ошибка десериализации записи: %w", err)
	}
	return &v, nil
}
