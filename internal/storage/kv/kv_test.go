package kv

import (
	"fmt"
	"testing"
	"time"
)

type sample struct {
	N int `json:"n"`
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("ошибка открытия хранилища: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestPutGetJSON проверяет запись и чтение значения.
func TestPutGetJSON(t *testing.T) {
	s := openStore(t)

	if err := s.PutJSON(Key("a", "b"), sample{N: 7}); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	var got sample
	ok, err := s.GetJSON(Key("a", "b"), &got)
	if err != nil || !ok {
		t.Fatalf("ожидалось значение, получено ok=%v err=%v", ok, err)
	}
	if got.N != 7 {
		t.Errorf("ожидалось 7, получено %d", got.N)
	}

	ok, err = s.GetJSON(Key("missing"), &got)
	if err != nil || ok {
		t.Errorf("ожидалось отсутствие ключа, получено ok=%v err=%v", ok, err)
	}
}

// TestIterateRange проверяет выбор по участнику и диапазону времени.
func TestIterateRange(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		ts := base.Add(time.Duration(i) * time.Hour)
		if err := s.PutJSON(TimeKey(PrefixTransfer, "p1", ts, fmt.Sprint(i)), sample{N: i}); err != nil {
			t.Fatalf("ошибка записи: %v", err)
		}
	}
	// Запись другого участника с похожим префиксом не попадает в выборку
	_ = s.PutJSON(TimeKey(PrefixTransfer, "p10", base.Add(time.Hour), "x"), sample{N: 100})

	var got []int
	err := s.IterateRange(PrefixTransfer, "p1", base.Add(time.Hour), base.Add(4*time.Hour), func(_, value []byte) error {
		v, err := DecodeJSON[sample](value)
		if err != nil {
			return err
		}
		got = append(got, v.N)
		return nil
	})
	if err != nil {
		t.Fatalf("ошибка обхода: %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("ожидалось [1 2 3], получено %v", got)
	}
}

// TestIteratePrefixReverse_Stop проверяет обратный обход с остановкой.
func TestIteratePrefixReverse_Stop(t *testing.T) {
	s := openStore(t)
	base := time.Now().UTC()
	for i := range 10 {
		_ = s.PutJSON(TimeKey(PrefixLatency, "p", base.Add(time.Duration(i)*time.Second), ""), sample{N: i})
	}

	var got []int
	err := s.IteratePrefixReverse(ParticipantPrefix(PrefixLatency, "p"), func(_, value []byte) error {
		v, _ := DecodeJSON[sample](value)
		got = append(got, v.N)
		if len(got) == 3 {
			return ErrStop
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ошибка обхода: %v", err)
	}
	if len(got) != 3 || got[0] != 9 || got[2] != 7 {
		t.Errorf("ожидалось [9 8 7], получено %v", got)
	}
}

// TestDeletePrefix проверяет удаление всех записей участника.
func TestDeletePrefix(t *testing.T) {
	s := openStore(t)
	now := time.Now()
	_ = s.PutJSON(TimeKey(PrefixUsage, "a", now, "1"), sample{N: 1})
	_ = s.PutJSON(TimeKey(PrefixUsage, "b", now, "2"), sample{N: 2})

	if err := s.DeletePrefix(ParticipantPrefix(PrefixUsage, "a")); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}

	count := 0
	_ = s.IteratePrefix(Key(PrefixUsage), func(_, _ []byte) error {
		count++
		return nil
	})
	if count != 1 {
		t.Errorf("ожидалась 1 запись, получено %d", count)
	}
}

// TestPrefixUpperBound проверяет вычисление верхней границы.
func TestPrefixUpperBound(t *testing.T) {
	tests := []struct {
		in   []byte
		want []byte
	}{
		{[]byte("abc"), []byte("abd")},
		{[]byte{0x01, 0xFF}, []byte{0x02}},
		{[]byte{0xFF, 0xFF}, nil},
	}
	for _, tt := range tests {
		got := prefixUpperBound(tt.in)
		if string(got) != string(tt.want) {
			t.Errorf("prefixUpperBound(%v) = %v, ожидалось %v", tt.in, got, tt.want)
		}
	}
}
