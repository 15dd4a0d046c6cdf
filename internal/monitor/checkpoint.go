package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/record"
)

// checkpointVersion — версия формата файла истории.
const checkpointVersion = 1

// checkpoint — содержимое файла истории мониторинга.
type checkpoint struct {
	Version   int                      `json:"version"`
	SavedAt   time.Time                `json:"saved_at"`
	Snapshots []model.UsageSnapshot    `json:"snapshots"`
	Uptime    []model.UptimeRecord     `json:"uptime"`
	Alerts    []model.PerformanceAlert `json:"alerts"`
}

// SaveCheckpoint сохраняет снимки, записи uptime и алерты в файл path (JSON, сжатый zstd).
func (m *Monitor) SaveCheckpoint(path string) error {
	cp := checkpoint{
		Version:   checkpointVersion,
		SavedAt:   m.now(),
		Snapshots: m.snapshots.load(),
		Uptime:    m.uptime.load(),
		Alerts:    m.alerts.load(),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("ошибка сериализации истории мониторинга: %w", err)
	}

	compressed, err := compress(data)
	if err != nil {
		return err
	}
	if err := record.WriteBytes(path, compressed); err != nil {
		return fmt.Errorf("ошибка записи истории мониторинга: %w", err)
	}

	m.logger.Debug("История мониторинга сохранена",
		slog.String("path", path),
		slog.Int("snapshots", len(cp.Snapshots)),
		slog.Int("uptime_records", len(cp.Uptime)),
		slog.Int("alerts", len(cp.Alerts)),
		slog.Int("bytes", len(compressed)),
	)
	return nil
}

// LoadCheckpoint восстанавливает историю из файла path.
// Отсутствующий файл не является ошибкой. Ряды обрезаются до текущих лимитов.
func (m *Monitor) LoadCheckpoint(path string) error {
	compressed, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ошибка чтения истории мониторинга: %w", err)
	}

	data, err := decompress(compressed)
	if err != nil {
		return err
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return fmt.Errorf("ошибка разбора истории мониторинга: %w", err)
	}
	if cp.Version != checkpointVersion {
		return fmt.Errorf("неподдерживаемая версия истории мониторинга: %d", cp.Version)
	}

	m.snapshots.replace(func([]model.UsageSnapshot) []model.UsageSnapshot { return nil })
	m.snapshots.append(cp.Snapshots...)
	m.uptime.replace(func([]model.UptimeRecord) []model.UptimeRecord { return nil })
	m.uptime.append(cp.Uptime...)
	m.alerts.replace(func([]model.PerformanceAlert) []model.PerformanceAlert {
		return append([]model.PerformanceAlert(nil), cp.Alerts...)
	})
	activeAlerts.Set(float64(m.ActiveAlertCount()))

	m.logger.Info("История мониторинга восстановлена",
		slog.String("path", path),
		slog.Time("saved_at", cp.SavedAt),
		slog.Int("snapshots", len(cp.Snapshots)),
		slog.Int("uptime_records", len(cp.Uptime)),
		slog.Int("alerts", len(cp.Alerts)),
	)
	return nil
}

func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd encoder: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd decoder: %w", err)
	}
	defer decoder.Close()

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки истории мониторинга: %w", err)
	}
	return out, nil
}
