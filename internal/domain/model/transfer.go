package model

import (
	"fmt"
	"time"
)

// Direction — направление передачи данных.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// ParseDirection преобразует строку в Direction.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirectionUpload, DirectionDownload:
		return d, nil
	default:
		return "", fmt.Errorf("недопустимое направление передачи: %q", s)
	}
}

// TransferPurpose — назначение передачи.
type TransferPurpose string

const (
	PurposeReplication TransferPurpose = "replication"
	PurposeRetrieval   TransferPurpose = "retrieval"
	PurposeTask        TransferPurpose = "task"
	PurposeProbe       TransferPurpose = "probe"
	PurposeOther       TransferPurpose = "other"
)

// ParseTransferPurpose преобразует строку в TransferPurpose. Пустая строка — other.
func ParseTransferPurpose(s string) (TransferPurpose, error) {
	switch p := TransferPurpose(s); p {
	case "":
		return PurposeOther, nil
	case PurposeReplication, PurposeRetrieval, PurposeTask, PurposeProbe, PurposeOther:
		return p, nil
	default:
		return "", fmt.Errorf("недопустимое назначение передачи: %q", s)
	}
}

// TransferRecord — неизменяемая запись о передаче данных.
type TransferRecord struct {
	ID             string          `json:"id"`
	ParticipantID  string          `json:"participant_id"`
	Direction      Direction       `json:"direction"`
	Bytes          int64           `json:"bytes"`
	Duration       time.Duration   `json:"duration"`
	ThroughputMbps float64         `json:"throughput_mbps"`
	Purpose        TransferPurpose `json:"purpose"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

// Throughput вычисляет пропускную способность в Mbps.
// Нулевая длительность даёт 0.
func Throughput(bytes int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes) * 8 / 1e6 / d.Seconds()
}

// LatencySample — одно измерение задержки между участниками.
type LatencySample struct {
	From       string        `json:"from"`
	To         string        `json:"to"`
	Latency    time.Duration `json:"latency"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// MonthKey возвращает ключ календарного месяца в UTC ("2006-01").
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
