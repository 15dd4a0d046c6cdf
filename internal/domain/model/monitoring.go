package model

import "time"

// UsageSnapshot — моментальный снимок использования ресурса участником.
type UsageSnapshot struct {
	ParticipantID string       `json:"participant_id"`
	Kind          ResourceKind `json:"kind"`
	Used          int64        `json:"used"`
	Total         int64        `json:"total"`
	Utilization   float64      `json:"utilization"`
	TakenAt       time.Time    `json:"taken_at"`
}

// UptimeRecord — результат проверки доступности участника.
type UptimeRecord struct {
	ParticipantID string        `json:"participant_id"`
	Reachable     bool          `json:"reachable"`
	Latency       time.Duration `json:"latency"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

// AlertSeverity — серьёзность алерта.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertCategory — категория алерта.
type AlertCategory string

const (
	AlertAvailability       AlertCategory = "availability"
	AlertStorageUtilization AlertCategory = "storage_utilization"
	AlertComputeUsage       AlertCategory = "compute_usage"
	AlertLatency            AlertCategory = "latency"
	AlertIntegrity          AlertCategory = "integrity"
)

// PerformanceAlert — алерт, созданный детектором аномалий.
// Закрывается только явным действием оператора.
type PerformanceAlert struct {
	ID string `json:"id"`
	// ParticipantID — участник; пустая строка для сетевых алертов
	ParticipantID string        `json:"participant_id,omitempty"`
	Severity      AlertSeverity `json:"severity"`
	Category      AlertCategory `json:"category"`
	Message       string        `json:"message"`
	CreatedAt     time.Time     `json:"created_at"`
	Resolved      bool          `json:"resolved"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy    string        `json:"resolved_by,omitempty"`
}
