package health

import (
	"fmt"
	"time"
)

// Thresholds — пороги оценки состояния.
type Thresholds struct {
	// OfflineAfter — окно, в котором должна быть хотя бы одна успешная проверка
	OfflineAfter time.Duration
	// DegradedUptimePercent — uptime ниже порога даёт degraded
	DegradedUptimePercent float64
	// DegradedStorageUtilization — загрузка хранилища выше порога даёт degraded
	DegradedStorageUtilization float64
}

// DefaultThresholds — 30 минут, uptime 95%, хранилище 95%.
var DefaultThresholds = Thresholds{
	OfflineAfter:               30 * time.Minute,
	DegradedUptimePercent:      95,
	DegradedStorageUtilization: 95,
}

// Inputs — данные для оценки состояния участника.
type Inputs struct {
	Now time.Time
	// RegisteredAt — самое раннее время регистрации ресурсов участника
	RegisteredAt time.Time
	// LastSeen — время последней успешной проверки доступности (zero — не было)
	LastSeen time.Time
	// UptimePercent — uptime за скользящее окно
	UptimePercent float64
	// HasUptimeData — в окне есть хотя бы одна проверка
	HasUptimeData bool
	// StorageUtilization — загрузка хранилища в процентах (0, если нет storage)
	StorageUtilization float64
}

// Evaluate вычисляет состояние участника и причину.
//
// offline — нет успешной проверки за OfflineAfter (после регистрации
// участник получает такое же окно до первой проверки).
// degraded — uptime ниже порога или хранилище заполнено выше порога.
// healthy — иначе.
func Evaluate(in Inputs, th Thresholds) (Status, string) {
	cutoff := in.Now.Add(-th.OfflineAfter)

	if in.LastSeen.IsZero() || in.LastSeen.Before(cutoff) {
		if in.LastSeen.IsZero() && !in.RegisteredAt.IsZero() && in.RegisteredAt.After(cutoff) {
			return StatusHealthy, "ожидается первая проверка доступности"
		}
		return StatusOffline, fmt.Sprintf("нет успешных проверок доступности за %s", th.OfflineAfter)
	}

	if in.HasUptimeData && in.UptimePercent < th.DegradedUptimePercent {
		return StatusDegraded, fmt.Sprintf("uptime %.2f%% ниже порога %.2f%%", in.UptimePercent, th.DegradedUptimePercent)
	}

	if in.StorageUtilization > th.DegradedStorageUtilization {
		return StatusDegraded, fmt.Sprintf("загрузка хранилища %.2f%% выше порога %.2f%%",
			in.StorageUtilization, th.DegradedStorageUtilization)
	}

	return StatusHealthy, "показатели в норме"
}
