package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/service"
)

// Сетевые пороги аномалий.
const (
	storageWarnPercent     = 85
	storageCriticalPercent = 95
	computeWarnPercent     = 80
	computeCriticalPercent = 95
	latencyWarn            = 200 * time.Millisecond
	latencyCritical        = 500 * time.Millisecond
)

// raiseAlert создаёт алерт. Если незакрытый алерт той же категории
// для того же участника уже есть, новый не создаётся (возвращает false).
func (m *Monitor) raiseAlert(participantID string, severity model.AlertSeverity, category model.AlertCategory, message string, now time.Time) bool {
	raised := false
	m.alerts.replace(func(current []model.PerformanceAlert) []model.PerformanceAlert {
		for _, a := range current {
			if !a.Resolved && a.ParticipantID == participantID && a.Category == category && a.Severity == severity {
				return current
			}
		}
		raised = true
		next := make([]model.PerformanceAlert, len(current), len(current)+1)
		copy(next, current)
		return append(next, model.PerformanceAlert{
			ID:            uuid.New().String(),
			ParticipantID: participantID,
			Severity:      severity,
			Category:      category,
			Message:       message,
			CreatedAt:     now,
		})
	})
	if !raised {
		return false
	}

	alertsRaisedTotal.WithLabelValues(string(category), string(severity)).Inc()
	level := slog.LevelWarn
	if severity == model.SeverityCritical {
		level = slog.LevelError
	}
	m.logger.Log(context.Background(), level, "Создан алерт",
		slog.String("participant_id", participantID),
		slog.String("severity", string(severity)),
		slog.String("category", string(category)),
		slog.String("message", message),
	)
	return true
}

// checkNetwork проверяет средние по сети показатели. Возвращает количество новых алертов.
func (m *Monitor) checkNetwork(now time.Time) int {
	raised := 0
	stats := m.NetworkStats()

	if stats.StorageTotalBytes > 0 {
		if sev, ok := severityFor(stats.AverageStorageUtilization, storageWarnPercent, storageCriticalPercent); ok {
			msg := fmt.Sprintf("средняя загрузка хранилища сети %.2f%%", stats.AverageStorageUtilization)
			if m.raiseAlert("", sev, model.AlertStorageUtilization, msg, now) {
				raised++
			}
		}
	}

	if stats.ComputeTotalCores > 0 {
		if sev, ok := severityFor(stats.AverageComputeUtilization, computeWarnPercent, computeCriticalPercent); ok {
			msg := fmt.Sprintf("средняя загрузка вычислительных ядер сети %.2f%%", stats.AverageComputeUtilization)
			if m.raiseAlert("", sev, model.AlertComputeUsage, msg, now) {
				raised++
			}
		}
	}

	if stats.LatencySamples > 0 {
		ms := float64(stats.AverageLatency) / float64(time.Millisecond)
		if sev, ok := severityFor(ms, float64(latencyWarn/time.Millisecond), float64(latencyCritical/time.Millisecond)); ok {
			msg := fmt.Sprintf("средняя задержка сети %s", stats.AverageLatency)
			if m.raiseAlert("", sev, model.AlertLatency, msg, now) {
				raised++
			}
		}
	}
	return raised
}

// severityFor — critical при value >= critical, warning при value >= warn.
func severityFor(value, warn, critical float64) (model.AlertSeverity, bool) {
	switch {
	case value >= critical:
		return model.SeverityCritical, true
	case value >= warn:
		return model.SeverityWarning, true
	default:
		return "", false
	}
}

func formatIntegrity(r *service.VerifyReport) string {
	return fmt.Sprintf("проверка реплик: проверено %d, отсутствует %d, повреждено %d",
		r.Checked, r.Missing, r.Corrupted)
}

// Alerts возвращает алерты, новые первыми. activeOnly — только незакрытые.
func (m *Monitor) Alerts(activeOnly bool) []model.PerformanceAlert {
	return lastMatching(m.alerts.load(), 0, func(a model.PerformanceAlert) bool {
		return !activeOnly || !a.Resolved
	})
}

// ActiveAlertCount — количество незакрытых алертов.
func (m *Monitor) ActiveAlertCount() int {
	n := 0
	for _, a := range m.alerts.load() {
		if !a.Resolved {
			n++
		}
	}
	return n
}

// PruneAlerts удаляет алерты, закрытые раньше now - AlertRetention.
// Незакрытые алерты не удаляются. Возвращает количество удалённых.
func (m *Monitor) PruneAlerts(now time.Time) int {
	if m.cfg.AlertRetention <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.AlertRetention)
	removed := 0
	m.alerts.replace(func(current []model.PerformanceAlert) []model.PerformanceAlert {
		next := make([]model.PerformanceAlert, 0, len(current))
		for _, a := range current {
			if a.Resolved && a.ResolvedAt != nil && a.ResolvedAt.Before(cutoff) {
				continue
			}
			next = append(next, a)
		}
		removed = len(current) - len(next)
		if removed == 0 {
			return current
		}
		return next
	})
	if removed > 0 {
		m.logger.Info("Удалены закрытые алерты",
			slog.Int("count", removed),
			slog.Time("cutoff", cutoff),
		)
	}
	return removed
}

// ResolveAlert закрывает алерт. Повторное закрытие не меняет исходную отметку.
func (m *Monitor) ResolveAlert(id, resolvedBy string) (*model.PerformanceAlert, error) {
	var (
		found    bool
		resolved model.PerformanceAlert
	)
	now := m.now()
	m.alerts.replace(func(current []model.PerformanceAlert) []model.PerformanceAlert {
		for i := range current {
			if current[i].ID != id {
				continue
			}
			found = true
			if current[i].Resolved {
				resolved = current[i]
				return current
			}
			next := make([]model.PerformanceAlert, len(current))
			copy(next, current)
			next[i].Resolved = true
			next[i].ResolvedAt = &now
			next[i].ResolvedBy = resolvedBy
			resolved = next[i]
			return next
		}
		return current
	})
	if !found {
		return nil, model.NewError(model.KindAlertNotFound, "алерт %s не найден", id)
	}

	activeAlerts.Set(float64(m.ActiveAlertCount()))
	m.logger.Info("Алерт закрыт",
		slog.String("alert_id", id),
		slog.String("resolved_by", resolvedBy),
	)
	return &resolved, nil
}
