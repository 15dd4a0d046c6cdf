package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/health"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/reward"
)

// CombinedReport вычисляет итоговое вознаграждение участника за период.
// Отчёт кэшируется на ReportCacheTTL и отправляется в ReportSink при первом вычислении,
// поэтому может отставать от текущего used не более чем на ReportCacheTTL.
// Каждый вызов получает собственную копию. Состояние выделений не изменяется.
func (m *Monitor) CombinedReport(ctx context.Context, participantID string, period model.Period) (*model.CombinedRewardReport, error) {
	allocs := m.allocations(participantID)
	if len(allocs) == 0 {
		return nil, &model.Error{
			Kind:        model.KindAllocationNotFound,
			Participant: participantID,
			Message:     fmt.Sprintf("у участника %s нет выделенных ресурсов", participantID),
		}
	}

	key := reportKey(participantID, period)
	if cached, ok := m.reports.Get(key); ok {
		reportCacheTotal.WithLabelValues("hit").Inc()
		return cloneReport(cached), nil
	}
	reportCacheTotal.WithLabelValues("miss").Inc()

	report := &model.CombinedRewardReport{
		ParticipantID: participantID,
		Period:        period,
		GeneratedAt:   m.now(),
	}

	var target *float64
	for _, a := range allocs {
		var (
			amount float64
			err    error
		)
		switch a.Kind {
		case model.KindStorage:
			amount, err = m.storage.CalculateReward(participantID, period)
			report.Storage = amount
		case model.KindCompute:
			amount, err = m.compute.CalculateReward(participantID, period)
			report.Compute = amount
		case model.KindBandwidth:
			amount, err = m.bandwidth.CalculateReward(participantID, period)
			report.Bandwidth = amount
		}
		if err != nil {
			return nil, fmt.Errorf("расчёт вознаграждения %s: %w", a.Kind, err)
		}
		if a.UptimeTarget != nil && (target == nil || *a.UptimeTarget > *target) {
			t := *a.UptimeTarget
			target = &t
		}
	}

	report.Subtotal = report.Storage + report.Compute + report.Bandwidth
	report.UptimePercent, _ = m.uptimeBetween(participantID, period.From, period.To)

	totals := reward.Finalize(report.Subtotal, report.UptimePercent, m.cfg.Bonus, target)
	report.UptimeBonus = totals.UptimeBonus
	report.PenaltyPercent = totals.PenaltyPercent
	report.Total = totals.Total

	if m.sink != nil {
		if err := m.sink.SaveReport(ctx, cloneReport(report)); err != nil {
			m.logger.Warn("Не удалось сохранить отчёт о вознаграждении",
				slog.String("participant_id", participantID),
				slog.String("error", err.Error()),
			)
		}
	}
	m.reports.Add(key, report)

	m.logger.Debug("Отчёт о вознаграждении вычислен",
		slog.String("participant_id", participantID),
		slog.Float64("subtotal", report.Subtotal),
		slog.Float64("uptime_percent", report.UptimePercent),
		slog.Float64("total", report.Total),
	)
	return cloneReport(report), nil
}

func cloneReport(r *model.CombinedRewardReport) *model.CombinedRewardReport {
	c := *r
	return &c
}

func reportKey(participantID string, period model.Period) string {
	return participantID + "|" + period.From.Format(time.RFC3339Nano) + "|" + period.To.Format(time.RFC3339Nano)
}

// ParticipantStatus — сводное состояние участника.
type ParticipantStatus struct {
	ParticipantID string              `json:"participant_id"`
	Status        health.Status       `json:"status"`
	Since         time.Time           `json:"since,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	UptimePercent float64             `json:"uptime_percent"`
	HasUptimeData bool                `json:"has_uptime_data"`
	LastSeen      time.Time           `json:"last_seen,omitempty"`
	Allocations   []*model.Allocation `json:"allocations"`
	History       []health.Transition `json:"history"`
}

// ParticipantStatus возвращает состояние участника.
// Участник, ещё не оценённый монитором, считается healthy.
func (m *Monitor) ParticipantStatus(participantID string) (*ParticipantStatus, error) {
	allocs := m.allocations(participantID)
	if len(allocs) == 0 {
		return nil, &model.Error{
			Kind:        model.KindAllocationNotFound,
			Participant: participantID,
			Message:     fmt.Sprintf("у участника %s нет выделенных ресурсов", participantID),
		}
	}

	now := m.now()
	st := &ParticipantStatus{
		ParticipantID: participantID,
		Status:        health.StatusHealthy,
		LastSeen:      m.lastSeen(participantID),
		Allocations:   allocs,
		History:       m.tracker.History(participantID),
	}
	if snap, ok := m.tracker.Get(participantID); ok {
		st.Status = snap.Status
		st.Since = snap.Since
		st.Reason = snap.Reason
	}
	st.UptimePercent, st.HasUptimeData = m.uptimeBetween(participantID, now.Add(-m.cfg.UptimeWindow), now)
	return st, nil
}

// ParticipantRank — ранг участника относительно средних по сети.
type ParticipantRank struct {
	ParticipantID string              `json:"participant_id"`
	Rank          reward.Rank         `json:"rank"`
	Contribution  reward.Contribution `json:"contribution"`
	Network       reward.Contribution `json:"network_average"`
}

// Rank ранжирует участника. Средние по сети считаются по всем участникам
// с хотя бы одним выделением.
func (m *Monitor) Rank(participantID string) (*ParticipantRank, error) {
	if len(m.allocations(participantID)) == 0 {
		return nil, &model.Error{
			Kind:        model.KindAllocationNotFound,
			Participant: participantID,
			Message:     fmt.Sprintf("у участника %s нет выделенных ресурсов", participantID),
		}
	}

	now := m.now()
	var (
		mine    reward.Contribution
		sum     reward.Contribution
		members int
	)
	for _, p := range m.ledger.Participants() {
		c := m.contribution(p, now)
		sum.StorageGB += c.StorageGB
		sum.Cores += c.Cores
		sum.BandwidthMbps += c.BandwidthMbps
		sum.UptimePercent += c.UptimePercent
		members++
		if p == participantID {
			mine = c
		}
	}

	n := float64(members)
	avg := reward.Contribution{
		StorageGB:     sum.StorageGB / n,
		Cores:         sum.Cores / n,
		BandwidthMbps: sum.BandwidthMbps / n,
		UptimePercent: sum.UptimePercent / n,
	}
	return &ParticipantRank{
		ParticipantID: participantID,
		Rank:          reward.Score(mine, avg),
		Contribution:  mine,
		Network:       avg,
	}, nil
}

// contribution — вклад участника: выделенные GB и ядра, средняя скорость канала, uptime за окно.
func (m *Monitor) contribution(participantID string, now time.Time) reward.Contribution {
	var c reward.Contribution
	for _, a := range m.allocations(participantID) {
		switch a.Kind {
		case model.KindStorage:
			c.StorageGB = model.ToGB(a.Total)
		case model.KindCompute:
			c.Cores = float64(a.Total)
		case model.KindBandwidth:
			c.BandwidthMbps = (a.UploadMbps + a.DownloadMbps) / 2
		}
	}
	c.UptimePercent, _ = m.uptimeBetween(participantID, now.Add(-m.cfg.UptimeWindow), now)
	return c
}

// NetworkStats — агрегированные показатели сети.
type NetworkStats struct {
	Participants int `json:"participants"`

	StorageParticipants       int     `json:"storage_participants"`
	StorageTotalBytes         int64   `json:"storage_total_bytes"`
	StorageUsedBytes          int64   `json:"storage_used_bytes"`
	AverageStorageUtilization float64 `json:"average_storage_utilization"`
	Objects                   int     `json:"objects"`
	ObjectBytes               int64   `json:"object_bytes"`

	ComputeParticipants       int     `json:"compute_participants"`
	ComputeTotalCores         int64   `json:"compute_total_cores"`
	ComputeUsedCores          int64   `json:"compute_used_cores"`
	AverageComputeUtilization float64 `json:"average_compute_utilization"`
	AverageBenchmarkScore     float64 `json:"average_benchmark_score"`

	BandwidthParticipants int           `json:"bandwidth_participants"`
	AverageUploadMbps     float64       `json:"average_upload_mbps"`
	AverageDownloadMbps   float64       `json:"average_download_mbps"`
	AverageLatency        time.Duration `json:"average_latency"`
	// LatencySamples — количество участников, для которых есть latency-выборки
	LatencySamples int `json:"latency_samples"`

	StatusCounts map[health.Status]int `json:"status_counts"`
	ActiveAlerts int                   `json:"active_alerts"`
}

// NetworkStats вычисляет агрегированные показатели сети по текущему состоянию.
func (m *Monitor) NetworkStats() NetworkStats {
	stats := NetworkStats{
		Participants: len(m.ledger.Participants()),
		StatusCounts: m.tracker.Counts(),
		ActiveAlerts: m.ActiveAlertCount(),
	}

	storage := m.ledger.List(model.KindStorage)
	var utilSum float64
	for _, a := range storage {
		stats.StorageTotalBytes += a.Total
		stats.StorageUsedBytes += a.Used
		utilSum += a.Utilization()
	}
	if n := len(storage); n > 0 {
		stats.StorageParticipants = n
		stats.AverageStorageUtilization = utilSum / float64(n)
	}
	stats.Objects, stats.ObjectBytes = m.storage.CatalogStats()

	compute := m.ledger.List(model.KindCompute)
	var scoreSum float64
	utilSum = 0
	for _, a := range compute {
		stats.ComputeTotalCores += a.Total
		stats.ComputeUsedCores += a.Used
		utilSum += a.Utilization()
		scoreSum += a.BenchmarkScore
	}
	if n := len(compute); n > 0 {
		stats.ComputeParticipants = n
		stats.AverageComputeUtilization = utilSum / float64(n)
		stats.AverageBenchmarkScore = scoreSum / float64(n)
	}

	bandwidth := m.ledger.List(model.KindBandwidth)
	var (
		upSum, downSum float64
		latencySum     time.Duration
	)
	for _, a := range bandwidth {
		upSum += a.UploadMbps
		downSum += a.DownloadMbps
		avg, ok, err := m.bandwidth.AverageLatency(a.ParticipantID)
		if err != nil || !ok {
			continue
		}
		latencySum += avg
		stats.LatencySamples++
	}
	if n := len(bandwidth); n > 0 {
		stats.BandwidthParticipants = n
		stats.AverageUploadMbps = upSum / float64(n)
		stats.AverageDownloadMbps = downSum / float64(n)
	}
	if stats.LatencySamples > 0 {
		stats.AverageLatency = latencySum / time.Duration(stats.LatencySamples)
	}
	return stats
}
