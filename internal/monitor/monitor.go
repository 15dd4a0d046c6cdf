// Пакет monitor — периодический сбор состояния ресурсов участников.
//
// На каждом тике монитор снимает UsageSnapshot по каждому выделению,
// проверяет доступность участника (UptimeRecord), пересчитывает состояние
// healthy/degraded/offline и проверяет сетевые пороги аномалий.
// Алерты не закрываются автоматически: только через ResolveAlert.
//
// Временные ряды и алерты хранятся как неизменяемые срезы за atomic.Pointer,
// читатели не блокируются писателями.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/allocation"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/health"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/probe"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/reward"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/service"
)

// Prometheus метрики мониторинга
var (
	// tickDurationSeconds — длительность тика мониторинга.
	tickDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rc_monitor_tick_duration_seconds",
		Help:    "Длительность тика мониторинга в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	// activeAlerts — количество незакрытых алертов.
	activeAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rc_active_alerts",
		Help: "Количество незакрытых алертов",
	})

	// participantsByStatus — количество участников по состоянию.
	participantsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rc_participants_status",
		Help: "Количество участников по состоянию (healthy, degraded, offline)",
	}, []string{"status"})

	// alertsRaisedTotal — созданные алерты по категории и серьёзности.
	alertsRaisedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rc_alerts_raised_total",
		Help: "Общее количество созданных алертов",
	}, []string{"category", "severity"})

	// reportCacheTotal — обращения к кэшу отчётов о вознаграждении.
	reportCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rc_report_cache_total",
		Help: "Обращения к кэшу отчётов о вознаграждении (hit, miss)",
	}, []string{"result"})
)

// RewardSource — источник вознаграждения за один вид ресурса.
type RewardSource interface {
	CalculateReward(participantID string, period model.Period) (float64, error)
}

// StorageSource — то, что монитору нужно от сервиса хранения.
type StorageSource interface {
	RewardSource
	VerifyAllocation(ctx context.Context, participantID string) (*service.VerifyReport, error)
	CatalogStats() (int, int64)
}

// BandwidthSource — то, что монитору нужно от сервиса трафика.
type BandwidthSource interface {
	RewardSource
	RecordLatencySample(sample model.LatencySample) error
	AverageLatency(participantID string) (time.Duration, bool, error)
}

// ReportSink принимает вычисленные отчёты (outbox для системы расчётов).
type ReportSink interface {
	SaveReport(ctx context.Context, report *model.CombinedRewardReport) error
}

// Config — параметры монитора.
type Config struct {
	// NodeID — идентификатор координатора (источник latency-выборок)
	NodeID       string
	Thresholds   health.Thresholds
	UptimeWindow time.Duration
	// SnapshotRetention, UptimeRetention — максимальная длина рядов
	SnapshotRetention int
	UptimeRetention   int
	ProbeTimeout      time.Duration
	Bonus             reward.BonusPolicy
	ReportCacheSize   int
	ReportCacheTTL    time.Duration
	// AlertRetention — срок хранения закрытых алертов (0 — без ограничения)
	AlertRetention time.Duration
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		NodeID:            "coordinator",
		Thresholds:        health.DefaultThresholds,
		UptimeWindow:      30 * 24 * time.Hour,
		SnapshotRetention: 1000,
		UptimeRetention:   10000,
		ProbeTimeout:      5 * time.Second,
		Bonus:             reward.DefaultBonusPolicy,
		ReportCacheSize:   1024,
		ReportCacheTTL:    5 * time.Minute,
		AlertRetention:    30 * 24 * time.Hour,
	}
}

// Monitor — агрегатор состояния ресурсов.
type Monitor struct {
	ledger    *allocation.Ledger
	storage   StorageSource
	compute   RewardSource
	bandwidth BandwidthSource
	pinger    probe.Pinger
	tracker   *health.Tracker
	sink      ReportSink
	cfg       Config

	snapshots *series[model.UsageSnapshot]
	uptime    *series[model.UptimeRecord]
	alerts    *series[model.PerformanceAlert]
	reports   *expirable.LRU[string, *model.CombinedRewardReport]

	now    func() time.Time
	logger *slog.Logger
}

// New создаёт монитор.
func New(
	ledger *allocation.Ledger,
	storage StorageSource,
	compute RewardSource,
	bandwidth BandwidthSource,
	pinger probe.Pinger,
	tracker *health.Tracker,
	cfg Config,
	logger *slog.Logger,
) *Monitor {
	if cfg.ReportCacheSize <= 0 {
		cfg.ReportCacheSize = 1024
	}
	return &Monitor{
		ledger:    ledger,
		storage:   storage,
		compute:   compute,
		bandwidth: bandwidth,
		pinger:    pinger,
		tracker:   tracker,
		cfg:       cfg,
		snapshots: newSeries[model.UsageSnapshot](cfg.SnapshotRetention),
		uptime:    newSeries[model.UptimeRecord](cfg.UptimeRetention),
		alerts:    newSeries[model.PerformanceAlert](0),
		reports:   expirable.NewLRU[string, *model.CombinedRewardReport](cfg.ReportCacheSize, nil, cfg.ReportCacheTTL),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "monitor")),
	}
}

// SetReportSink подключает outbox отчётов. nil — отчёты никуда не отправляются.
func (m *Monitor) SetReportSink(sink ReportSink) {
	m.sink = sink
}

// TickResult — итог одного тика мониторинга.
type TickResult struct {
	Participants int
	Snapshots    int
	Unreachable  int
	AlertsRaised int
	Duration     time.Duration
}

// Tick выполняет один цикл мониторинга.
func (m *Monitor) Tick(ctx context.Context) (*TickResult, error) {
	start := time.Now()
	now := m.now()
	result := &TickResult{}

	participants := m.ledger.Participants()
	var (
		snaps []model.UsageSnapshot
		ups   []model.UptimeRecord
	)
	for _, p := range participants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		allocs := m.allocations(p)
		for _, a := range allocs {
			snaps = append(snaps, model.UsageSnapshot{
				ParticipantID: p,
				Kind:          a.Kind,
				Used:          a.Used,
				Total:         a.Total,
				Utilization:   a.Utilization(),
				TakenAt:       now,
			})
		}

		rec := m.checkUptime(ctx, p, allocs, now)
		if !rec.Reachable {
			result.Unreachable++
		}
		ups = append(ups, rec)
	}
	m.snapshots.append(snaps...)
	m.uptime.append(ups...)

	for _, p := range participants {
		if m.evaluate(p, now) {
			result.AlertsRaised++
		}
	}
	result.AlertsRaised += m.checkNetwork(now)

	result.Participants = len(participants)
	result.Snapshots = len(snaps)
	result.Duration = time.Since(start)

	tickDurationSeconds.Observe(result.Duration.Seconds())
	m.updateGauges()

	m.logger.Info("Тик мониторинга завершён",
		slog.Int("participants", result.Participants),
		slog.Int("snapshots", result.Snapshots),
		slog.Int("unreachable", result.Unreachable),
		slog.Int("alerts_raised", result.AlertsRaised),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// allocations возвращает все выделения участника.
func (m *Monitor) allocations(participantID string) []*model.Allocation {
	var result []*model.Allocation
	for _, kind := range model.AllKinds {
		if a, err := m.ledger.Get(participantID, kind); err == nil {
			result = append(result, a)
		}
	}
	return result
}

// checkUptime пингует участника и сохраняет latency-выборку для bandwidth.
func (m *Monitor) checkUptime(ctx context.Context, participantID string, allocs []*model.Allocation, now time.Time) model.UptimeRecord {
	target := probe.Target{ParticipantID: participantID}
	hasBandwidth := false
	for _, a := range allocs {
		if target.Endpoint == "" && a.Endpoint != "" {
			target.Endpoint = a.Endpoint
		}
		if a.Kind == model.KindBandwidth {
			hasBandwidth = true
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	latency, err := m.pinger.Ping(pingCtx, target)
	cancel()

	rec := model.UptimeRecord{ParticipantID: participantID, Reachable: err == nil, Latency: latency, RecordedAt: now}
	if err != nil {
		m.logger.Warn("Участник недоступен",
			slog.String("participant_id", participantID),
			slog.String("error", err.Error()),
		)
		rec.Latency = 0
		return rec
	}

	if hasBandwidth && m.bandwidth != nil {
		sample := model.LatencySample{From: m.cfg.NodeID, To: participantID, Latency: latency, RecordedAt: now}
		if err := m.bandwidth.RecordLatencySample(sample); err != nil {
			m.logger.Warn("Не удалось сохранить latency-выборку",
				slog.String("participant_id", participantID),
				slog.String("error", err.Error()),
			)
		}
	}
	return rec
}

// evaluate пересчитывает состояние участника. Возвращает true, если создан алерт.
func (m *Monitor) evaluate(participantID string, now time.Time) bool {
	allocs := m.allocations(participantID)
	if len(allocs) == 0 {
		return false
	}

	in := health.Inputs{Now: now, LastSeen: m.lastSeen(participantID)}
	for _, a := range allocs {
		if in.RegisteredAt.IsZero() || a.RegisteredAt.Before(in.RegisteredAt) {
			in.RegisteredAt = a.RegisteredAt
		}
		if a.Kind == model.KindStorage {
			in.StorageUtilization = a.Utilization()
		}
	}
	in.UptimePercent, in.HasUptimeData = m.uptimeBetween(participantID, now.Add(-m.cfg.UptimeWindow), now)

	status, reason := health.Evaluate(in, m.cfg.Thresholds)
	from, changed, err := m.tracker.Set(participantID, status, reason, now)
	if err != nil || !changed {
		return false
	}

	if from != "" {
		m.logger.Info("Состояние участника изменилось",
			slog.String("participant_id", participantID),
			slog.String("from", string(from)),
			slog.String("to", string(status)),
			slog.String("reason", reason),
		)
	}

	switch status {
	case health.StatusOffline:
		return m.raiseAlert(participantID, model.SeverityCritical, model.AlertAvailability,
			"Участник offline: "+reason, now)
	case health.StatusDegraded:
		category := model.AlertAvailability
		uptimeLow := in.HasUptimeData && in.UptimePercent < m.cfg.Thresholds.DegradedUptimePercent
		if !uptimeLow && in.StorageUtilization > m.cfg.Thresholds.DegradedStorageUtilization {
			category = model.AlertStorageUtilization
		}
		return m.raiseAlert(participantID, model.SeverityWarning, category,
			"Участник degraded: "+reason, now)
	default:
		return false
	}
}

// lastSeen — время последней успешной проверки доступности.
func (m *Monitor) lastSeen(participantID string) time.Time {
	records := m.uptime.load()
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].ParticipantID == participantID && records[i].Reachable {
			return records[i].RecordedAt
		}
	}
	return time.Time{}
}

// uptimeBetween — доля успешных проверок в [from, to] в процентах.
// ok == false, если проверок не было.
func (m *Monitor) uptimeBetween(participantID string, from, to time.Time) (float64, bool) {
	var total, up int
	for _, r := range m.uptime.load() {
		if r.ParticipantID != participantID || r.RecordedAt.Before(from) || r.RecordedAt.After(to) {
			continue
		}
		total++
		if r.Reachable {
			up++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(up) / float64(total) * 100, true
}

// UptimePercent — uptime участника за период.
func (m *Monitor) UptimePercent(participantID string, period model.Period) (float64, bool) {
	return m.uptimeBetween(participantID, period.From, period.To)
}

// RecordUptime добавляет внешние записи о доступности (например, из identity resolver).
func (m *Monitor) RecordUptime(records ...model.UptimeRecord) {
	m.uptime.append(records...)
}

// Snapshots возвращает последние limit снимков участника, новые первыми.
func (m *Monitor) Snapshots(participantID string, limit int) []model.UsageSnapshot {
	return lastMatching(m.snapshots.load(), limit, func(s model.UsageSnapshot) bool {
		return s.ParticipantID == participantID
	})
}

// UptimeRecords возвращает последние limit записей доступности участника, новые первыми.
func (m *Monitor) UptimeRecords(participantID string, limit int) []model.UptimeRecord {
	return lastMatching(m.uptime.load(), limit, func(r model.UptimeRecord) bool {
		return r.ParticipantID == participantID
	})
}

func lastMatching[T any](items []T, limit int, keep func(T) bool) []T {
	result := []T{}
	for i := len(items) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		if keep(items[i]) {
			result = append(result, items[i])
		}
	}
	return result
}

// VerifyStorage проверяет реплики всех storage-участников
// и создаёт integrity-алерты при пропавших или повреждённых репликах.
func (m *Monitor) VerifyStorage(ctx context.Context) (int, error) {
	raised := 0
	for _, a := range m.ledger.List(model.KindStorage) {
		if err := ctx.Err(); err != nil {
			return raised, err
		}
		report, err := m.storage.VerifyAllocation(ctx, a.ParticipantID)
		if err != nil {
			m.logger.Warn("Проверка реплик не удалась",
				slog.String("participant_id", a.ParticipantID),
				slog.String("error", err.Error()),
			)
			continue
		}

		bad := report.Missing + report.Corrupted
		if bad == 0 {
			continue
		}
		severity := model.SeverityWarning
		if bad == report.Checked {
			severity = model.SeverityCritical
		}
		msg := formatIntegrity(report)
		if m.raiseAlert(a.ParticipantID, severity, model.AlertIntegrity, msg, m.now()) {
			raised++
		}
	}
	m.updateGauges()
	return raised, nil
}

func (m *Monitor) updateGauges() {
	activeAlerts.Set(float64(m.ActiveAlertCount()))
	counts := m.tracker.Counts()
	for _, st := range []health.Status{health.StatusHealthy, health.StatusDegraded, health.StatusOffline} {
		participantsByStatus.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
