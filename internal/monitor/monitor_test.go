package monitor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/allocation"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/health"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/probe"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeStorage — StorageSource с фиксированными ответами.
type fakeStorage struct {
	reward float64
	report *service.VerifyReport
}

func (f *fakeStorage) CalculateReward(string, model.Period) (float64, error) { return f.reward, nil }

func (f *fakeStorage) VerifyAllocation(_ context.Context, p string) (*service.VerifyReport, error) {
	if f.report == nil {
		return &service.VerifyReport{ParticipantID: p}, nil
	}
	r := *f.report
	r.ParticipantID = p
	return &r, nil
}

func (f *fakeStorage) CatalogStats() (int, int64) { return 0, 0 }

type fakeCompute struct{ reward float64 }

func (f *fakeCompute) CalculateReward(string, model.Period) (float64, error) { return f.reward, nil }

// fakeBandwidth — BandwidthSource, хранит latency-выборки в памяти.
type fakeBandwidth struct {
	mu      sync.Mutex
	reward  float64
	samples []model.LatencySample
}

func (f *fakeBandwidth) CalculateReward(string, model.Period) (float64, error) { return f.reward, nil }

func (f *fakeBandwidth) RecordLatencySample(s model.LatencySample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s)
	return nil
}

func (f *fakeBandwidth) AverageLatency(p string) (time.Duration, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		sum time.Duration
		n   int
	)
	for _, s := range f.samples {
		if s.To == p {
			sum += s.Latency
			n++
		}
	}
	if n == 0 {
		return 0, false, nil
	}
	return sum / time.Duration(n), true, nil
}

// fakePinger — недоступные участники перечислены в down.
type fakePinger struct {
	mu      sync.Mutex
	latency time.Duration
	down    map[string]bool
}

func (p *fakePinger) Ping(_ context.Context, t probe.Target) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down[t.ParticipantID] {
		return 0, errors.New("connection refused")
	}
	return p.latency, nil
}

func (p *fakePinger) setDown(participantID string, down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down[participantID] = down
}

// fakeSink — ReportSink, считает сохранённые отчёты.
type fakeSink struct {
	mu    sync.Mutex
	saved []*model.CombinedRewardReport
}

func (s *fakeSink) SaveReport(_ context.Context, r *model.CombinedRewardReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, r)
	return nil
}

type monitorEnv struct {
	ledger    *allocation.Ledger
	storage   *fakeStorage
	compute   *fakeCompute
	bandwidth *fakeBandwidth
	pinger    *fakePinger
	tracker   *health.Tracker
	monitor   *Monitor
	clock     time.Time
}

func newMonitorEnv(t *testing.T, mutate func(*Config)) *monitorEnv {
	t.Helper()

	env := &monitorEnv{
		ledger:    allocation.New(t.TempDir(), testLogger()),
		storage:   &fakeStorage{},
		compute:   &fakeCompute{},
		bandwidth: &fakeBandwidth{},
		pinger:    &fakePinger{latency: 10 * time.Millisecond, down: map[string]bool{}},
		tracker:   health.NewTracker(),
		clock:     time.Now().UTC(),
	}
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	env.monitor = New(env.ledger, env.storage, env.compute, env.bandwidth, env.pinger, env.tracker, cfg, testLogger())
	env.monitor.now = func() time.Time { return env.clock }
	return env
}

func (e *monitorEnv) register(t *testing.T, a model.Allocation) {
	t.Helper()
	if _, err := e.ledger.Register(a); err != nil {
		t.Fatalf("Register(%s, %s): %v", a.ParticipantID, a.Kind, err)
	}
}

func (e *monitorEnv) tick(t *testing.T) *TickResult {
	t.Helper()
	res, err := e.monitor.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return res
}

func TestTick_SnapshotsAndUptime(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindCompute, Total: 4})

	res := env.tick(t)
	if res.Participants != 1 || res.Snapshots != 2 || res.Unreachable != 0 {
		t.Errorf("TickResult: получили %+v", res)
	}

	if got := len(env.monitor.Snapshots("p1", 0)); got != 2 {
		t.Errorf("snapshots: хотели 2, получили %d", got)
	}
	records := env.monitor.UptimeRecords("p1", 0)
	if len(records) != 1 || !records[0].Reachable {
		t.Fatalf("uptime records: получили %+v", records)
	}
	if records[0].Latency != 10*time.Millisecond {
		t.Errorf("latency: хотели 10ms, получили %s", records[0].Latency)
	}

	snap, ok := env.tracker.Get("p1")
	if !ok || snap.Status != health.StatusHealthy {
		t.Errorf("status: хотели healthy, получили %+v", snap)
	}
	if got := len(env.monitor.Alerts(false)); got != 0 {
		t.Errorf("alerts: хотели 0, получили %d", got)
	}
}

func TestTick_SnapshotRetention(t *testing.T) {
	env := newMonitorEnv(t, func(c *Config) { c.SnapshotRetention = 2 })
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})

	for i := 0; i < 3; i++ {
		env.clock = env.clock.Add(time.Minute)
		env.tick(t)
	}

	snaps := env.monitor.Snapshots("p1", 0)
	if len(snaps) != 2 {
		t.Fatalf("snapshots: хотели 2, получили %d", len(snaps))
	}
	if !snaps[0].TakenAt.Equal(env.clock) {
		t.Errorf("первым должен идти последний снимок: %s != %s", snaps[0].TakenAt, env.clock)
	}
}

func TestTick_OfflineRaisesCriticalOnce(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})
	env.pinger.setDown("p1", true)
	env.clock = env.clock.Add(time.Hour)

	res := env.tick(t)
	if res.Unreachable != 1 {
		t.Errorf("unreachable: хотели 1, получили %d", res.Unreachable)
	}
	snap, _ := env.tracker.Get("p1")
	if snap.Status != health.StatusOffline {
		t.Fatalf("status: хотели offline, получили %s", snap.Status)
	}

	alerts := env.monitor.Alerts(true)
	if len(alerts) != 1 {
		t.Fatalf("alerts: хотели 1, получили %d", len(alerts))
	}
	if alerts[0].Severity != model.SeverityCritical || alerts[0].Category != model.AlertAvailability {
		t.Errorf("alert: получили %+v", alerts[0])
	}

	env.clock = env.clock.Add(5 * time.Minute)
	env.tick(t)
	if got := len(env.monitor.Alerts(true)); got != 1 {
		t.Errorf("повторный тик не должен создавать алерт: получили %d", got)
	}
}

func TestTick_NewParticipantGracePeriod(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})
	env.pinger.setDown("p1", true)

	env.tick(t)

	snap, _ := env.tracker.Get("p1")
	if snap.Status == health.StatusOffline {
		t.Errorf("только что зарегистрированный участник не должен быть offline")
	}
}

func TestTick_DegradedOnLowUptime(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})

	for i := 0; i < 9; i++ {
		env.clock = env.clock.Add(time.Minute)
		env.tick(t)
	}
	env.pinger.setDown("p1", true)
	env.clock = env.clock.Add(time.Minute)
	env.tick(t)

	snap, _ := env.tracker.Get("p1")
	if snap.Status != health.StatusDegraded {
		t.Fatalf("status: хотели degraded, получили %s (%s)", snap.Status, snap.Reason)
	}
	alerts := env.monitor.Alerts(true)
	if len(alerts) != 1 || alerts[0].Severity != model.SeverityWarning {
		t.Fatalf("alerts: получили %+v", alerts)
	}
	if !env.tracker.CanPerform("p1", health.OpSchedule) || env.tracker.CanPerform("p1", health.OpReplicate) {
		t.Errorf("degraded участник: schedule разрешён, replicate запрещён")
	}
}

func TestTick_RecordsLatencyForBandwidth(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "bw", Kind: model.KindBandwidth, Total: 100, Endpoint: "bw:9000"})
	env.register(t, model.Allocation{ParticipantID: "st", Kind: model.KindStorage, Total: 100})

	env.tick(t)

	if len(env.bandwidth.samples) != 1 {
		t.Fatalf("samples: хотели 1, получили %d", len(env.bandwidth.samples))
	}
	s := env.bandwidth.samples[0]
	if s.From != "coordinator" || s.To != "bw" || s.Latency != 10*time.Millisecond {
		t.Errorf("sample: получили %+v", s)
	}
}

func TestTick_NetworkAnomalies(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, env *monitorEnv)
		category model.AlertCategory
		severity model.AlertSeverity
	}{
		{
			name: "storage 90%",
			setup: func(t *testing.T, env *monitorEnv) {
				env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})
				if err := env.ledger.Reserve("p1", model.KindStorage, 90); err != nil {
					t.Fatal(err)
				}
			},
			category: model.AlertStorageUtilization,
			severity: model.SeverityWarning,
		},
		{
			name: "compute 100%",
			setup: func(t *testing.T, env *monitorEnv) {
				env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindCompute, Total: 2})
				if err := env.ledger.Reserve("p1", model.KindCompute, 2); err != nil {
					t.Fatal(err)
				}
			},
			category: model.AlertComputeUsage,
			severity: model.SeverityCritical,
		},
		{
			name: "latency 300ms",
			setup: func(t *testing.T, env *monitorEnv) {
				env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindBandwidth, Total: 100})
				env.pinger.latency = 300 * time.Millisecond
			},
			category: model.AlertLatency,
			severity: model.SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newMonitorEnv(t, nil)
			tt.setup(t, env)

			env.tick(t)

			var found []model.PerformanceAlert
			for _, a := range env.monitor.Alerts(true) {
				if a.ParticipantID == "" {
					found = append(found, a)
				}
			}
			if len(found) != 1 {
				t.Fatalf("сетевые алерты: хотели 1, получили %+v", found)
			}
			if found[0].Category != tt.category || found[0].Severity != tt.severity {
				t.Errorf("alert: хотели %s/%s, получили %s/%s",
					tt.category, tt.severity, found[0].Category, found[0].Severity)
			}

			env.tick(t)
			if got := len(env.monitor.Alerts(true)); got != len(env.monitor.Alerts(false)) {
				t.Errorf("закрытых алертов быть не должно")
			}
		})
	}
}

func TestResolveAlert(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})
	env.pinger.setDown("p1", true)
	env.clock = env.clock.Add(time.Hour)
	env.tick(t)

	alerts := env.monitor.Alerts(true)
	if len(alerts) != 1 {
		t.Fatalf("alerts: хотели 1, получили %d", len(alerts))
	}

	resolved, err := env.monitor.ResolveAlert(alerts[0].ID, "operator")
	if err != nil {
		t.Fatalf("ResolveAlert: %v", err)
	}
	if !resolved.Resolved || resolved.ResolvedBy != "operator" || resolved.ResolvedAt == nil {
		t.Errorf("resolved alert: получили %+v", resolved)
	}
	if got := len(env.monitor.Alerts(true)); got != 0 {
		t.Errorf("active alerts: хотели 0, получили %d", got)
	}
	if got := len(env.monitor.Alerts(false)); got != 1 {
		t.Errorf("all alerts: хотели 1, получили %d", got)
	}

	if _, err := env.monitor.ResolveAlert("missing", "operator"); !errors.Is(err, model.ErrAlertNotFound) {
		t.Errorf("неизвестный алерт: хотели AlertNotFound, получили %v", err)
	}
}

func TestVerifyStorage_RaisesIntegrityAlert(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})
	env.storage.report = &service.VerifyReport{Checked: 3, Missing: 1}

	raised, err := env.monitor.VerifyStorage(context.Background())
	if err != nil {
		t.Fatalf("VerifyStorage: %v", err)
	}
	if raised != 1 {
		t.Fatalf("raised: хотели 1, получили %d", raised)
	}
	a := env.monitor.Alerts(true)[0]
	if a.Category != model.AlertIntegrity || a.Severity != model.SeverityWarning || a.ParticipantID != "p1" {
		t.Errorf("alert: получили %+v", a)
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// fillUptime добавляет up успешных и down неуспешных проверок до момента end.
func fillUptime(m *Monitor, participantID string, up, down int, end time.Time) {
	records := make([]model.UptimeRecord, 0, up+down)
	for i := 0; i < up+down; i++ {
		records = append(records, model.UptimeRecord{
			ParticipantID: participantID,
			Reachable:     i >= down,
			RecordedAt:    end.Add(-time.Duration(up+down-i) * time.Minute),
		})
	}
	m.RecordUptime(records...)
}

func TestCombinedReport_UptimeBonus(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindCompute, Total: 2})
	env.storage.reward = 60
	env.compute.reward = 40

	fillUptime(env.monitor, "p1", 199, 1, env.clock)
	period := model.LastMonth(env.clock)

	report, err := env.monitor.CombinedReport(context.Background(), "p1", period)
	if err != nil {
		t.Fatalf("CombinedReport: %v", err)
	}
	if !approx(report.Subtotal, 100) {
		t.Errorf("subtotal: хотели 100, получили %f", report.Subtotal)
	}
	if !approx(report.UptimePercent, 99.5) {
		t.Errorf("uptime: хотели 99.5, получили %f", report.UptimePercent)
	}
	if !approx(report.UptimeBonus, 10) || !approx(report.Total, 110) {
		t.Errorf("bonus/total: хотели 10/110, получили %f/%f", report.UptimeBonus, report.Total)
	}
	if report.Bandwidth != 0 {
		t.Errorf("bandwidth без выделения: хотели 0, получили %f", report.Bandwidth)
	}
}

func TestCombinedReport_NoBonusBelowThreshold(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})
	env.storage.reward = 100

	fillUptime(env.monitor, "p1", 98, 2, env.clock)

	report, err := env.monitor.CombinedReport(context.Background(), "p1", model.LastMonth(env.clock))
	if err != nil {
		t.Fatalf("CombinedReport: %v", err)
	}
	if report.UptimeBonus != 0 || !approx(report.Total, 100) {
		t.Errorf("uptime 98%%: хотели bonus 0 и total 100, получили %f/%f", report.UptimeBonus, report.Total)
	}
}

func TestCombinedReport_Penalty(t *testing.T) {
	env := newMonitorEnv(t, nil)
	target := 99.0
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100, UptimeTarget: &target})
	env.storage.reward = 100

	fillUptime(env.monitor, "p1", 97, 3, env.clock)

	report, err := env.monitor.CombinedReport(context.Background(), "p1", model.LastMonth(env.clock))
	if err != nil {
		t.Fatalf("CombinedReport: %v", err)
	}
	if !approx(report.PenaltyPercent, 4) {
		t.Errorf("penalty: хотели 4, получили %f", report.PenaltyPercent)
	}
	if !approx(report.Total, 96) {
		t.Errorf("total: хотели 96, получили %f", report.Total)
	}
}

func TestCombinedReport_CachedAndSunk(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})
	env.storage.reward = 5
	sink := &fakeSink{}
	env.monitor.SetReportSink(sink)

	period := model.LastMonth(env.clock)
	first, err := env.monitor.CombinedReport(context.Background(), "p1", period)
	if err != nil {
		t.Fatalf("CombinedReport: %v", err)
	}
	env.storage.reward = 50
	second, err := env.monitor.CombinedReport(context.Background(), "p1", period)
	if err != nil {
		t.Fatalf("CombinedReport: %v", err)
	}

	if second.Storage != 5 || !second.GeneratedAt.Equal(first.GeneratedAt) {
		t.Errorf("повторный запрос должен вернуть отчёт из кэша: получили storage=%f", second.Storage)
	}
	if first == second {
		t.Error("вызовы должны получать разные копии отчёта")
	}
	if len(sink.saved) != 1 {
		t.Errorf("sink: хотели 1 отчёт, получили %d", len(sink.saved))
	}
}

func TestCombinedReport_CallerMutationDoesNotLeak(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})
	env.storage.reward = 7

	period := model.LastMonth(env.clock)
	first, err := env.monitor.CombinedReport(context.Background(), "p1", period)
	if err != nil {
		t.Fatalf("CombinedReport: %v", err)
	}
	first.Total = -1
	first.Storage = 1000

	second, err := env.monitor.CombinedReport(context.Background(), "p1", period)
	if err != nil {
		t.Fatalf("CombinedReport: %v", err)
	}
	if second.Storage != 7 || second.Total < 0 {
		t.Errorf("изменение отчёта вызывающим попало в кэш: storage=%f total=%f", second.Storage, second.Total)
	}
	second.Subtotal = 0

	third, err := env.monitor.CombinedReport(context.Background(), "p1", period)
	if err != nil {
		t.Fatalf("CombinedReport: %v", err)
	}
	if !approx(third.Subtotal, 7) {
		t.Errorf("subtotal: хотели 7, получили %f", third.Subtotal)
	}
}

func TestPruneAlerts(t *testing.T) {
	env := newMonitorEnv(t, func(c *Config) { c.AlertRetention = 24 * time.Hour })
	for _, p := range []string{"p1", "p2", "p3"} {
		env.register(t, model.Allocation{ParticipantID: p, Kind: model.KindStorage, Total: 100})
		env.pinger.setDown(p, true)
	}
	env.clock = env.clock.Add(time.Hour)
	env.tick(t)

	alerts := env.monitor.Alerts(true)
	if len(alerts) != 3 {
		t.Fatalf("alerts: хотели 3, получили %d", len(alerts))
	}
	byParticipant := make(map[string]string, len(alerts))
	for _, a := range alerts {
		byParticipant[a.ParticipantID] = a.ID
	}

	// p1 закрыт давно, p2 недавно, p3 остаётся открытым
	if _, err := env.monitor.ResolveAlert(byParticipant["p1"], "operator"); err != nil {
		t.Fatalf("ResolveAlert p1: %v", err)
	}
	env.clock = env.clock.Add(48 * time.Hour)
	if _, err := env.monitor.ResolveAlert(byParticipant["p2"], "operator"); err != nil {
		t.Fatalf("ResolveAlert p2: %v", err)
	}

	if removed := env.monitor.PruneAlerts(env.clock); removed != 1 {
		t.Errorf("удалено: хотели 1, получили %d", removed)
	}
	left := make(map[string]bool)
	for _, a := range env.monitor.Alerts(false) {
		left[a.ID] = true
	}
	if left[byParticipant["p1"]] {
		t.Error("давно закрытый алерт должен быть удалён")
	}
	if !left[byParticipant["p2"]] {
		t.Error("недавно закрытый алерт должен остаться")
	}
	if !left[byParticipant["p3"]] {
		t.Error("открытый алерт должен остаться")
	}

	// Открытый алерт не удаляется независимо от возраста
	if removed := env.monitor.PruneAlerts(env.clock.Add(365 * 24 * time.Hour)); removed != 1 {
		t.Errorf("второй проход: хотели 1, получили %d", removed)
	}
	if got := env.monitor.Alerts(false); len(got) != 1 || got[0].ID != byParticipant["p3"] {
		t.Errorf("должен остаться только открытый алерт p3: %+v", got)
	}
}

func TestPruneAlerts_Disabled(t *testing.T) {
	env := newMonitorEnv(t, func(c *Config) { c.AlertRetention = 0 })
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})
	env.pinger.setDown("p1", true)
	env.clock = env.clock.Add(time.Hour)
	env.tick(t)
	alerts := env.monitor.Alerts(true)
	if len(alerts) != 1 {
		t.Fatalf("alerts: хотели 1, получили %d", len(alerts))
	}
	if _, err := env.monitor.ResolveAlert(alerts[0].ID, "operator"); err != nil {
		t.Fatal(err)
	}
	if removed := env.monitor.PruneAlerts(env.clock.Add(1000 * time.Hour)); removed != 0 {
		t.Errorf("без срока хранения: хотели 0, получили %d", removed)
	}
}

func TestCombinedReport_UnknownParticipant(t *testing.T) {
	env := newMonitorEnv(t, nil)

	_, err := env.monitor.CombinedReport(context.Background(), "ghost", model.LastMonth(env.clock))
	if !errors.Is(err, model.ErrAllocationNotFound) {
		t.Errorf("хотели AllocationNotFound, получили %v", err)
	}
	if _, err := env.monitor.ParticipantStatus("ghost"); !errors.Is(err, model.ErrAllocationNotFound) {
		t.Errorf("ParticipantStatus: хотели AllocationNotFound, получили %v", err)
	}
}

func TestUptimePercent_InclusiveBounds(t *testing.T) {
	env := newMonitorEnv(t, nil)
	from := env.clock.Add(-time.Hour)
	to := env.clock
	env.monitor.RecordUptime(
		model.UptimeRecord{ParticipantID: "p1", Reachable: true, RecordedAt: from},
		model.UptimeRecord{ParticipantID: "p1", Reachable: false, RecordedAt: to},
		model.UptimeRecord{ParticipantID: "p1", Reachable: false, RecordedAt: to.Add(time.Second)},
	)

	pct, ok := env.monitor.UptimePercent("p1", model.Period{From: from, To: to})
	if !ok || !approx(pct, 50) {
		t.Errorf("uptime: хотели 50, получили %f (ok=%v)", pct, ok)
	}
	if _, ok := env.monitor.UptimePercent("p2", model.Period{From: from, To: to}); ok {
		t.Errorf("нет данных: ok должен быть false")
	}
}

func TestParticipantStatus(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})
	env.tick(t)

	st, err := env.monitor.ParticipantStatus("p1")
	if err != nil {
		t.Fatalf("ParticipantStatus: %v", err)
	}
	if st.Status != health.StatusHealthy || !st.HasUptimeData || !approx(st.UptimePercent, 100) {
		t.Errorf("status: получили %+v", st)
	}
	if len(st.Allocations) != 1 || len(st.History) != 1 {
		t.Errorf("allocations/history: получили %d/%d", len(st.Allocations), len(st.History))
	}
	if !st.LastSeen.Equal(env.clock) {
		t.Errorf("last seen: хотели %s, получили %s", env.clock, st.LastSeen)
	}
}

func TestRank(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "big", Kind: model.KindStorage, Total: 30 * model.BytesPerGB})
	env.register(t, model.Allocation{ParticipantID: "small", Kind: model.KindStorage, Total: 10 * model.BytesPerGB})
	env.tick(t)

	big, err := env.monitor.Rank("big")
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	small, err := env.monitor.Rank("small")
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}

	if !approx(big.Network.StorageGB, 20) {
		t.Errorf("network storage: хотели 20, получили %f", big.Network.StorageGB)
	}
	// storage: 50*30/20 = 75 и 50*10/20 = 25, uptime у обоих на уровне среднего
	if !approx(big.Rank.Score, 0.25*(75+50)) {
		t.Errorf("score big: хотели %f, получили %f", 0.25*(75+50), big.Rank.Score)
	}
	if !(big.Rank.Score > small.Rank.Score) {
		t.Errorf("больший вклад должен давать больший ранг: %f <= %f", big.Rank.Score, small.Rank.Score)
	}
}

func TestNetworkStats(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "a", Kind: model.KindCompute, Total: 4, BenchmarkScore: 80})
	env.register(t, model.Allocation{ParticipantID: "b", Kind: model.KindCompute, Total: 4, BenchmarkScore: 100})
	if err := env.ledger.Reserve("a", model.KindCompute, 2); err != nil {
		t.Fatal(err)
	}

	stats := env.monitor.NetworkStats()
	if stats.Participants != 2 || stats.ComputeTotalCores != 8 || stats.ComputeUsedCores != 2 {
		t.Errorf("stats: получили %+v", stats)
	}
	if !approx(stats.AverageBenchmarkScore, 90) {
		t.Errorf("benchmark: хотели 90, получили %f", stats.AverageBenchmarkScore)
	}
	if !approx(stats.AverageComputeUtilization, 25) {
		t.Errorf("utilization: хотели 25, получили %f", stats.AverageComputeUtilization)
	}
}

func TestCheckpoint_SaveLoad(t *testing.T) {
	env := newMonitorEnv(t, nil)
	env.register(t, model.Allocation{ParticipantID: "p1", Kind: model.KindStorage, Total: 100})
	env.pinger.setDown("p1", true)
	env.clock = env.clock.Add(time.Hour)
	env.tick(t)

	path := filepath.Join(t.TempDir(), "history", "monitor.json.zst")
	if err := env.monitor.SaveCheckpoint(path); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	restored := newMonitorEnv(t, nil)
	if err := restored.monitor.LoadCheckpoint(path); err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}

	if got := len(restored.monitor.Snapshots("p1", 0)); got != 1 {
		t.Errorf("snapshots: хотели 1, получили %d", got)
	}
	if got := len(restored.monitor.UptimeRecords("p1", 0)); got != 1 {
		t.Errorf("uptime: хотели 1, получили %d", got)
	}
	if got := restored.monitor.ActiveAlertCount(); got != 1 {
		t.Errorf("alerts: хотели 1, получили %d", got)
	}
}

func TestCheckpoint_MissingFile(t *testing.T) {
	env := newMonitorEnv(t, nil)
	if err := env.monitor.LoadCheckpoint(filepath.Join(t.TempDir(), "none.zst")); err != nil {
		t.Errorf("отсутствующий файл не должен быть ошибкой: %v", err)
	}
}

func TestCheckpoint_Corrupted(t *testing.T) {
	env := newMonitorEnv(t, nil)
	path := filepath.Join(t.TempDir(), "bad.zst")
	if err := os.WriteFile(path, []byte("not zstd"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := env.monitor.LoadCheckpoint(path); err == nil {
		t.Error("повреждённый файл должен давать ошибку")
	}
}
