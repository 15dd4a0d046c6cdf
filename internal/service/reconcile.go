// reconcile.go — сверка реплик участников с каталогом объектов.
//
// Обнаруживает проблемы:
//   - orphaned_replica: реплика на участнике без записи в каталоге (удаляется)
//   - missing_replica: каталог ссылается на реплику, которой нет
//   - checksum_mismatch: хэш реплики не совпадает с хэшем объекта
//
// Запускается планировщиком с интервалом RC_RECONCILE_INTERVAL.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/filestore"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/wal"
)

// Prometheus метрики Reconciliation
var (
	// reconcileRunsTotal — количество запусков reconciliation.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rc_reconcile_runs_total",
		Help: "Общее количество запусков reconciliation",
	})

	// reconcileIssuesTotal — количество обнаруженных проблем по типу.
	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rc_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных reconciliation",
	}, []string{"type"})

	// reconcileDurationSeconds — длительность выполнения reconciliation.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rc_reconcile_duration_seconds",
		Help:    "Длительность выполнения reconciliation в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// IssueType — тип проблемы, найденной сверкой.
type IssueType string

const (
	IssueOrphanedReplica  IssueType = "orphaned_replica"
	IssueMissingReplica   IssueType = "missing_replica"
	IssueChecksumMismatch IssueType = "checksum_mismatch"
)

// ReconcileIssue — одна найденная проблема.
type ReconcileIssue struct {
	Type          IssueType `json:"type"`
	ObjectID      string    `json:"object_id"`
	ParticipantID string    `json:"participant_id"`
	Description   string    `json:"description"`
}

// ReconcileReport — результат одного запуска сверки.
type ReconcileReport struct {
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
	ReplicasChecked int              `json:"replicas_checked"`
	OrphansRemoved  int              `json:"orphans_removed"`
	Issues          []ReconcileIssue `json:"issues"`
}

// replicaLister — ReplicaStore, умеющий перечислять свои реплики.
type replicaLister interface {
	ListReplicas() ([]string, error)
}

var _ replicaLister = (*filestore.FileStore)(nil)

// ReconcileService — сверка реплик всех storage-участников.
type ReconcileService struct {
	storage *StorageService
	logger  *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
}

// NewReconcileService создаёт сервис reconciliation.
func NewReconcileService(storage *StorageService, logger *slog.Logger) *ReconcileService {
	return &ReconcileService{
		storage: storage,
		logger:  logger.With(slog.String("component", "reconcile")),
	}
}

// IsInProgress возвращает true, если reconciliation выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// RunOnce выполняет один цикл reconciliation.
// Если сверка уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileReport, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Reconciliation уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	report := &ReconcileReport{StartedAt: time.Now().UTC()}
	rs.logger.Info("Reconciliation начата")

	inFlight := rs.inFlightObjects()
	for _, a := range rs.storage.ledger.List(model.KindStorage) {
		if ctx.Err() != nil {
			break
		}
		rs.reconcileParticipant(ctx, a, inFlight, report)
	}

	report.CompletedAt = time.Now().UTC()
	duration := report.CompletedAt.Sub(report.StartedAt)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, issue := range report.Issues {
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}

	rs.logger.Info("Reconciliation завершена",
		slog.Int("replicas_checked", report.ReplicasChecked),
		slog.Int("issues", len(report.Issues)),
		slog.Int("orphans_removed", report.OrphansRemoved),
		slog.Duration("duration", duration),
	)
	return report, false
}

// inFlightObjects — объекты незавершённых транзакций; их реплики не считаются сиротами.
func (rs *ReconcileService) inFlightObjects() map[string]bool {
	ids := make(map[string]bool)
	pending, err := rs.storage.wal.RecoverPending()
	if err != nil {
		rs.logger.Warn("Не удалось прочитать WAL", slog.String("error", err.Error()))
		return ids
	}
	for _, e := range pending {
		if e.Operation == wal.OpObjectStore {
			ids[e.ObjectID] = true
		}
	}
	return ids
}

func (rs *ReconcileService) reconcileParticipant(
	ctx context.Context,
	a *model.Allocation,
	inFlight map[string]bool,
	report *ReconcileReport,
) {
	store, err := rs.storage.replicaStore(a)
	if err != nil {
		rs.logger.Warn("Участник недоступен для сверки",
			slog.String("participant_id", a.ParticipantID),
			slog.String("error", err.Error()),
		)
		return
	}

	held := make(map[string]bool)
	for _, obj := range rs.storage.catalog.ByHolder(a.ParticipantID) {
		held[obj.ID] = true
		report.ReplicasChecked++

		data, err := store.ReadReplica(ctx, obj.ID)
		switch {
		case errors.Is(err, filestore.ErrReplicaNotFound):
			report.Issues = append(report.Issues, ReconcileIssue{
				Type:          IssueMissingReplica,
				ObjectID:      obj.ID,
				ParticipantID: a.ParticipantID,
				Description:   "Реплика из каталога отсутствует у участника",
			})
		case err != nil:
			rs.logger.Warn("Ошибка чтения реплики при reconciliation",
				slog.String("object_id", obj.ID),
				slog.String("participant_id", a.ParticipantID),
				slog.String("error", err.Error()),
			)
		case filestore.Checksum(data) != obj.ContentHash:
			report.Issues = append(report.Issues, ReconcileIssue{
				Type:          IssueChecksumMismatch,
				ObjectID:      obj.ID,
				ParticipantID: a.ParticipantID,
				Description:   "Checksum реплики не совпадает с хэшем объекта",
			})
		}
	}

	inner, err := rs.storage.transport.Store(a.ParticipantID, a.StoragePath)
	if err != nil {
		return
	}
	lister, ok := inner.(replicaLister)
	if !ok {
		return
	}
	ids, err := lister.ListReplicas()
	if err != nil {
		rs.logger.Warn("Ошибка перечисления реплик",
			slog.String("participant_id", a.ParticipantID),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, id := range ids {
		if held[id] || inFlight[id] {
			continue
		}
		report.Issues = append(report.Issues, ReconcileIssue{
			Type:          IssueOrphanedReplica,
			ObjectID:      id,
			ParticipantID: a.ParticipantID,
			Description:   "Реплика без записи в каталоге",
		})
		if err := store.DeleteReplica(ctx, id); err != nil {
			rs.logger.Warn("Не удалось удалить осиротевшую реплику",
				slog.String("object_id", id),
				slog.String("participant_id", a.ParticipantID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.OrphansRemoved++
	}
}
