// maintenance.go — обработчик POST /api/v1/maintenance/reconcile.
// Делегирует сверку каталога и реплик в ReconcileService.
package handlers

import (
	"context"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/resource-coordinator/internal/api/errors"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/service"
)

// ReconcileRunner — интерфейс для запуска reconciliation.
// Позволяет тестировать handler без полного ReconcileService.
type ReconcileRunner interface {
	// RunOnce выполняет один цикл reconciliation.
	// Возвращает результат и флаг "уже выполняется".
	RunOnce(ctx context.Context) (*service.ReconcileReport, bool)
	// IsInProgress возвращает true, если reconciliation выполняется.
	IsInProgress() bool
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler ReconcileRunner
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(reconciler ReconcileRunner) *MaintenanceHandler {
	return &MaintenanceHandler{reconciler: reconciler}
}

// Reconcile обрабатывает POST /api/v1/maintenance/reconcile.
// Запускает синхронный цикл reconciliation и возвращает результат.
// Если reconciliation уже выполняется — 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler.IsInProgress() {
		apierrors.ReconcileInProgress(w, "Reconciliation уже выполняется")
		return
	}

	report, inProgress := h.reconciler.RunOnce(r.Context())
	if inProgress {
		apierrors.ReconcileInProgress(w, "Reconciliation уже выполняется")
		return
	}

	if report.Issues == nil {
		report.Issues = []service.ReconcileIssue{}
	}
	writeJSON(w, http.StatusOK, report)
}
