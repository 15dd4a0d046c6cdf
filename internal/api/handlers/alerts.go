// alerts.go — HTTP handlers алертов производительности.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/resource-coordinator/internal/api/errors"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/api/middleware"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/api/router"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
)

// anonymousOperator — автор закрытия алерта при отключённой аутентификации.
const anonymousOperator = "operator"

// AlertStore — список и закрытие алертов.
type AlertStore interface {
	Alerts(activeOnly bool) []model.PerformanceAlert
	ResolveAlert(id, resolvedBy string) (*model.PerformanceAlert, error)
}

// AlertsHandler — обработчик alert endpoints.
type AlertsHandler struct {
	store  AlertStore
	logger *slog.Logger
}

// NewAlertsHandler создаёт обработчик alert endpoints.
func NewAlertsHandler(store AlertStore, logger *slog.Logger) *AlertsHandler {
	return &AlertsHandler{
		store:  store,
		logger: logger.With(slog.String("component", "alerts_handler")),
	}
}

type alertList struct {
	Alerts []model.PerformanceAlert `json:"alerts"`
	Total  int                      `json:"total"`
}

// ListAlerts обрабатывает GET /api/v1/alerts. Новые алерты первыми.
func (h *AlertsHandler) ListAlerts(w http.ResponseWriter, _ *http.Request, params router.ListAlertsParams) {
	activeOnly := params.Active != nil && *params.Active
	alerts := h.store.Alerts(activeOnly)
	if alerts == nil {
		alerts = []model.PerformanceAlert{}
	}
	writeJSON(w, http.StatusOK, alertList{Alerts: alerts, Total: len(alerts)})
}

// ResolveAlert обрабатывает POST /api/v1/alerts/{alertId}/resolve.
// Автор закрытия — subject JWT-токена.
func (h *AlertsHandler) ResolveAlert(w http.ResponseWriter, r *http.Request, alertId router.AlertId) {
	by := middleware.SubjectFromContext(r.Context())
	if by == "" {
		by = anonymousOperator
	}

	alert, err := h.store.ResolveAlert(alertId.String(), by)
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}

	h.logger.Info("Алерт закрыт",
		slog.String("alert_id", alert.ID),
		slog.String("resolved_by", alert.ResolvedBy),
	)
	writeJSON(w, http.StatusOK, alert)
}
