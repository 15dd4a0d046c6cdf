// participants.go — HTTP handlers состояния, вознаграждений и рейтинга участников.
package handlers

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/resource-coordinator/internal/api/errors"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/api/router"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/monitor"
)

// ParticipantReports — отчёты монитора по участнику.
type ParticipantReports interface {
	ParticipantStatus(participantID string) (*monitor.ParticipantStatus, error)
	CombinedReport(ctx context.Context, participantID string, period model.Period) (*model.CombinedRewardReport, error)
	Rank(participantID string) (*monitor.ParticipantRank, error)
}

// ParticipantsHandler — обработчик participant endpoints.
type ParticipantsHandler struct {
	reports ParticipantReports
	now     func() time.Time
}

// NewParticipantsHandler создаёт обработчик participant endpoints.
func NewParticipantsHandler(reports ParticipantReports) *ParticipantsHandler {
	return &ParticipantsHandler{reports: reports, now: time.Now}
}

// ParticipantStatus обрабатывает GET /api/v1/participants/{participantId}/status.
func (h *ParticipantsHandler) ParticipantStatus(w http.ResponseWriter, _ *http.Request, participantId router.ParticipantId) {
	status, err := h.reports.ParticipantStatus(participantId)
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ParticipantRewards обрабатывает GET /api/v1/participants/{participantId}/rewards.
// Отчёт вычисляется заново из учтённого использования, ничего не выплачивается.
func (h *ParticipantsHandler) ParticipantRewards(
	w http.ResponseWriter, r *http.Request, participantId router.ParticipantId, params router.ParticipantRewardsParams,
) {
	period, ok := periodFromParams(w, h.now(), params.From, params.To)
	if !ok {
		return
	}

	report, err := h.reports.CombinedReport(r.Context(), participantId, period)
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ParticipantRank обрабатывает GET /api/v1/participants/{participantId}/rank.
func (h *ParticipantsHandler) ParticipantRank(w http.ResponseWriter, _ *http.Request, participantId router.ParticipantId) {
	rank, err := h.reports.Rank(participantId)
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rank)
}
