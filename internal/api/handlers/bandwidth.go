// bandwidth.go — HTTP handlers сетевых ресурсов: выделения, передачи,
// использование трафика и поиск ближайших участников.
package handlers

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/resource-coordinator/internal/api/errors"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/api/router"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/service"
)

const defaultNearestCount = 5

// BandwidthOperations — операции BandwidthService, используемые handler'ом.
type BandwidthOperations interface {
	RegisterAllocation(ctx context.Context, req service.BandwidthRegistration) (*service.Registration, error)
	ReleaseAllocation(participantID string) error
	RecordTransfer(req service.TransferRequest) (*model.TransferRecord, error)
	MonthlyUsage(participantID, month string) (int64, error)
	TransferStats(participantID string, period model.Period) (*service.TransferStats, error)
	FindNearest(point model.GeoPoint, count int) ([]service.NearbyParticipant, error)
}

// AllocationLookup — чтение выделений из реестра.
type AllocationLookup interface {
	Get(participantID string, kind model.ResourceKind) (*model.Allocation, error)
}

// BandwidthHandler — обработчик bandwidth endpoints.
type BandwidthHandler struct {
	svc         BandwidthOperations
	allocations AllocationLookup
	now         func() time.Time
}

// NewBandwidthHandler создаёт обработчик bandwidth endpoints.
func NewBandwidthHandler(svc BandwidthOperations, allocations AllocationLookup) *BandwidthHandler {
	return &BandwidthHandler{
		svc:         svc,
		allocations: allocations,
		now:         time.Now,
	}
}

type bandwidthRegistrationRequest struct {
	ParticipantID string          `json:"participant_id"`
	MonthlyCapGB  float64         `json:"monthly_cap_gb"`
	Unlimited     bool            `json:"unlimited"`
	Location      *model.GeoPoint `json:"location,omitempty"`
	Endpoint      string          `json:"endpoint,omitempty"`
	UptimeTarget  *float64        `json:"uptime_target,omitempty"`
}

type transferRequest struct {
	ParticipantID string `json:"participant_id"`
	Direction     string `json:"direction"`
	Bytes         int64  `json:"bytes"`
	DurationMs    int64  `json:"duration_ms"`
	Purpose       string `json:"purpose,omitempty"`
}

// bandwidthUsage — ответ GET /api/v1/bandwidth/allocations/{participantId}/usage.
type bandwidthUsage struct {
	ParticipantID string                 `json:"participant_id"`
	Month         string                 `json:"month"`
	MonthBytes    int64                  `json:"month_bytes"`
	MonthlyCap    int64                  `json:"monthly_cap_bytes"`
	Unlimited     bool                   `json:"unlimited"`
	Period        model.Period           `json:"period"`
	Stats         *service.TransferStats `json:"stats"`
}

type nearestList struct {
	Participants []service.NearbyParticipant `json:"participants"`
}

// RegisterBandwidth обрабатывает POST /api/v1/bandwidth/allocations.
// Скорости канала измеряются speed-пробой при регистрации.
func (h *BandwidthHandler) RegisterBandwidth(w http.ResponseWriter, r *http.Request) {
	var req bandwidthRegistrationRequest
	if !decodeJSON(w, r, &req) || !actsFor(w, r, req.ParticipantID) {
		return
	}

	reg, err := h.svc.RegisterAllocation(r.Context(), service.BandwidthRegistration{
		ParticipantID: req.ParticipantID,
		MonthlyCapGB:  req.MonthlyCapGB,
		Unlimited:     req.Unlimited,
		Location:      req.Location,
		Endpoint:      req.Endpoint,
		UptimeTarget:  req.UptimeTarget,
	})
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// ReleaseBandwidth обрабатывает DELETE /api/v1/bandwidth/allocations/{participantId}.
func (h *BandwidthHandler) ReleaseBandwidth(w http.ResponseWriter, r *http.Request, participantId router.ParticipantId) {
	if !actsFor(w, r, participantId) {
		return
	}
	if err := h.svc.ReleaseAllocation(participantId); err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BandwidthUsage обрабатывает GET /api/v1/bandwidth/allocations/{participantId}/usage.
// month — календарный месяц (по умолчанию текущий), from/to — период
// статистики передач (по умолчанию последний расчётный месяц).
func (h *BandwidthHandler) BandwidthUsage(
	w http.ResponseWriter, _ *http.Request, participantId router.ParticipantId, params router.BandwidthUsageParams,
) {
	alloc, err := h.allocations.Get(participantId, model.KindBandwidth)
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}

	now := h.now()
	month := model.MonthKey(now)
	if params.Month != nil {
		month = *params.Month
	}
	period, ok := periodFromParams(w, now, params.From, params.To)
	if !ok {
		return
	}

	monthBytes, err := h.svc.MonthlyUsage(participantId, month)
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	stats, err := h.svc.TransferStats(participantId, period)
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bandwidthUsage{
		ParticipantID: participantId,
		Month:         month,
		MonthBytes:    monthBytes,
		MonthlyCap:    alloc.Total,
		Unlimited:     alloc.Unlimited,
		Period:        period,
		Stats:         stats,
	})
}

// RecordTransfer обрабатывает POST /api/v1/bandwidth/transfers.
// Передача сверх месячного лимита отклоняется (429), учёт не меняется.
func (h *BandwidthHandler) RecordTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeJSON(w, r, &req) || !actsFor(w, r, req.ParticipantID) {
		return
	}

	rec, err := h.svc.RecordTransfer(service.TransferRequest{
		ParticipantID: req.ParticipantID,
		Direction:     model.Direction(req.Direction),
		Bytes:         req.Bytes,
		Duration:      time.Duration(req.DurationMs) * time.Millisecond,
		Purpose:       model.TransferPurpose(req.Purpose),
	})
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// FindNearest обрабатывает GET /api/v1/bandwidth/nearest.
func (h *BandwidthHandler) FindNearest(w http.ResponseWriter, _ *http.Request, params router.FindNearestParams) {
	count := defaultNearestCount
	if params.Count != nil {
		count = *params.Count
	}
	if count < 1 {
		apierrors.ValidationError(w, "count должен быть >= 1")
		return
	}

	nearest, err := h.svc.FindNearest(model.GeoPoint{Lat: params.Lat, Lon: params.Lon}, count)
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	if nearest == nil {
		nearest = []service.NearbyParticipant{}
	}
	writeJSON(w, http.StatusOK, nearestList{Participants: nearest})
}

// periodFromParams строит период из необязательных границ.
// Без границ — последний расчётный месяц до now. При ошибке пишет 400.
func periodFromParams(w http.ResponseWriter, now time.Time, from, to *time.Time) (model.Period, bool) {
	if from == nil && to == nil {
		return model.LastMonth(now), true
	}
	end := now
	if to != nil {
		end = *to
	}
	start := end.Add(-model.MonthDuration)
	if from != nil {
		start = *from
	}
	period, err := model.NewPeriod(start, end)
	if err != nil {
		apierrors.ValidationError(w, "Некорректный период: "+err.Error())
		return model.Period{}, false
	}
	return period, true
}
