// handler.go — APIHandler реализует router.ServerInterface,
// делегируя вызовы в отдельные handler'ы по доменам.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/resource-coordinator/internal/api/errors"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/api/middleware"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/api/router"
)

// maxJSONBody — предельный размер JSON-тела запроса.
const maxJSONBody = 1 << 20

// APIHandler — единая реализация ServerInterface, собирающая
// все доменные handlers в один объект.
type APIHandler struct {
	storage      *StorageHandler
	compute      *ComputeHandler
	bandwidth    *BandwidthHandler
	participants *ParticipantsHandler
	alerts       *AlertsHandler
	network      *NetworkHandler
	maintenance  *MaintenanceHandler
	health       *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	storage *StorageHandler,
	compute *ComputeHandler,
	bandwidth *BandwidthHandler,
	participants *ParticipantsHandler,
	alerts *AlertsHandler,
	network *NetworkHandler,
	maintenance *MaintenanceHandler,
	health *HealthHandler,
) *APIHandler {
	return &APIHandler{
		storage:      storage,
		compute:      compute,
		bandwidth:    bandwidth,
		participants: participants,
		alerts:       alerts,
		network:      network,
		maintenance:  maintenance,
		health:       health,
	}
}

// --- Health ---

func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// --- Storage ---

func (h *APIHandler) RegisterStorage(w http.ResponseWriter, r *http.Request) {
	h.storage.RegisterStorage(w, r)
}

func (h *APIHandler) ReleaseStorage(w http.ResponseWriter, r *http.Request, participantId router.ParticipantId) {
	h.storage.ReleaseStorage(w, r, participantId)
}

func (h *APIHandler) VerifyStorage(w http.ResponseWriter, r *http.Request, participantId router.ParticipantId) {
	h.storage.VerifyStorage(w, r, participantId)
}

func (h *APIHandler) ListObjects(w http.ResponseWriter, r *http.Request, params router.ListObjectsParams) {
	h.storage.ListObjects(w, r, params)
}

func (h *APIHandler) StoreObject(w http.ResponseWriter, r *http.Request, params router.StoreObjectParams) {
	h.storage.StoreObject(w, r, params)
}

func (h *APIHandler) RetrieveObject(w http.ResponseWriter, r *http.Request, objectId router.ObjectId) {
	h.storage.RetrieveObject(w, r, objectId)
}

func (h *APIHandler) DeleteObject(w http.ResponseWriter, r *http.Request, objectId router.ObjectId) {
	h.storage.DeleteObject(w, r, objectId)
}

// --- Compute ---

func (h *APIHandler) RegisterCompute(w http.ResponseWriter, r *http.Request) {
	h.compute.RegisterCompute(w, r)
}

func (h *APIHandler) ReleaseCompute(w http.ResponseWriter, r *http.Request, participantId router.ParticipantId) {
	h.compute.ReleaseCompute(w, r, participantId)
}

func (h *APIHandler) ListTasks(w http.ResponseWriter, r *http.Request, params router.ListTasksParams) {
	h.compute.ListTasks(w, r, params)
}

func (h *APIHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	h.compute.CreateTask(w, r)
}

func (h *APIHandler) GetTask(w http.ResponseWriter, r *http.Request, taskId router.TaskId) {
	h.compute.GetTask(w, r, taskId)
}

func (h *APIHandler) ExecuteTask(w http.ResponseWriter, r *http.Request, taskId router.TaskId) {
	h.compute.ExecuteTask(w, r, taskId)
}

// --- Bandwidth ---

func (h *APIHandler) RegisterBandwidth(w http.ResponseWriter, r *http.Request) {
	h.bandwidth.RegisterBandwidth(w, r)
}

func (h *APIHandler) ReleaseBandwidth(w http.ResponseWriter, r *http.Request, participantId router.ParticipantId) {
	h.bandwidth.ReleaseBandwidth(w, r, participantId)
}

func (h *APIHandler) BandwidthUsage(w http.ResponseWriter, r *http.Request, participantId router.ParticipantId, params router.BandwidthUsageParams) {
	h.bandwidth.BandwidthUsage(w, r, participantId, params)
}

func (h *APIHandler) RecordTransfer(w http.ResponseWriter, r *http.Request) {
	h.bandwidth.RecordTransfer(w, r)
}

func (h *APIHandler) FindNearest(w http.ResponseWriter, r *http.Request, params router.FindNearestParams) {
	h.bandwidth.FindNearest(w, r, params)
}

// --- Participants ---

func (h *APIHandler) ParticipantStatus(w http.ResponseWriter, r *http.Request, participantId router.ParticipantId) {
	h.participants.ParticipantStatus(w, r, participantId)
}

func (h *APIHandler) ParticipantRewards(w http.ResponseWriter, r *http.Request, participantId router.ParticipantId, params router.ParticipantRewardsParams) {
	h.participants.ParticipantRewards(w, r, participantId, params)
}

func (h *APIHandler) ParticipantRank(w http.ResponseWriter, r *http.Request, participantId router.ParticipantId) {
	h.participants.ParticipantRank(w, r, participantId)
}

// --- Alerts ---

func (h *APIHandler) ListAlerts(w http.ResponseWriter, r *http.Request, params router.ListAlertsParams) {
	h.alerts.ListAlerts(w, r, params)
}

func (h *APIHandler) ResolveAlert(w http.ResponseWriter, r *http.Request, alertId router.AlertId) {
	h.alerts.ResolveAlert(w, r, alertId)
}

// --- Network ---

func (h *APIHandler) NetworkStats(w http.ResponseWriter, r *http.Request) {
	h.network.NetworkStats(w, r)
}

// --- Maintenance ---

func (h *APIHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.maintenance.Reconcile(w, r)
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ router.ServerInterface = (*APIHandler)(nil)

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает JSON-тело запроса в dst.
// При ошибке записывает 400 и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		switch {
		case errors.Is(err, io.EOF):
			apierrors.ValidationError(w, "Пустое тело запроса")
		case errors.As(err, &syntaxErr):
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный JSON (позиция %d)", syntaxErr.Offset))
		default:
			apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		}
		return false
	}
	return true
}

// actsFor проверяет, что токен участника выдан на participantID.
// При несовпадении записывает 403 и возвращает false.
func actsFor(w http.ResponseWriter, r *http.Request, participantID string) bool {
	if middleware.ParticipantAllowed(r.Context(), participantID) {
		return true
	}
	apierrors.Forbidden(w, "Токен выдан другому участнику")
	return false
}

// ParamErrorHandler — ответ на ошибку разбора path/query параметров.
func ParamErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	apierrors.ValidationError(w, err.Error())
}
