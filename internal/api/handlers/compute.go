// compute.go — HTTP handlers вычислительных ресурсов: выделения и задачи.
package handlers

import (
	"context"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/resource-coordinator/internal/api/errors"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/api/router"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/service"
)

// ComputeOperations — операции ComputeService, используемые handler'ом.
type ComputeOperations interface {
	RegisterAllocation(ctx context.Context, req service.ComputeRegistration) (*service.Registration, error)
	ReleaseAllocation(participantID string) error
	CreateTask(req service.TaskRequest) (*model.ComputeTask, error)
	ExecuteTask(ctx context.Context, taskID string) (*model.ComputeTask, error)
	GetTask(taskID string) (*model.ComputeTask, error)
	ListTasks(status model.TaskStatus) []*model.ComputeTask
}

// ComputeHandler — обработчик compute endpoints.
type ComputeHandler struct {
	svc ComputeOperations
}

// NewComputeHandler создаёт обработчик compute endpoints.
func NewComputeHandler(svc ComputeOperations) *ComputeHandler {
	return &ComputeHandler{svc: svc}
}

type computeRegistrationRequest struct {
	ParticipantID string   `json:"participant_id"`
	Cores         int      `json:"cores"`
	Endpoint      string   `json:"endpoint,omitempty"`
	UptimeTarget  *float64 `json:"uptime_target,omitempty"`
}

type taskRequest struct {
	Category        string `json:"category"`
	Priority        string `json:"priority,omitempty"`
	EstimatedCostMs int64  `json:"estimated_cost_ms"`
	Cores           int    `json:"cores,omitempty"`
}

type taskList struct {
	Tasks []*model.ComputeTask `json:"tasks"`
	Total int                  `json:"total"`
}

// RegisterCompute обрабатывает POST /api/v1/compute/allocations.
// Перед регистрацией выполняется бенчмарк.
func (h *ComputeHandler) RegisterCompute(w http.ResponseWriter, r *http.Request) {
	var req computeRegistrationRequest
	if !decodeJSON(w, r, &req) || !actsFor(w, r, req.ParticipantID) {
		return
	}

	reg, err := h.svc.RegisterAllocation(r.Context(), service.ComputeRegistration{
		ParticipantID: req.ParticipantID,
		Cores:         req.Cores,
		Endpoint:      req.Endpoint,
		UptimeTarget:  req.UptimeTarget,
	})
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// ReleaseCompute обрабатывает DELETE /api/v1/compute/allocations/{participantId}.
func (h *ComputeHandler) ReleaseCompute(w http.ResponseWriter, r *http.Request, participantId router.ParticipantId) {
	if !actsFor(w, r, participantId) {
		return
	}
	if err := h.svc.ReleaseAllocation(participantId); err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTasks обрабатывает GET /api/v1/compute/tasks.
func (h *ComputeHandler) ListTasks(w http.ResponseWriter, _ *http.Request, params router.ListTasksParams) {
	var status model.TaskStatus
	if params.Status != nil {
		status = model.TaskStatus(*params.Status)
		switch status {
		case model.TaskPending, model.TaskRunning, model.TaskCompleted, model.TaskFailed:
		default:
			apierrors.ValidationError(w, "Недопустимый статус задачи: "+*params.Status)
			return
		}
	}

	tasks := h.svc.ListTasks(status)
	if tasks == nil {
		tasks = []*model.ComputeTask{}
	}
	writeJSON(w, http.StatusOK, taskList{Tasks: tasks, Total: len(tasks)})
}

// CreateTask обрабатывает POST /api/v1/compute/tasks.
func (h *ComputeHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	task, err := h.svc.CreateTask(service.TaskRequest{
		Category:        model.TaskCategory(req.Category),
		Priority:        model.TaskPriority(req.Priority),
		EstimatedCostMs: req.EstimatedCostMs,
		Cores:           req.Cores,
	})
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// GetTask обрабатывает GET /api/v1/compute/tasks/{taskId}.
func (h *ComputeHandler) GetTask(w http.ResponseWriter, _ *http.Request, taskId router.TaskId) {
	task, err := h.svc.GetTask(taskId.String())
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ExecuteTask обрабатывает POST /api/v1/compute/tasks/{taskId}/execute.
// Ответ возвращается после завершения задачи. При ошибке исполнения
// задача остаётся в статусе failed и доступна через GET.
func (h *ComputeHandler) ExecuteTask(w http.ResponseWriter, r *http.Request, taskId router.TaskId) {
	task, err := h.svc.ExecuteTask(r.Context(), taskId.String())
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
