// storage.go — HTTP handlers хранилища: выделения участников и объекты.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/bigkaa/goartstore/resource-coordinator/internal/api/errors"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/api/router"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/service"
)

// Страница каталога по умолчанию.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// StorageOperations — операции StorageService, используемые handler'ом.
type StorageOperations interface {
	RegisterAllocation(ctx context.Context, req service.StorageRegistration) (*service.Registration, error)
	ReleaseAllocation(participantID string) error
	VerifyAllocation(ctx context.Context, participantID string) (*service.VerifyReport, error)
	StoreObject(ctx context.Context, req service.StoreRequest) (*model.StoredObject, error)
	RetrieveObject(ctx context.Context, objectID string) ([]byte, *model.StoredObject, error)
	DeleteObject(ctx context.Context, objectID string) (*service.DeleteResult, error)
	ListObjects(limit, offset int) ([]*model.StoredObject, int)
}

// StorageHandler — обработчик storage endpoints.
type StorageHandler struct {
	svc           StorageOperations
	maxObjectSize int64
	logger        *slog.Logger
}

// NewStorageHandler создаёт обработчик storage endpoints.
// maxObjectSize — предельный размер тела POST /api/v1/storage/objects.
func NewStorageHandler(svc StorageOperations, maxObjectSize int64, logger *slog.Logger) *StorageHandler {
	return &StorageHandler{
		svc:           svc,
		maxObjectSize: maxObjectSize,
		logger:        logger.With(slog.String("component", "storage_handler")),
	}
}

// storageRegistrationRequest — тело POST /api/v1/storage/allocations.
type storageRegistrationRequest struct {
	ParticipantID string   `json:"participant_id"`
	CapacityGB    float64  `json:"capacity_gb"`
	StoragePath   string   `json:"storage_path"`
	Endpoint      string   `json:"endpoint,omitempty"`
	UptimeTarget  *float64 `json:"uptime_target,omitempty"`
}

// objectList — ответ GET /api/v1/storage/objects.
type objectList struct {
	Objects []*model.StoredObject `json:"objects"`
	Total   int                   `json:"total"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

// RegisterStorage обрабатывает POST /api/v1/storage/allocations.
// Путь хранения проверяется пробной записью до регистрации.
func (h *StorageHandler) RegisterStorage(w http.ResponseWriter, r *http.Request) {
	var req storageRegistrationRequest
	if !decodeJSON(w, r, &req) || !actsFor(w, r, req.ParticipantID) {
		return
	}

	reg, err := h.svc.RegisterAllocation(r.Context(), service.StorageRegistration{
		ParticipantID: req.ParticipantID,
		CapacityGB:    req.CapacityGB,
		StoragePath:   req.StoragePath,
		Endpoint:      req.Endpoint,
		UptimeTarget:  req.UptimeTarget,
	})
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, reg)
}

// ReleaseStorage обрабатывает DELETE /api/v1/storage/allocations/{participantId}.
// Участник, хранящий реплики, не может освободить выделение (409).
func (h *StorageHandler) ReleaseStorage(w http.ResponseWriter, r *http.Request, participantId router.ParticipantId) {
	if !actsFor(w, r, participantId) {
		return
	}
	if err := h.svc.ReleaseAllocation(participantId); err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyStorage обрабатывает GET /api/v1/storage/allocations/{participantId}/verify.
func (h *StorageHandler) VerifyStorage(w http.ResponseWriter, r *http.Request, participantId router.ParticipantId) {
	report, err := h.svc.VerifyAllocation(r.Context(), participantId)
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListObjects обрабатывает GET /api/v1/storage/objects.
func (h *StorageHandler) ListObjects(w http.ResponseWriter, _ *http.Request, params router.ListObjectsParams) {
	limit := defaultListLimit
	if params.Limit != nil {
		limit = *params.Limit
	}
	offset := 0
	if params.Offset != nil {
		offset = *params.Offset
	}
	if limit < 1 || limit > maxListLimit {
		apierrors.ValidationError(w, fmt.Sprintf("limit должен быть в диапазоне 1-%d", maxListLimit))
		return
	}
	if offset < 0 {
		apierrors.ValidationError(w, "offset не может быть отрицательным")
		return
	}

	objects, total := h.svc.ListObjects(limit, offset)
	if objects == nil {
		objects = []*model.StoredObject{}
	}
	writeJSON(w, http.StatusOK, objectList{
		Objects: objects,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// StoreObject обрабатывает POST /api/v1/storage/objects.
// Тело запроса — содержимое объекта. Объект публикуется только
// после записи всех реплик.
func (h *StorageHandler) StoreObject(w http.ResponseWriter, r *http.Request, params router.StoreObjectParams) {
	var expiresAt *time.Time
	if params.Ttl != nil {
		ttl, err := time.ParseDuration(*params.Ttl)
		if err != nil || ttl <= 0 {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный ttl %q: ожидается положительная длительность", *params.Ttl))
			return
		}
		exp := time.Now().UTC().Add(ttl)
		expiresAt = &exp
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxObjectSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, fmt.Sprintf("Размер объекта превышает %d байт", h.maxObjectSize))
			return
		}
		apierrors.ValidationError(w, "Ошибка чтения тела запроса: "+err.Error())
		return
	}

	obj, err := h.svc.StoreObject(r.Context(), service.StoreRequest{
		Name:      params.Name,
		Data:      data,
		Owner:     params.Owner,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}

	h.logger.Debug("Объект опубликован",
		slog.String("object_id", obj.ID),
		slog.Int64("size", obj.Size),
		slog.Int("replicas", len(obj.Replicas)),
	)
	writeJSON(w, http.StatusCreated, obj)
}

// RetrieveObject обрабатывает GET /api/v1/storage/objects/{objectId}.
// Возвращает содержимое с проверенной контрольной суммой.
func (h *StorageHandler) RetrieveObject(w http.ResponseWriter, r *http.Request, objectId router.ObjectId) {
	data, obj, err := h.svc.RetrieveObject(r.Context(), objectId.String())
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("ETag", `"`+obj.ContentHash+`"`)
	w.Header().Set("X-Object-Name", obj.Name)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DeleteObject обрабатывает DELETE /api/v1/storage/objects/{objectId}.
// Ответ перечисляет участников, у которых реплику удалить не удалось.
func (h *StorageHandler) DeleteObject(w http.ResponseWriter, r *http.Request, objectId router.ObjectId) {
	result, err := h.svc.DeleteObject(r.Context(), objectId.String())
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
