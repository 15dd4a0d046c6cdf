// Пакет errors — конструкторы стандартных ошибок API Resource Coordinator.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromDomain.
package errors //nolint:revive // конфликт имени со stdlib, пакет импортируется как apierrors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
)

// Коды ошибок, определённые в OpenAPI контракте.
// Доменные ошибки передаются с кодом, равным model.ErrorKind.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	CodeReconcileInProgress = "RECONCILE_IN_PROGRESS"
	CodeInternalError       = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// kindStatus — HTTP статус для каждой категории доменной ошибки.
var kindStatus = map[model.ErrorKind]int{
	model.KindAllocationNotFound:   http.StatusNotFound,
	model.KindAllocationExists:     http.StatusConflict,
	model.KindPathUnwritable:       http.StatusUnprocessableEntity,
	model.KindInsufficientCapacity: http.StatusInsufficientStorage,
	model.KindReplicationShortfall: http.StatusServiceUnavailable,
	model.KindObjectUnavailable:    http.StatusBadGateway,
	model.KindObjectNotFound:       http.StatusNotFound,
	model.KindMonthlyCapExceeded:   http.StatusTooManyRequests,
	model.KindTaskExecutionFailure: http.StatusUnprocessableEntity,
	model.KindTaskNotFound:         http.StatusNotFound,
	model.KindInvalidTaskState:     http.StatusConflict,
	model.KindAllocationInUse:      http.StatusConflict,
	model.KindAlertNotFound:        http.StatusNotFound,
	model.KindValidation:           http.StatusBadRequest,
}

// StatusFor возвращает HTTP статус и код для ошибки.
// Ошибки вне доменной таксономии — 500 INTERNAL_ERROR.
func StatusFor(err error) (int, string) {
	var de *model.Error
	if !stderrors.As(err, &de) {
		return http.StatusInternalServerError, CodeInternalError
	}
	status, ok := kindStatus[de.Kind]
	if !ok {
		return http.StatusInternalServerError, CodeInternalError
	}
	return status, string(de.Kind)
}

// FromDomain записывает ответ для ошибки сервисного слоя.
// Текст внутренних ошибок не раскрывается.
func FromDomain(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Внутренняя ошибка сервера"
	}
	WriteError(w, status, code, message)
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// PayloadTooLarge — 413 тело запроса превышает лимит.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

// ReconcileInProgress — 409 сверка уже выполняется.
func ReconcileInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeReconcileInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
