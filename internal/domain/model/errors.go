package model

import (
	"errors"
	"fmt"
)

// ErrorKind — машиночитаемая категория доменной ошибки.
type ErrorKind string

const (
	KindAllocationNotFound   ErrorKind = "ALLOCATION_NOT_FOUND"
	KindAllocationExists     ErrorKind = "ALLOCATION_EXISTS"
	KindPathUnwritable       ErrorKind = "PATH_UNWRITABLE"
	KindInsufficientCapacity ErrorKind = "INSUFFICIENT_CAPACITY"
	KindReplicationShortfall ErrorKind = "REPLICATION_SHORTFALL"
	KindObjectUnavailable    ErrorKind = "OBJECT_UNAVAILABLE"
	KindObjectNotFound       ErrorKind = "OBJECT_NOT_FOUND"
	KindMonthlyCapExceeded   ErrorKind = "MONTHLY_CAP_EXCEEDED"
	KindTaskExecutionFailure ErrorKind = "TASK_EXECUTION_FAILURE"
	KindTaskNotFound         ErrorKind = "TASK_NOT_FOUND"
	KindInvalidTaskState     ErrorKind = "INVALID_TASK_STATE"
	KindAllocationInUse      ErrorKind = "ALLOCATION_IN_USE"
	KindAlertNotFound        ErrorKind = "ALERT_NOT_FOUND"
	KindValidation           ErrorKind = "VALIDATION_ERROR"
)

// Sentinel-ошибки для сравнения через errors.Is.
// Сравнение выполняется по Kind, поэтому любая *Error того же вида совпадает.
var (
	ErrAllocationNotFound   = &Error{Kind: KindAllocationNotFound}
	ErrAllocationExists     = &Error{Kind: KindAllocationExists}
	ErrPathUnwritable       = &Error{Kind: KindPathUnwritable}
	ErrInsufficientCapacity = &Error{Kind: KindInsufficientCapacity}
	ErrReplicationShortfall = &Error{Kind: KindReplicationShortfall}
	ErrObjectUnavailable    = &Error{Kind: KindObjectUnavailable}
	ErrObjectNotFound       = &Error{Kind: KindObjectNotFound}
	ErrMonthlyCapExceeded   = &Error{Kind: KindMonthlyCapExceeded}
	ErrTaskExecutionFailure = &Error{Kind: KindTaskExecutionFailure}
	ErrTaskNotFound         = &Error{Kind: KindTaskNotFound}
	ErrInvalidTaskState     = &Error{Kind: KindInvalidTaskState}
	ErrAllocationInUse      = &Error{Kind: KindAllocationInUse}
	ErrAlertNotFound        = &Error{Kind: KindAlertNotFound}
	ErrValidation           = &Error{Kind: KindValidation}
)

// Error — доменная ошибка Resource Coordinator.
type Error struct {
	// Kind — категория ошибки
	Kind ErrorKind
	// Resource — вид ресурса (пусто, если не относится к ресурсу)
	Resource ResourceKind
	// Participant — участник, к которому относится ошибка
	Participant string
	// Message — описание для человека
	Message string
	// Err — исходная ошибка (опционально)
	Err error
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap возвращает исходную ошибку.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewError создаёт доменную ошибку.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf возвращает Kind доменной ошибки или пустую строку.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AllocationNotFound — у участника нет выделения ресурса данного вида.
func AllocationNotFound(kind ResourceKind, participant string) *Error {
	return &Error{
		Kind:        KindAllocationNotFound,
		Resource:    kind,
		Participant: participant,
		Message:     fmt.Sprintf("выделение %s для участника %s не найдено", kind, participant),
	}
}

// InsufficientCapacity — запрошенный объём не помещается в свободную ёмкость.
func InsufficientCapacity(kind ResourceKind, participant string, requested, available int64) *Error {
	return &Error{
		Kind:        KindInsufficientCapacity,
		Resource:    kind,
		Participant: participant,
		Message: fmt.Sprintf("недостаточно ёмкости %s у участника %s: запрошено %d, доступно %d",
			kind, participant, requested, available),
	}
}
