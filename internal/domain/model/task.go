package model

import (
	"fmt"
	"time"
)

// TaskCategory — категория вычислительной задачи.
type TaskCategory string

const (
	// CategoryGeneral — вычисления общего назначения
	CategoryGeneral TaskCategory = "general"
	// CategoryValidation — проверка данных (пересчёт хэшей)
	CategoryValidation TaskCategory = "validation"
	// CategoryConsensus — хэширование в стиле консенсуса (цепочка хэшей)
	CategoryConsensus TaskCategory = "consensus"
	// CategoryContract — исполнение контракта
	CategoryContract TaskCategory = "contract"
)

// ParseTaskCategory преобразует строку в TaskCategory.
func ParseTaskCategory(s string) (TaskCategory, error) {
	switch c := TaskCategory(s); c {
	case CategoryGeneral, CategoryValidation, CategoryConsensus, CategoryContract:
		return c, nil
	default:
		return "", fmt.Errorf("недопустимая категория задачи: %q", s)
	}
}

// TaskPriority — приоритет задачи.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityNormal   TaskPriority = "normal"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// ParseTaskPriority преобразует строку в TaskPriority. Пустая строка — normal.
func ParseTaskPriority(s string) (TaskPriority, error) {
	switch p := TaskPriority(s); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return p, nil
	default:
		return "", fmt.Errorf("недопустимый приоритет задачи: %q", s)
	}
}

// TaskStatus — статус задачи: pending → running → completed|failed.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// IsTerminal возвращает true для completed и failed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ComputeTask — дискретная вычислительная задача.
// Назначенный участник может меняться только в статусе pending.
type ComputeTask struct {
	ID              string       `json:"id"`
	Category        TaskCategory `json:"category"`
	Priority        TaskPriority `json:"priority"`
	EstimatedCostMs int64        `json:"estimated_cost_ms"`
	// Cores — количество ядер, резервируемых на время исполнения
	Cores      int        `json:"cores"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	Status     TaskStatus `json:"status"`
	// Result — hex-дайджест результата работы (completed)
	Result string `json:"result,omitempty"`
	// Error — сообщение об ошибке (failed)
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone возвращает копию задачи.
func (t *ComputeTask) Clone() *ComputeTask {
	c := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// ComputeUsage — запись об использовании ядер завершённой задачей.
// Используется для расчёта вознаграждения за compute.
type ComputeUsage struct {
	ParticipantID  string        `json:"participant_id"`
	TaskID         string        `json:"task_id"`
	CoresUsed      int           `json:"cores_used"`
	CoresAllocated int           `json:"cores_allocated"`
	Elapsed        time.Duration `json:"elapsed"`
	RecordedAt     time.Time     `json:"recorded_at"`
}

// UsagePercent возвращает загрузку ядер участника этой задачей (0..100).
func (u *ComputeUsage) UsagePercent() float64 {
	if u.CoresAllocated <= 0 {
		return 0
	}
	p := float64(u.CoresUsed) / float64(u.CoresAllocated) * 100
	if p > 100 {
		return 100
	}
	return p
}
