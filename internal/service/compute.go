// compute.go — выделение вычислительной мощности, планирование и исполнение задач.
//
// Политика планирования жадная: из участников со свободными ядрами
// выбирается участник с наибольшим benchmark score, при равенстве —
// с наименьшей текущей загрузкой. Справедливое распределение не реализуется.
//
// Исполнение задачи не вытесняется: после перехода в running задача
// выполняется до завершения или ошибки, отмена контекста вызывающего
// на неё не влияет.
package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/allocation"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/health"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/probe"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/reward"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/kv"
)

// ComputeRegistration — параметры регистрации compute-выделения.
type ComputeRegistration struct {
	ParticipantID string
	Cores         int
	Endpoint      string
	UptimeTarget  *float64
}

// TaskRequest — параметры создания задачи.
type TaskRequest struct {
	Category        model.TaskCategory
	Priority        model.TaskPriority
	EstimatedCostMs int64
	// Cores — требуемые ядра (0 — одно ядро)
	Cores int
}

// ComputeService — вычислительные выделения и задачи.
type ComputeService struct {
	ledger          *allocation.Ledger
	benchmark       probe.Benchmarker
	usage           *kv.Store
	eligibility     Eligibility
	systemCores     int
	maxTaskDuration time.Duration
	rates           reward.Rates
	now             func() time.Time
	logger          *slog.Logger

	mu    sync.Mutex
	tasks map[string]*model.ComputeTask
}

// NewComputeService создаёт вычислительный сервис.
func NewComputeService(
	ledger *allocation.Ledger,
	benchmark probe.Benchmarker,
	usage *kv.Store,
	eligibility Eligibility,
	systemCores int,
	maxTaskDuration time.Duration,
	rates reward.Rates,
	logger *slog.Logger,
) *ComputeService {
	if eligibility == nil {
		eligibility = allEligible{}
	}
	return &ComputeService{
		ledger:          ledger,
		benchmark:       benchmark,
		usage:           usage,
		eligibility:     eligibility,
		systemCores:     systemCores,
		maxTaskDuration: maxTaskDuration,
		rates:           rates,
		now:             func() time.Time { return time.Now().UTC() },
		logger:          logger.With(slog.String("component", "compute_service")),
		tasks:           make(map[string]*model.ComputeTask),
	}
}

// RegisterAllocation проверяет число ядер, выполняет бенчмарк и регистрирует выделение.
func (s *ComputeService) RegisterAllocation(ctx context.Context, req ComputeRegistration) (*Registration, error) {
	if req.Cores <= 0 || req.Cores > s.systemCores {
		return nil, &model.Error{
			Kind:        model.KindValidation,
			Resource:    model.KindCompute,
			Participant: req.ParticipantID,
			Message: fmt.Sprintf("количество ядер должно быть от 1 до %d, получено %d",
				s.systemCores, req.Cores),
		}
	}

	score, err := s.benchmark.Benchmark(ctx)
	if err != nil {
		operationsTotal.WithLabelValues("compute_register", "error").Inc()
		return nil, fmt.Errorf("ошибка бенчмарка: %w", err)
	}

	a, err := s.ledger.Register(model.Allocation{
		ParticipantID:  req.ParticipantID,
		Kind:           model.KindCompute,
		Total:          int64(req.Cores),
		BenchmarkScore: score,
		Endpoint:       req.Endpoint,
		UptimeTarget:   req.UptimeTarget,
	})
	operationsTotal.WithLabelValues("compute_register", resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.logger.Info("Compute-выделение зарегистрировано",
		slog.String("participant_id", a.ParticipantID),
		slog.Int64("cores", a.Total),
		slog.Float64("benchmark_score", score),
	)

	return &Registration{
		Allocation:             a,
		EstimatedMonthlyReward: reward.EstimateMonthly(a, s.rates),
	}, nil
}

// ReleaseAllocation удаляет compute-выделение. Участник с задачей в running
// или с зарезервированными ядрами не удаляется.
func (s *ComputeService) ReleaseAllocation(participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.AssignedTo != participantID {
			continue
		}
		if t.Status == model.TaskRunning {
			return &model.Error{
				Kind:        model.KindAllocationInUse,
				Resource:    model.KindCompute,
				Participant: participantID,
				Message:     fmt.Sprintf("у участника %s выполняется задача %s", participantID, t.ID),
			}
		}
	}
	if err := s.ledger.RemoveIdle(participantID, model.KindCompute); err != nil {
		return err
	}

	// Pending-задачи участника переназначаются при исполнении
	for _, t := range s.tasks {
		if t.AssignedTo == participantID && t.Status == model.TaskPending {
			t.AssignedTo = ""
		}
	}
	return nil
}

// CreateTask создаёт задачу в статусе pending и сразу назначает участника.
// Если подходящего участника нет, задача остаётся без назначения.
func (s *ComputeService) CreateTask(req TaskRequest) (*model.ComputeTask, error) {
	if _, err := model.ParseTaskCategory(string(req.Category)); err != nil {
		return nil, model.NewError(model.KindValidation, "%s", err.Error())
	}
	priority, err := model.ParseTaskPriority(string(req.Priority))
	if err != nil {
		return nil, model.NewError(model.KindValidation, "%s", err.Error())
	}
	if req.EstimatedCostMs < 0 {
		return nil, model.NewError(model.KindValidation, "оценка стоимости не может быть отрицательной")
	}
	cores := req.Cores
	if cores == 0 {
		cores = 1
	}
	if cores < 0 {
		return nil, model.NewError(model.KindValidation, "количество ядер не может быть отрицательным")
	}

	t := &model.ComputeTask{
		ID:              uuid.New().String(),
		Category:        req.Category,
		Priority:        priority,
		EstimatedCostMs: req.EstimatedCostMs,
		Cores:           cores,
		Status:          model.TaskPending,
		CreatedAt:       s.now(),
	}
	if a := s.pickParticipant(cores); a != nil {
		t.AssignedTo = a.ParticipantID
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()

	operationsTotal.WithLabelValues("create_task", "ok").Inc()
	s.logger.Info("Задача создана",
		slog.String("task_id", t.ID),
		slog.String("category", string(t.Category)),
		slog.String("priority", string(t.Priority)),
		slog.String("assigned_to", t.AssignedTo),
	)
	return t.Clone(), nil
}

// pickParticipant выбирает участника с наибольшим benchmark score
// среди тех, у кого свободно не меньше cores ядер.
func (s *ComputeService) pickParticipant(cores int) *model.Allocation {
	var candidates []*model.Allocation
	for _, a := range s.ledger.List(model.KindCompute) {
		if a.Total <= 0 || !a.HasRoom(int64(cores)) {
			continue
		}
		if !s.eligibility.CanPerform(a.ParticipantID, health.OpSchedule) {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].BenchmarkScore != candidates[j].BenchmarkScore {
			return candidates[i].BenchmarkScore > candidates[j].BenchmarkScore
		}
		return candidates[i].Utilization() < candidates[j].Utilization()
	})
	return candidates[0]
}

// ExecuteTask переводит задачу pending → running, выполняет работу,
// пропорциональную оценке стоимости, и завершает её.
// Ошибка исполнения записывается в задачу и возвращается как TaskExecutionFailure.
func (s *ComputeService) ExecuteTask(ctx context.Context, taskID string) (*model.ComputeTask, error) {
	t, err := s.startTask(taskID)
	if err != nil {
		operationsTotal.WithLabelValues("execute_task", "error").Inc()
		return nil, err
	}

	// Исполнение не вытесняется отменой запроса
	runCtx := context.WithoutCancel(ctx)

	start := time.Now()
	result, workErr := s.runWork(runCtx, t)
	elapsed := time.Since(start)

	done, err := s.finishTask(t, result, workErr, elapsed)
	operationsTotal.WithLabelValues("execute_task", resultLabel(err)).Inc()
	return done, err
}

// startTask назначает участника при необходимости, резервирует ядра
// и переводит задачу в running.
func (s *ComputeService) startTask(taskID string) (*model.ComputeTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, taskNotFound(taskID)
	}
	if t.Status != model.TaskPending {
		return nil, &model.Error{
			Kind:    model.KindInvalidTaskState,
			Message: fmt.Sprintf("задача %s в статусе %s, ожидается pending", t.ID, t.Status),
		}
	}

	if t.AssignedTo == "" || s.ledger.Reserve(t.AssignedTo, model.KindCompute, int64(t.Cores)) != nil {
		// Переназначение допустимо только до старта
		a := s.pickParticipant(t.Cores)
		if a == nil {
			t.AssignedTo = ""
			return nil, &model.Error{
				Kind:     model.KindInsufficientCapacity,
				Resource: model.KindCompute,
				Message:  fmt.Sprintf("нет участника со свободными %d ядрами для задачи %s", t.Cores, t.ID),
			}
		}
		if err := s.ledger.Reserve(a.ParticipantID, model.KindCompute, int64(t.Cores)); err != nil {
			return nil, err
		}
		t.AssignedTo = a.ParticipantID
	}

	now := s.now()
	t.Status = model.TaskRunning
	t.StartedAt = &now

	s.logger.Info("Задача запущена",
		slog.String("task_id", t.ID),
		slog.String("participant_id", t.AssignedTo),
		slog.Int("cores", t.Cores),
	)
	return t.Clone(), nil
}

// runWork выполняет работу задачи: цепочку хэшей длительностью EstimatedCostMs.
func (s *ComputeService) runWork(ctx context.Context, t *model.ComputeTask) (string, error) {
	d := time.Duration(t.EstimatedCostMs) * time.Millisecond
	if s.maxTaskDuration > 0 && d > s.maxTaskDuration {
		return "", fmt.Errorf("оценка стоимости %s превышает максимальную длительность %s",
			d, s.maxTaskDuration)
	}

	_, _, digest := probe.HashChain(ctx, d)
	return hex.EncodeToString(digest[:]), nil
}

// finishTask фиксирует результат, освобождает ядра и пишет запись об использовании.
func (s *ComputeService) finishTask(
	started *model.ComputeTask,
	result string,
	workErr error,
	elapsed time.Duration,
) (*model.ComputeTask, error) {
	if err := s.ledger.Release(started.AssignedTo, model.KindCompute, int64(started.Cores)); err != nil {
		s.logger.Warn("Не удалось освободить ядра",
			slog.String("task_id", started.ID),
			slog.String("participant_id", started.AssignedTo),
			slog.String("error", err.Error()),
		)
	}

	now := s.now()

	s.mu.Lock()
	t := s.tasks[started.ID]
	t.CompletedAt = &now
	if workErr != nil {
		t.Status = model.TaskFailed
		t.Error = workErr.Error()
	} else {
		t.Status = model.TaskCompleted
		t.Result = result
	}
	done := t.Clone()
	s.mu.Unlock()

	taskDurationSeconds.WithLabelValues(string(done.Category), string(done.Status)).Observe(elapsed.Seconds())

	if workErr != nil {
		s.logger.Warn("Задача завершилась ошибкой",
			slog.String("task_id", done.ID),
			slog.String("participant_id", done.AssignedTo),
			slog.String("error", workErr.Error()),
		)
		return done, &model.Error{
			Kind:        model.KindTaskExecutionFailure,
			Resource:    model.KindCompute,
			Participant: done.AssignedTo,
			Message:     fmt.Sprintf("задача %s завершилась ошибкой", done.ID),
			Err:         workErr,
		}
	}

	s.recordUsage(done, elapsed, now)

	s.logger.Info("Задача выполнена",
		slog.String("task_id", done.ID),
		slog.String("participant_id", done.AssignedTo),
		slog.Duration("elapsed", elapsed),
	)
	return done, nil
}

func (s *ComputeService) recordUsage(t *model.ComputeTask, elapsed time.Duration, at time.Time) {
	a, err := s.ledger.Get(t.AssignedTo, model.KindCompute)
	if err != nil {
		return
	}
	u := model.ComputeUsage{
		ParticipantID:  t.AssignedTo,
		TaskID:         t.ID,
		CoresUsed:      t.Cores,
		CoresAllocated: int(a.Total),
		Elapsed:        elapsed,
		RecordedAt:     at,
	}
	if err := s.usage.PutJSON(kv.TimeKey(kv.PrefixUsage, u.ParticipantID, at, u.TaskID), u); err != nil {
		s.logger.Error("Не удалось записать использование ядер",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
}

// GetTask возвращает копию задачи.
func (s *ComputeService) GetTask(taskID string) (*model.ComputeTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, taskNotFound(taskID)
	}
	return t.Clone(), nil
}

// ListTasks возвращает задачи в статусе status ("" — все), старые первыми.
func (s *ComputeService) ListTasks(status model.TaskStatus) []*model.ComputeTask {
	s.mu.Lock()
	result := make([]*model.ComputeTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if status == "" || t.Status == status {
			result = append(result, t.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// PruneTasks удаляет завершённые задачи старше olderThan. Возвращает количество удалённых.
func (s *ComputeService) PruneTasks(olderThan time.Duration) int {
	cutoff := s.now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tasks {
		if t.Status.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}

// AverageUsagePercent — средняя загрузка ядер по задачам участника за период.
// Без записей возвращает 0.
func (s *ComputeService) AverageUsagePercent(participantID string, period model.Period) (float64, error) {
	var sum float64
	var n int
	err := s.usage.IterateRange(kv.PrefixUsage, participantID, period.From, period.To, func(_, value []byte) error {
		u, err := kv.DecodeJSON[model.ComputeUsage](value)
		if err != nil {
			return err
		}
		sum += u.UsagePercent()
		n++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

// CalculateReward — ядра × средняя загрузка × ставка × месяцы.
func (s *ComputeService) CalculateReward(participantID string, period model.Period) (float64, error) {
	a, err := s.ledger.Get(participantID, model.KindCompute)
	if err != nil {
		return 0, err
	}
	usage, err := s.AverageUsagePercent(participantID, period)
	if err != nil {
		return 0, err
	}
	return reward.ComputeReward(a.Total, usage, s.rates.ComputePerCoreMonth, period.Months()), nil
}

func taskNotFound(taskID string) error {
	return &model.Error{
		Kind:     model.KindTaskNotFound,
		Resource: model.KindCompute,
		Message:  fmt.Sprintf("задача %s не найдена", taskID),
	}
}
