package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/allocation"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
)

func newComputeEnv(t *testing.T, scores ...float64) (*ComputeService, *allocation.Ledger) {
	t.Helper()
	ledger := allocation.New(t.TempDir(), testLogger())
	svc := NewComputeService(ledger, &fakeBenchmark{scores: scores}, newMemKV(t), nil,
		8, time.Second, testRates, testLogger())
	return svc, ledger
}

func registerCores(t *testing.T, svc *ComputeService, participantID string, cores int) {
	t.Helper()
	if _, err := svc.RegisterAllocation(context.Background(), ComputeRegistration{
		ParticipantID: participantID,
		Cores:         cores,
	}); err != nil {
		t.Fatalf("Ошибка регистрации %s: %v", participantID, err)
	}
}

func TestComputeRegister_CoresBounds(t *testing.T) {
	svc, _ := newComputeEnv(t)

	tests := []struct {
		name  string
		cores int
		ok    bool
	}{
		{"ноль ядер", 0, false},
		{"больше системных", 9, false},
		{"все системные", 8, true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RegisterAllocation(context.Background(), ComputeRegistration{
				ParticipantID: string(rune('a' + i)),
				Cores:         tt.cores,
			})
			if tt.ok && err != nil {
				t.Errorf("неожиданная ошибка: %v", err)
			}
			if !tt.ok && !errors.Is(err, model.ErrValidation) {
				t.Errorf("ожидали VALIDATION_ERROR, получили %v", err)
			}
		})
	}
}

func TestComputeRegister_StoresBenchmarkScore(t *testing.T) {
	svc, ledger := newComputeEnv(t, 42.5)
	registerCores(t, svc, "a", 4)

	a, err := ledger.Get("a", model.KindCompute)
	if err != nil {
		t.Fatal(err)
	}
	if a.BenchmarkScore != 42.5 {
		t.Errorf("BenchmarkScore: хотели 42.5, получили %v", a.BenchmarkScore)
	}
	if a.Total != 4 {
		t.Errorf("Total: хотели 4, получили %d", a.Total)
	}
}

func TestCreateTask_AssignsHighestBenchmark(t *testing.T) {
	svc, _ := newComputeEnv(t, 80, 95, 70)
	registerCores(t, svc, "A", 4)
	registerCores(t, svc, "B", 4)
	registerCores(t, svc, "C", 4)

	task, err := svc.CreateTask(TaskRequest{Category: model.CategoryGeneral, EstimatedCostMs: 1})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.AssignedTo != "B" {
		t.Errorf("AssignedTo: хотели B, получили %s", task.AssignedTo)
	}
	if task.Status != model.TaskPending {
		t.Errorf("Status: хотели pending, получили %s", task.Status)
	}
	if task.Priority != model.PriorityNormal || task.Cores != 1 {
		t.Errorf("значения по умолчанию: priority %s, cores %d", task.Priority, task.Cores)
	}
}

func TestCreateTask_TieBrokenByLoad(t *testing.T) {
	svc, ledger := newComputeEnv(t, 50, 50)
	registerCores(t, svc, "busy", 4)
	registerCores(t, svc, "idle", 4)

	if err := ledger.Reserve("busy", model.KindCompute, 2); err != nil {
		t.Fatal(err)
	}

	task, err := svc.CreateTask(TaskRequest{Category: model.CategoryValidation})
	if err != nil {
		t.Fatal(err)
	}
	if task.AssignedTo != "idle" {
		t.Errorf("AssignedTo: хотели idle, получили %s", task.AssignedTo)
	}
}

func TestCreateTask_InvalidCategory(t *testing.T) {
	svc, _ := newComputeEnv(t)

	_, err := svc.CreateTask(TaskRequest{Category: "mining"})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("ожидали VALIDATION_ERROR, получили %v", err)
	}
}

func TestExecuteTask_Completes(t *testing.T) {
	svc, ledger := newComputeEnv(t, 10)
	registerCores(t, svc, "a", 4)

	task, err := svc.CreateTask(TaskRequest{Category: model.CategoryConsensus, EstimatedCostMs: 2})
	if err != nil {
		t.Fatal(err)
	}

	done, err := svc.ExecuteTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if done.Status != model.TaskCompleted {
		t.Errorf("Status: хотели completed, получили %s", done.Status)
	}
	if len(done.Result) != 64 {
		t.Errorf("Result должен быть hex-дайджестом, получили %q", done.Result)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Error("StartedAt и CompletedAt должны быть заполнены")
	}

	a, _ := ledger.Get("a", model.KindCompute)
	if a.Used != 0 {
		t.Errorf("Used после завершения: хотели 0, получили %d", a.Used)
	}

	period := model.Period{From: time.Now().Add(-time.Hour), To: time.Now().Add(time.Hour)}
	usage, err := svc.AverageUsagePercent("a", period)
	if err != nil {
		t.Fatal(err)
	}
	if usage != 25 {
		t.Errorf("AverageUsagePercent: хотели 25, получили %v", usage)
	}
}

func TestExecuteTask_NotPending(t *testing.T) {
	svc, _ := newComputeEnv(t)
	registerCores(t, svc, "a", 2)

	task, _ := svc.CreateTask(TaskRequest{Category: model.CategoryGeneral})
	if _, err := svc.ExecuteTask(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}

	_, err := svc.ExecuteTask(context.Background(), task.ID)
	if !errors.Is(err, model.ErrInvalidTaskState) {
		t.Errorf("ожидали INVALID_TASK_STATE, получили %v", err)
	}
}

func TestExecuteTask_NotFound(t *testing.T) {
	svc, _ := newComputeEnv(t)

	_, err := svc.ExecuteTask(context.Background(), "missing")
	if !errors.Is(err, model.ErrTaskNotFound) {
		t.Errorf("ожидали TASK_NOT_FOUND, получили %v", err)
	}
}

func TestExecuteTask_FailureRecorded(t *testing.T) {
	svc, ledger := newComputeEnv(t)
	registerCores(t, svc, "a", 2)

	// Стоимость превышает максимальную длительность (1s)
	task, _ := svc.CreateTask(TaskRequest{Category: model.CategoryContract, EstimatedCostMs: 5000})

	done, err := svc.ExecuteTask(context.Background(), task.ID)
	if !errors.Is(err, model.ErrTaskExecutionFailure) {
		t.Fatalf("ожидали TASK_EXECUTION_FAILURE, получили %v", err)
	}
	if done.Status != model.TaskFailed || done.Error == "" {
		t.Errorf("задача должна быть failed с сообщением, получили %s %q", done.Status, done.Error)
	}

	a, _ := ledger.Get("a", model.KindCompute)
	if a.Used != 0 {
		t.Errorf("Used после ошибки: хотели 0, получили %d", a.Used)
	}

	stored, _ := svc.GetTask(task.ID)
	if stored.Status != model.TaskFailed {
		t.Errorf("сохранённый Status: хотели failed, получили %s", stored.Status)
	}
}

func TestExecuteTask_NoCapacityStaysPending(t *testing.T) {
	svc, _ := newComputeEnv(t)

	task, err := svc.CreateTask(TaskRequest{Category: model.CategoryGeneral})
	if err != nil {
		t.Fatal(err)
	}
	if task.AssignedTo != "" {
		t.Fatalf("без участников задача не назначается, получили %s", task.AssignedTo)
	}

	_, err = svc.ExecuteTask(context.Background(), task.ID)
	if !errors.Is(err, model.ErrInsufficientCapacity) {
		t.Fatalf("ожидали INSUFFICIENT_CAPACITY, получили %v", err)
	}

	// После регистрации участника задача назначается при исполнении
	registerCores(t, svc, "late", 1)
	done, err := svc.ExecuteTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if done.AssignedTo != "late" {
		t.Errorf("AssignedTo: хотели late, получили %s", done.AssignedTo)
	}
}

func TestExecuteTask_CallerCancellationIgnored(t *testing.T) {
	svc, _ := newComputeEnv(t)
	registerCores(t, svc, "a", 1)

	task, _ := svc.CreateTask(TaskRequest{Category: model.CategoryGeneral, EstimatedCostMs: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done, err := svc.ExecuteTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if done.Status != model.TaskCompleted {
		t.Errorf("Status: хотели completed, получили %s", done.Status)
	}
}

func TestListAndPruneTasks(t *testing.T) {
	svc, _ := newComputeEnv(t)
	registerCores(t, svc, "a", 2)

	first, _ := svc.CreateTask(TaskRequest{Category: model.CategoryGeneral})
	_, _ = svc.CreateTask(TaskRequest{Category: model.CategoryGeneral})
	if _, err := svc.ExecuteTask(context.Background(), first.ID); err != nil {
		t.Fatal(err)
	}

	if n := len(svc.ListTasks("")); n != 2 {
		t.Errorf("все задачи: хотели 2, получили %d", n)
	}
	if n := len(svc.ListTasks(model.TaskPending)); n != 1 {
		t.Errorf("pending: хотели 1, получили %d", n)
	}

	svc.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	if removed := svc.PruneTasks(24 * time.Hour); removed != 1 {
		t.Errorf("PruneTasks: хотели 1, получили %d", removed)
	}
	if n := len(svc.ListTasks("")); n != 1 {
		t.Errorf("после очистки: хотели 1, получили %d", n)
	}
}

func TestComputeReleaseAllocation(t *testing.T) {
	svc, ledger := newComputeEnv(t)
	registerCores(t, svc, "a", 2)

	task, _ := svc.CreateTask(TaskRequest{Category: model.CategoryGeneral})

	if err := svc.ReleaseAllocation("a"); err != nil {
		t.Fatalf("ReleaseAllocation: %v", err)
	}
	if _, err := ledger.Get("a", model.KindCompute); !errors.Is(err, model.ErrAllocationNotFound) {
		t.Errorf("выделение должно быть удалено: %v", err)
	}
	stored, _ := svc.GetTask(task.ID)
	if stored.AssignedTo != "" {
		t.Errorf("pending-задача должна потерять назначение, получили %s", stored.AssignedTo)
	}
}

func TestComputeReleaseAllocation_ReservedCores(t *testing.T) {
	svc, ledger := newComputeEnv(t)
	registerCores(t, svc, "a", 2)

	// Ядра зарезервированы задачей, которая ещё не отмечена running
	if err := ledger.Reserve("a", model.KindCompute, 1); err != nil {
		t.Fatal(err)
	}
	if err := svc.ReleaseAllocation("a"); !errors.Is(err, model.ErrAllocationInUse) {
		t.Fatalf("ожидали AllocationInUse, получили %v", err)
	}
	if err := ledger.Release("a", model.KindCompute, 1); err != nil {
		t.Fatal(err)
	}
	if err := svc.ReleaseAllocation("a"); err != nil {
		t.Errorf("ReleaseAllocation после освобождения ядер: %v", err)
	}
}

func TestComputeCalculateReward(t *testing.T) {
	svc, _ := newComputeEnv(t)
	registerCores(t, svc, "a", 4)

	task, _ := svc.CreateTask(TaskRequest{Category: model.CategoryGeneral, Cores: 2})
	if _, err := svc.ExecuteTask(context.Background(), task.ID); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	period := model.Period{From: now.Add(-model.MonthDuration / 2), To: now.Add(model.MonthDuration / 2)}

	// 4 ядра × 50% × 5.0 × 1 месяц
	got, err := svc.CalculateReward("a", period)
	if err != nil {
		t.Fatal(err)
	}
	if got < 9.999 || got > 10.001 {
		t.Errorf("CalculateReward: хотели 10, получили %v", got)
	}
}
