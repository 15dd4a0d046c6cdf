// Пакет scheduler — периодические фоновые задачи Resource Coordinator.
//
// Каждая задача выполняется в своей горутине с тикером. Все горутины
// получают общий отменяемый контекст; Stop отменяет его и ждёт завершения.
// RunOnce выполняет задачу синхронно, без ожидания тикера.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики планировщика
var (
	// jobRunsTotal — количество запусков задач по результату.
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rc_scheduler_job_runs_total",
		Help: "Общее количество запусков фоновых задач",
	}, []string{"job", "result"})

	// jobDurationSeconds — длительность выполнения задач.
	jobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rc_scheduler_job_duration_seconds",
		Help:    "Длительность выполнения фоновых задач в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"job"})
)

// JobFunc — функция фоновой задачи.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc

	mu      sync.Mutex // защита от параллельного запуска
	running bool
}

// Scheduler — владелец периодических задач.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New создаёт планировщик.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With(slog.String("component", "scheduler")),
		jobs:   make(map[string]*job),
	}
}

// Register добавляет задачу. Регистрация после Start не допускается.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("интервал задачи %s должен быть положительным: %s", name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("планировщик уже запущен, задача %s не зарегистрирована", name)
	}
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("задача %s уже зарегистрирована", name)
	}
	s.jobs[name] = &job{name: name, interval: interval, fn: fn}
	return nil
}

// Jobs возвращает имена зарегистрированных задач.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start запускает горутины всех задач.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.run(runCtx, j)

		s.logger.Info("Фоновая задача запущена",
			slog.String("job", j.name),
			slog.String("interval", j.interval.String()),
		)
	}
}

// Stop отменяет все задачи и ждёт завершения выполняющихся.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("Планировщик остановлен")
}

// RunOnce синхронно выполняет задачу name.
// Если задача уже выполняется, возвращает false без запуска.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return false, fmt.Errorf("задача %s не зарегистрирована", name)
	}
	return s.execute(ctx, j)
}

// run — основной цикл горутины задачи.
func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.execute(ctx, j)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) (bool, error) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		s.logger.Warn("Задача уже выполняется, пропуск", slog.String("job", j.name))
		return false, nil
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	start := time.Now()
	err := j.fn(ctx)
	duration := time.Since(start)

	jobDurationSeconds.WithLabelValues(j.name).Observe(duration.Seconds())
	if err != nil {
		jobRunsTotal.WithLabelValues(j.name, "error").Inc()
		s.logger.Error("Ошибка фоновой задачи",
			slog.String("job", j.name),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return true, err
	}

	jobRunsTotal.WithLabelValues(j.name, "ok").Inc()
	s.logger.Debug("Фоновая задача выполнена",
		slog.String("job", j.name),
		slog.Duration("duration", duration),
	)
	return true, nil
}
