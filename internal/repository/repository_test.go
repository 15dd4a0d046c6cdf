package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/config"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/database"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер и применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("rc_test"),
		postgres.WithUsername("rc"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}
	portNum, _ := strconv.Atoi(port.Port())

	cfg := config.Defaults()
	cfg.DBHost = host
	cfg.DBPort = portNum
	cfg.DBName = "rc_test"
	cfg.DBUser = "rc"
	cfg.DBPassword = "test-password"

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func sampleReport(participant string, total float64) *model.CombinedRewardReport {
	to := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	return &model.CombinedRewardReport{
		ParticipantID: participant,
		Period:        model.Period{From: to.Add(-model.MonthDuration), To: to},
		Storage:       total,
		Subtotal:      total,
		UptimePercent: 99.5,
		Total:         total,
		GeneratedAt:   to,
	}
}

func TestRewardReports_SaveAndList(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewRewardReportRepository(pool)
	ctx := context.Background()

	if err := repo.SaveReport(ctx, sampleReport("p1", 10)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	// Повторный отчёт за тот же период заменяет прежний
	if err := repo.SaveReport(ctx, sampleReport("p1", 12)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if err := repo.SaveReport(ctx, sampleReport("p2", 7)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	reports, err := repo.ListUnsettled(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnsettled: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("отчётов: хотели 2, получили %d", len(reports))
	}
	if reports[0].ParticipantID != "p1" || reports[0].Total != 12 {
		t.Errorf("первый отчёт: получили %s/%v", reports[0].ParticipantID, reports[0].Total)
	}
}

func TestRewardReports_MarkSettled(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewRewardReportRepository(pool)
	ctx := context.Background()

	if err := repo.SaveReport(ctx, sampleReport("p1", 10)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	reports, err := repo.ListUnsettled(ctx, 10)
	if err != nil || len(reports) != 1 {
		t.Fatalf("ListUnsettled: %v (%d)", err, len(reports))
	}

	if err := repo.MarkSettled(ctx, reports[0].ID, time.Now()); err != nil {
		t.Fatalf("MarkSettled: %v", err)
	}
	if err := repo.MarkSettled(ctx, reports[0].ID, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторная отметка: хотели ErrNotFound, получили %v", err)
	}

	// Переданный отчёт не перезаписывается
	if err := repo.SaveReport(ctx, sampleReport("p1", 99)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	left, err := repo.ListUnsettled(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnsettled: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("непереданных отчётов: хотели 0, получили %d", len(left))
	}
	if err := repo.MarkSettled(ctx, uuid.New(), time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("неизвестный отчёт: хотели ErrNotFound, получили %v", err)
	}
}
