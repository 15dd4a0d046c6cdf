package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/allocation"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/api/handlers"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/api/middleware"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/api/openapi"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/config"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/database"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/domain/health"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/monitor"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/probe"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/repository"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/reward"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/scheduler"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/server"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/service"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/catalog"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/kv"
	"github.com/bigkaa/goartstore/resource-coordinator/internal/storage/wal"
)

// Раскладка директории состояния RC_DATA_DIR.
const (
	allocationsSubdir = "allocations"
	catalogSubdir     = "catalog"
	kvSubdir          = "kv"
	historyFile       = "monitor-history.json.zst"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP API и фоновые задачи",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe инициализирует компоненты и работает до сигнала завершения.
func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("ошибка конфигурации: %w", err)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("Resource Coordinator запускается",
		slog.String("node_id", cfg.NodeID),
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Int("replica_count", cfg.ReplicaCount),
	)

	// --- Состояние ---

	for _, dir := range []string{
		filepath.Join(cfg.DataDir, allocationsSubdir),
		filepath.Join(cfg.DataDir, catalogSubdir),
		filepath.Join(cfg.DataDir, kvSubdir),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
		}
	}

	// 1. Реестр выделений
	ledger := allocation.New(filepath.Join(cfg.DataDir, allocationsSubdir), logger)
	if err := ledger.Load(); err != nil {
		return err
	}

	// 2. Каталог объектов
	cat := catalog.New(filepath.Join(cfg.DataDir, catalogSubdir), logger)
	if err := cat.Load(); err != nil {
		return fmt.Errorf("ошибка загрузки каталога: %w", err)
	}

	// 3. WAL
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации WAL: %w", err)
	}

	// 4. Журнал использования (Pebble)
	usage, err := kv.Open(filepath.Join(cfg.DataDir, kvSubdir))
	if err != nil {
		return fmt.Errorf("ошибка открытия журнала использования: %w", err)
	}
	defer func() {
		if cerr := usage.Close(); cerr != nil {
			logger.Error("Ошибка закрытия журнала использования", slog.String("error", cerr.Error()))
		}
	}()

	// --- Сервисы ---

	rates := reward.Rates{
		StoragePerGBMonth:     cfg.StorageRate,
		ComputePerCoreMonth:   cfg.ComputeRate,
		BandwidthPerMbpsMonth: cfg.BandwidthRate,
	}
	tracker := health.NewTracker()
	pinger := probe.NewTCPPinger(cfg.ProbeTimeout)

	storageSvc := service.NewStorageService(ledger, cat, walEngine, service.NewLocalTransport(),
		tracker, cfg.ReplicaCount, rates, logger)
	computeSvc := service.NewComputeService(ledger, probe.NewHashBenchmark(cfg.BenchmarkDuration), usage,
		tracker, cfg.SystemCores, cfg.MaxTaskDuration, rates, logger)
	bandwidthSvc := service.NewBandwidthService(ledger, probe.NewStreamSpeedProbe(cfg.ProbeTimeout), pinger,
		usage, cfg.NodeID, cfg.ProbeTimeout, cfg.LatencySamples, rates, logger)
	reconcileSvc := service.NewReconcileService(storageSvc, logger)

	// WAL recovery: доводим или откатываем незавершённые операции
	if _, err := storageSvc.RecoverPending(ctx); err != nil {
		return fmt.Errorf("ошибка восстановления WAL: %w", err)
	}
	if err := storageSvc.RebuildUsage(); err != nil {
		return err
	}

	// 5. Монитор
	mon := monitor.New(ledger, storageSvc, computeSvc, bandwidthSvc, pinger, tracker, monitor.Config{
		NodeID: cfg.NodeID,
		Thresholds: health.Thresholds{
			OfflineAfter:               cfg.OfflineAfter,
			DegradedUptimePercent:      cfg.DegradedUptime,
			DegradedStorageUtilization: cfg.DegradedStorageUtilization,
		},
		UptimeWindow:      cfg.UptimeWindow,
		SnapshotRetention: cfg.SnapshotRetention,
		UptimeRetention:   cfg.UptimeRetention,
		ProbeTimeout:      cfg.ProbeTimeout,
		Bonus: reward.BonusPolicy{
			ThresholdPercent: cfg.UptimeBonusThreshold,
			BonusPercent:     cfg.UptimeBonusPercent,
		},
		ReportCacheSize: cfg.ReportCacheSize,
		ReportCacheTTL:  cfg.ReportCacheTTL,
		AlertRetention:  cfg.AlertRetention,
	}, logger)

	historyPath := filepath.Join(cfg.DataDir, historyFile)
	if err := mon.LoadCheckpoint(historyPath); err != nil {
		// История мониторинга не критична для запуска
		logger.Warn("История мониторинга не загружена", slog.String("error", err.Error()))
	}

	// 6. PostgreSQL outbox отчётов (опционально)
	var (
		pool      *pgxpool.Pool
		sqlDB     *sql.DB
		dbChecker handlers.DatabaseChecker
	)
	if cfg.DatabaseEnabled() {
		if err := database.Migrate(cfg, logger); err != nil {
			return err
		}
		pool, err = database.Connect(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		sqlDB = stdlib.OpenDBFromPool(pool)
		defer func() { _ = sqlDB.Close() }()

		mon.SetReportSink(repository.NewRewardReportRepository(pool))
		dbChecker = database.NewReadinessChecker(pool)
	}

	// 7. Фоновые задачи
	sched := scheduler.New(logger)
	if err := registerJobs(sched, cfg, mon, storageSvc, computeSvc, bandwidthSvc, reconcileSvc, historyPath, logger); err != nil {
		return err
	}
	sched.Start(ctx)

	// 8. topologymetrics — мониторинг зависимостей
	var dephealthSvc *service.DephealthService
	deps := service.DephealthDeps{LedgerURL: cfg.LedgerURL}
	if sqlDB != nil {
		deps.DB = sqlDB
		deps.PGConnURL = fmt.Sprintf("postgres://%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	if !deps.Empty() {
		dephealthSvc, err = service.NewDephealthService(
			resolveDephealthName(cfg.DephealthName),
			cfg.DephealthGroup,
			deps,
			cfg.DephealthCheckInterval,
			logger,
		)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
			dephealthSvc = nil
		}
	}

	// 9. Handlers
	apiHandler := handlers.NewAPIHandler(
		handlers.NewStorageHandler(storageSvc, cfg.MaxObjectSize, logger),
		handlers.NewComputeHandler(computeSvc),
		handlers.NewBandwidthHandler(bandwidthSvc, ledger),
		handlers.NewParticipantsHandler(mon),
		handlers.NewAlertsHandler(mon, logger),
		handlers.NewNetworkHandler(mon),
		handlers.NewMaintenanceHandler(reconcileSvc),
		handlers.NewHealthHandler(cfg.DataDir, cfg.WALDir, dbChecker),
	)

	// 10. JWT и проверка контракта
	opts := server.Options{}
	if cfg.JWKSUrl != "" {
		jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			ClientTimeout:   cfg.ProbeTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			return fmt.Errorf("ошибка инициализации JWT: %w", err)
		}
		opts.JWTAuth = jwtAuth
		logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))
	} else {
		logger.Warn("RC_JWKS_URL не задан, запуск без аутентификации")
	}

	doc, err := openapi.Load()
	if err != nil {
		return err
	}
	opts.Validator, err = middleware.NewRequestValidator(doc, logger)
	if err != nil {
		return err
	}

	// 11. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, opts)
	runErr := srv.Run(ctx)

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")
	sched.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if err := mon.SaveCheckpoint(historyPath); err != nil {
		logger.Error("Ошибка сохранения истории мониторинга", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("Resource Coordinator остановлен")
	return nil
}

// registerJobs регистрирует периодические задачи координатора.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	mon *monitor.Monitor,
	storageSvc *service.StorageService,
	computeSvc *service.ComputeService,
	bandwidthSvc *service.BandwidthService,
	reconcileSvc *service.ReconcileService,
	historyPath string,
	logger *slog.Logger,
) error {
	jobs := []struct {
		name     string
		interval time.Duration
		fn       scheduler.JobFunc
	}{
		{"monitor_tick", cfg.MonitorInterval, func(ctx context.Context) error {
			_, err := mon.Tick(ctx)
			return err
		}},
		{"bandwidth_reprobe", cfg.ReprobeInterval, func(ctx context.Context) error {
			_, err := bandwidthSvc.Reprobe(ctx)
			return err
		}},
		{"object_cleanup", cfg.CleanupInterval, func(ctx context.Context) error {
			_, err := storageSvc.CleanupExpired(ctx)
			return err
		}},
		{"reconcile", cfg.ReconcileInterval, func(ctx context.Context) error {
			if _, inProgress := reconcileSvc.RunOnce(ctx); inProgress {
				logger.Debug("Reconciliation уже выполняется, пропуск")
			}
			return nil
		}},
		{"replica_verify", cfg.VerifyInterval, func(ctx context.Context) error {
			_, err := mon.VerifyStorage(ctx)
			return err
		}},
		{"monitor_checkpoint", cfg.MonitorInterval, func(context.Context) error {
			return mon.SaveCheckpoint(historyPath)
		}},
		{"record_prune", cfg.CleanupInterval, func(context.Context) error {
			computeSvc.PruneTasks(cfg.RecordRetention)
			mon.PruneAlerts(time.Now().UTC())
			return bandwidthSvc.PruneRecords(time.Now().UTC().Add(-cfg.RecordRetention))
		}},
	}

	for _, j := range jobs {
		if err := sched.Register(j.name, j.interval, j.fn); err != nil {
			return err
		}
	}
	return nil
}
