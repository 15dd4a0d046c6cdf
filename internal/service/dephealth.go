// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Resource Coordinator мониторит:
//   - систему расчётов (RC_LEDGER_URL, HTTP GET /health/ready, critical)
//   - PostgreSQL outbox отчётов (pgxpool через *sql.DB, non-critical)
//
// Outbox не критичен: при его недоступности отчёты копятся в памяти
// и сервис продолжает работу.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ledgerHealthPath — probe path системы расчётов.
const ledgerHealthPath = "/health/ready"

// DephealthDeps — зависимости, которые нужно мониторить.
// Пустые поля пропускаются.
type DephealthDeps struct {
	// LedgerURL — базовый URL системы расчётов
	LedgerURL string
	// DB — *sql.DB поверх pgxpool (stdlib.OpenDBFromPool)
	DB *sql.DB
	// PGConnURL — URL PostgreSQL для меток (не для подключения)
	PGConnURL string
}

// Empty возвращает true, если мониторить нечего.
func (d DephealthDeps) Empty() bool {
	return d.LedgerURL == "" && d.DB == nil
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - name — имя вершины графа текущего приложения (DEPHEALTH_NAME)
//   - group — имя группы в метриках (RC_DEPHEALTH_GROUP)
//   - deps — зависимости
//   - checkInterval — интервал проверки (RC_DEPHEALTH_CHECK_INTERVAL)
func NewDephealthService(
	name string,
	group string,
	deps DephealthDeps,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(name, group, deps, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	name string,
	group string,
	deps DephealthDeps,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(name, group, deps, checkInterval, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	name string,
	group string,
	deps DephealthDeps,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	if deps.Empty() {
		return nil, errors.New("не задано ни одной зависимости для мониторинга")
	}

	opts := []dephealth.Option{dephealth.WithLogger(logger)}

	if deps.LedgerURL != "" {
		ledgerOpts := []dephealth.DependencyOption{
			dephealth.FromURL(deps.LedgerURL),
			dephealth.WithHTTPHealthPath(ledgerHealthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		}
		if parsed, err := url.Parse(deps.LedgerURL); err == nil && parsed.Scheme == "https" {
			ledgerOpts = append(ledgerOpts, dephealth.WithHTTPTLSSkipVerify(false))
		}
		opts = append(opts, dephealth.HTTP("ledger", ledgerOpts...))
	}

	if deps.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(deps.DB)),
			dephealth.FromURL(deps.PGConnURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(false),
		))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(name, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
