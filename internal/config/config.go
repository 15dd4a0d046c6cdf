// Пакет config — загрузка и валидация конфигурации Resource Coordinator
// из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Resource Coordinator.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Идентификатор узла координатора (источник latency-выборок)
	NodeID string
	// Директория состояния: выделения, каталог объектов, kv, история мониторинга
	DataDir string
	// Путь к директории WAL
	WALDir string

	// Количество реплик объекта
	ReplicaCount int
	// Максимальный размер сохраняемого объекта в байтах
	MaxObjectSize int64
	// Ставки вознаграждения в месяц
	StorageRate   float64
	ComputeRate   float64
	BandwidthRate float64
	// Бонус за uptime: порог и размер в процентах
	UptimeBonusThreshold float64
	UptimeBonusPercent   float64

	// Количество ядер системы (верхняя граница compute-выделения)
	SystemCores int
	// Длительность вычислительного бенчмарка
	BenchmarkDuration time.Duration
	// Максимальная длительность одной задачи
	MaxTaskDuration time.Duration

	// Интервал тика мониторинга
	MonitorInterval time.Duration
	// Интервал повторного измерения скорости каналов
	ReprobeInterval time.Duration
	// Интервал удаления просроченных объектов
	CleanupInterval time.Duration
	// Интервал сверки реплик с каталогом
	ReconcileInterval time.Duration
	// Интервал проверки целостности реплик
	VerifyInterval time.Duration

	// Пороги состояния участника
	OfflineAfter               time.Duration
	DegradedUptime             float64
	DegradedStorageUtilization float64
	// Скользящее окно uptime
	UptimeWindow time.Duration

	// Лимиты истории мониторинга
	SnapshotRetention int
	UptimeRetention   int
	// Количество последних latency-выборок для среднего
	LatencySamples int
	// Срок хранения записей о передачах и задачах
	RecordRetention time.Duration
	// Срок хранения закрытых алертов
	AlertRetention time.Duration

	// Кэш отчётов о вознаграждении
	ReportCacheSize int
	ReportCacheTTL  time.Duration

	// Таймаут сетевых проб
	ProbeTimeout time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// URL JWKS endpoint (опционально; пусто — аутентификация отключена)
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Путь к TLS сертификату и ключу (опционально; пусто — HTTP)
	TLSCert string
	TLSKey  string

	// URL системы расчётов (опционально, проверяется dephealth)
	LedgerURL string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя владельца пода для метки name в topologymetrics (DEPHEALTH_NAME)
	DephealthName string

	// PostgreSQL outbox отчётов (опционально; пусто DBHost — outbox отключён)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Defaults возвращает конфигурацию со значениями по умолчанию.
// NodeID, DataDir и WALDir не заполняются.
func Defaults() *Config {
	return &Config{
		Port:                       8030,
		ReplicaCount:               3,
		MaxObjectSize:              64 << 20,
		StorageRate:                0.10,
		ComputeRate:                5.0,
		BandwidthRate:              0.50,
		UptimeBonusThreshold:       99.0,
		UptimeBonusPercent:         10.0,
		SystemCores:                runtime.NumCPU(),
		BenchmarkDuration:          100 * time.Millisecond,
		MaxTaskDuration:            30 * time.Second,
		MonitorInterval:            5 * time.Minute,
		ReprobeInterval:            24 * time.Hour,
		CleanupInterval:            time.Hour,
		ReconcileInterval:          6 * time.Hour,
		VerifyInterval:             24 * time.Hour,
		OfflineAfter:               30 * time.Minute,
		DegradedUptime:             95.0,
		DegradedStorageUtilization: 95.0,
		UptimeWindow:               30 * 24 * time.Hour,
		SnapshotRetention:          1000,
		UptimeRetention:            10000,
		LatencySamples:             20,
		RecordRetention:            90 * 24 * time.Hour,
		AlertRetention:             30 * 24 * time.Hour,
		ReportCacheSize:            1024,
		ReportCacheTTL:             5 * time.Minute,
		ProbeTimeout:               5 * time.Second,
		LogLevel:                   slog.LevelInfo,
		LogFormat:                  "json",
		JWKSRefreshInterval:        15 * time.Minute,
		JWTLeeway:                  5 * time.Second,
		DephealthCheckInterval:     15 * time.Second,
		DephealthGroup:             "resource-coordinator",
		DBPort:                     5432,
		DBName:                     "resource_coordinator",
		DBUser:                     "resource_coordinator",
		DBSSLMode:                  "disable",
		ShutdownTimeout:            10 * time.Second,
	}
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Перед чтением окружения загружается .env файл (RC_ENV_FILE),
// уже заданные переменные окружения не перезаписываются.
func Load() (*Config, error) {
	envFile := getEnvDefault("RC_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("RC_ENV_FILE: %w", err)
	}

	cfg := Defaults()
	var err error

	// RC_PORT — порт HTTP-сервера (по умолчанию 8030)
	cfg.Port, err = getEnvInt("RC_PORT", cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("RC_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("RC_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// RC_NODE_ID — обязательный
	cfg.NodeID, err = getEnvRequired("RC_NODE_ID")
	if err != nil {
		return nil, err
	}

	// RC_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("RC_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// RC_WAL_DIR — обязательный
	cfg.WALDir, err = getEnvRequired("RC_WAL_DIR")
	if err != nil {
		return nil, err
	}

	// RC_REPLICA_COUNT — количество реплик (по умолчанию 3)
	cfg.ReplicaCount, err = getEnvInt("RC_REPLICA_COUNT", cfg.ReplicaCount)
	if err != nil {
		return nil, fmt.Errorf("RC_REPLICA_COUNT: %w", err)
	}
	if cfg.ReplicaCount < 1 {
		return nil, fmt.Errorf("RC_REPLICA_COUNT: значение должно быть >= 1, получено %d", cfg.ReplicaCount)
	}

	// RC_MAX_OBJECT_SIZE — максимальный размер объекта (по умолчанию 64 MiB)
	cfg.MaxObjectSize, err = getEnvInt64("RC_MAX_OBJECT_SIZE", cfg.MaxObjectSize)
	if err != nil {
		return nil, fmt.Errorf("RC_MAX_OBJECT_SIZE: %w", err)
	}
	if cfg.MaxObjectSize < 1 {
		return nil, fmt.Errorf("RC_MAX_OBJECT_SIZE: значение должно быть >= 1, получено %d", cfg.MaxObjectSize)
	}

	// Ставки вознаграждения
	rates := []struct {
		key string
		dst *float64
	}{
		{"RC_STORAGE_RATE", &cfg.StorageRate},
		{"RC_COMPUTE_RATE", &cfg.ComputeRate},
		{"RC_BANDWIDTH_RATE", &cfg.BandwidthRate},
	}
	for _, r := range rates {
		*r.dst, err = getEnvFloat(r.key, *r.dst)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.key, err)
		}
		if *r.dst < 0 {
			return nil, fmt.Errorf("%s: ставка не может быть отрицательной", r.key)
		}
	}

	// Проценты (0..100)
	percents := []struct {
		key string
		dst *float64
	}{
		{"RC_UPTIME_BONUS_THRESHOLD", &cfg.UptimeBonusThreshold},
		{"RC_UPTIME_BONUS_PERCENT", &cfg.UptimeBonusPercent},
		{"RC_DEGRADED_UPTIME", &cfg.DegradedUptime},
		{"RC_DEGRADED_STORAGE_UTILIZATION", &cfg.DegradedStorageUtilization},
	}
	for _, p := range percents {
		*p.dst, err = getEnvFloat(p.key, *p.dst)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.key, err)
		}
		if *p.dst < 0 || *p.dst > 100 {
			return nil, fmt.Errorf("%s: значение %.2f вне диапазона 0-100", p.key, *p.dst)
		}
	}

	// RC_SYSTEM_CORES — количество ядер (по умолчанию runtime.NumCPU)
	cfg.SystemCores, err = getEnvInt("RC_SYSTEM_CORES", cfg.SystemCores)
	if err != nil {
		return nil, fmt.Errorf("RC_SYSTEM_CORES: %w", err)
	}
	if cfg.SystemCores < 1 {
		return nil, fmt.Errorf("RC_SYSTEM_CORES: значение должно быть >= 1, получено %d", cfg.SystemCores)
	}

	// Длительности и интервалы, все должны быть положительными
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RC_BENCHMARK_DURATION", &cfg.BenchmarkDuration},
		{"RC_MAX_TASK_DURATION", &cfg.MaxTaskDuration},
		{"RC_MONITOR_INTERVAL", &cfg.MonitorInterval},
		{"RC_REPROBE_INTERVAL", &cfg.ReprobeInterval},
		{"RC_CLEANUP_INTERVAL", &cfg.CleanupInterval},
		{"RC_RECONCILE_INTERVAL", &cfg.ReconcileInterval},
		{"RC_VERIFY_INTERVAL", &cfg.VerifyInterval},
		{"RC_OFFLINE_AFTER", &cfg.OfflineAfter},
		{"RC_UPTIME_WINDOW", &cfg.UptimeWindow},
		{"RC_RECORD_RETENTION", &cfg.RecordRetention},
		{"RC_ALERT_RETENTION", &cfg.AlertRetention},
		{"RC_REPORT_CACHE_TTL", &cfg.ReportCacheTTL},
		{"RC_PROBE_TIMEOUT", &cfg.ProbeTimeout},
		{"RC_JWKS_REFRESH_INTERVAL", &cfg.JWKSRefreshInterval},
		{"RC_JWT_LEEWAY", &cfg.JWTLeeway},
		{"RC_DEPHEALTH_CHECK_INTERVAL", &cfg.DephealthCheckInterval},
		{"RC_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		*d.dst, err = getEnvDuration(d.key, *d.dst)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if *d.dst <= 0 {
			return nil, fmt.Errorf("%s: значение должно быть положительным", d.key)
		}
	}

	// Размеры истории и кэша
	sizes := []struct {
		key string
		dst *int
	}{
		{"RC_SNAPSHOT_RETENTION", &cfg.SnapshotRetention},
		{"RC_UPTIME_RETENTION", &cfg.UptimeRetention},
		{"RC_LATENCY_SAMPLES", &cfg.LatencySamples},
		{"RC_REPORT_CACHE_SIZE", &cfg.ReportCacheSize},
	}
	for _, s := range sizes {
		*s.dst, err = getEnvInt(s.key, *s.dst)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.key, err)
		}
		if *s.dst < 1 {
			return nil, fmt.Errorf("%s: значение должно быть >= 1, получено %d", s.key, *s.dst)
		}
	}

	// RC_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("RC_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("RC_LOG_LEVEL: %w", err)
	}

	// RC_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("RC_LOG_FORMAT", cfg.LogFormat)
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("RC_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// RC_JWKS_URL, RC_JWKS_CA_CERT — аутентификация (опционально)
	cfg.JWKSUrl = getEnvDefault("RC_JWKS_URL", "")
	cfg.JWKSCACert = getEnvDefault("RC_JWKS_CA_CERT", "")

	// RC_TLS_CERT, RC_TLS_KEY — задаются вместе или не задаются
	cfg.TLSCert = getEnvDefault("RC_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("RC_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("RC_TLS_CERT и RC_TLS_KEY должны быть заданы вместе")
	}

	// RC_LEDGER_URL — система расчётов (опционально)
	cfg.LedgerURL = getEnvDefault("RC_LEDGER_URL", "")

	// RC_DEPHEALTH_GROUP — имя группы в метриках topologymetrics
	cfg.DephealthGroup = getEnvDefault("RC_DEPHEALTH_GROUP", cfg.DephealthGroup)

	// DEPHEALTH_NAME — имя владельца пода для метки name в topologymetrics
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	// RC_DB_* — PostgreSQL outbox (опционально)
	cfg.DBHost = getEnvDefault("RC_DB_HOST", "")
	cfg.DBPort, err = getEnvInt("RC_DB_PORT", cfg.DBPort)
	if err != nil {
		return nil, fmt.Errorf("RC_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("RC_DB_NAME", cfg.DBName)
	cfg.DBUser = getEnvDefault("RC_DB_USER", cfg.DBUser)
	cfg.DBPassword = getEnvDefault("RC_DB_PASSWORD", "")
	cfg.DBSSLMode = getEnvDefault("RC_DB_SSL_MODE", cfg.DBSSLMode)
	if cfg.DBHost != "" && cfg.DBPassword == "" {
		return nil, fmt.Errorf("RC_DB_PASSWORD: обязателен, если задан RC_DB_HOST")
	}

	return cfg, nil
}

// DatabaseEnabled — настроен ли PostgreSQL outbox.
func (c *Config) DatabaseEnabled() bool {
	return c.DBHost != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvFloat возвращает значение с плавающей точкой или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 5m, 24h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
