package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// rcEnvKeys — все переменные окружения, которые читает Load.
var rcEnvKeys = []string{
	"RC_ENV_FILE", "RC_PORT", "RC_NODE_ID", "RC_DATA_DIR", "RC_WAL_DIR",
	"RC_REPLICA_COUNT", "RC_MAX_OBJECT_SIZE", "RC_STORAGE_RATE", "RC_COMPUTE_RATE", "RC_BANDWIDTH_RATE",
	"RC_UPTIME_BONUS_THRESHOLD", "RC_UPTIME_BONUS_PERCENT", "RC_SYSTEM_CORES",
	"RC_BENCHMARK_DURATION", "RC_MAX_TASK_DURATION", "RC_MONITOR_INTERVAL",
	"RC_REPROBE_INTERVAL", "RC_CLEANUP_INTERVAL", "RC_RECONCILE_INTERVAL", "RC_VERIFY_INTERVAL",
	"RC_OFFLINE_AFTER", "RC_DEGRADED_UPTIME", "RC_DEGRADED_STORAGE_UTILIZATION",
	"RC_UPTIME_WINDOW", "RC_SNAPSHOT_RETENTION", "RC_UPTIME_RETENTION", "RC_LATENCY_SAMPLES",
	"RC_RECORD_RETENTION", "RC_ALERT_RETENTION", "RC_REPORT_CACHE_SIZE", "RC_REPORT_CACHE_TTL", "RC_PROBE_TIMEOUT",
	"RC_LOG_LEVEL", "RC_LOG_FORMAT", "RC_JWKS_URL", "RC_JWKS_CA_CERT",
	"RC_JWKS_REFRESH_INTERVAL", "RC_JWT_LEEWAY", "RC_TLS_CERT", "RC_TLS_KEY",
	"RC_LEDGER_URL", "RC_DEPHEALTH_CHECK_INTERVAL", "RC_DEPHEALTH_GROUP", "DEPHEALTH_NAME",
	"RC_DB_HOST", "RC_DB_PORT", "RC_DB_NAME", "RC_DB_USER", "RC_DB_PASSWORD", "RC_DB_SSL_MODE",
	"RC_SHUTDOWN_TIMEOUT",
}

// clearAllRCEnvVars очищает все переменные RC_* и восстанавливает их после теста.
// Файл .env по умолчанию заменяется несуществующим.
func clearAllRCEnvVars(t *testing.T) {
	t.Helper()
	for _, k := range rcEnvKeys {
		if v, ok := os.LookupEnv(k); ok {
			t.Cleanup(func() { os.Setenv(k, v) })
		} else {
			t.Cleanup(func() { os.Unsetenv(k) })
		}
		os.Unsetenv(k)
	}
	os.Setenv("RC_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

// setEnvVars устанавливает переменные окружения для теста.
func setEnvVars(t *testing.T, vars map[string]string) {
	t.Helper()
	for k, v := range vars {
		os.Setenv(k, v)
	}
}

// requiredEnvVars возвращает минимальный набор обязательных переменных.
func requiredEnvVars() map[string]string {
	return map[string]string{
		"RC_NODE_ID":  "rc-test-01",
		"RC_DATA_DIR": "/tmp/rc/data",
		"RC_WAL_DIR":  "/tmp/rc/wal",
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearAllRCEnvVars(t)
	setEnvVars(t, requiredEnvVars())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 8030 {
		t.Errorf("Port: ожидалось 8030, получено %d", cfg.Port)
	}
	if cfg.NodeID != "rc-test-01" {
		t.Errorf("NodeID: ожидалось 'rc-test-01', получено %q", cfg.NodeID)
	}
	if cfg.ReplicaCount != 3 {
		t.Errorf("ReplicaCount: ожидалось 3, получено %d", cfg.ReplicaCount)
	}
	if cfg.MaxObjectSize != 64<<20 {
		t.Errorf("MaxObjectSize: ожидалось %d, получено %d", 64<<20, cfg.MaxObjectSize)
	}
	if cfg.JWTLeeway != 5*time.Second {
		t.Errorf("JWTLeeway: ожидалось 5s, получено %v", cfg.JWTLeeway)
	}
	if cfg.StorageRate != 0.10 || cfg.ComputeRate != 5.0 || cfg.BandwidthRate != 0.50 {
		t.Errorf("ставки: получено %v/%v/%v", cfg.StorageRate, cfg.ComputeRate, cfg.BandwidthRate)
	}
	if cfg.UptimeBonusThreshold != 99 || cfg.UptimeBonusPercent != 10 {
		t.Errorf("бонус: получено %v/%v", cfg.UptimeBonusThreshold, cfg.UptimeBonusPercent)
	}
	if cfg.MonitorInterval != 5*time.Minute {
		t.Errorf("MonitorInterval: ожидалось 5m, получено %v", cfg.MonitorInterval)
	}
	if cfg.ReprobeInterval != 24*time.Hour {
		t.Errorf("ReprobeInterval: ожидалось 24h, получено %v", cfg.ReprobeInterval)
	}
	if cfg.SnapshotRetention != 1000 || cfg.UptimeRetention != 10000 {
		t.Errorf("retention: получено %d/%d", cfg.SnapshotRetention, cfg.UptimeRetention)
	}
	if cfg.AlertRetention != 720*time.Hour {
		t.Errorf("AlertRetention: ожидалось 720h, получено %v", cfg.AlertRetention)
	}
	if cfg.SystemCores < 1 {
		t.Errorf("SystemCores: ожидалось >= 1, получено %d", cfg.SystemCores)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel: ожидалось INFO, получено %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: ожидалось 'json', получено %q", cfg.LogFormat)
	}
	if cfg.DephealthGroup != "resource-coordinator" {
		t.Errorf("DephealthGroup: ожидалось 'resource-coordinator', получено %q", cfg.DephealthGroup)
	}
	if cfg.DatabaseEnabled() {
		t.Error("DatabaseEnabled: ожидалось false без RC_DB_HOST")
	}
	if cfg.JWKSUrl != "" || cfg.TLSCert != "" {
		t.Errorf("JWKS/TLS по умолчанию отключены: получено %q/%q", cfg.JWKSUrl, cfg.TLSCert)
	}
}

func TestLoad_AllCustomValues(t *testing.T) {
	clearAllRCEnvVars(t)

	vars := requiredEnvVars()
	vars["RC_PORT"] = "9000"
	vars["RC_REPLICA_COUNT"] = "5"
	vars["RC_STORAGE_RATE"] = "0.25"
	vars["RC_UPTIME_BONUS_THRESHOLD"] = "98.5"
	vars["RC_SYSTEM_CORES"] = "16"
	vars["RC_MONITOR_INTERVAL"] = "1m"
	vars["RC_OFFLINE_AFTER"] = "10m"
	vars["RC_LATENCY_SAMPLES"] = "50"
	vars["RC_ALERT_RETENTION"] = "168h"
	vars["RC_LOG_LEVEL"] = "debug"
	vars["RC_LOG_FORMAT"] = "text"
	vars["RC_JWKS_URL"] = "https://auth.example.com/jwks.json"
	vars["RC_TLS_CERT"] = "/tmp/tls.crt"
	vars["RC_TLS_KEY"] = "/tmp/tls.key"
	vars["RC_LEDGER_URL"] = "http://ledger:8080/health"
	vars["RC_DB_HOST"] = "postgres"
	vars["RC_DB_PASSWORD"] = "secret"
	setEnvVars(t, vars)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Port: ожидалось 9000, получено %d", cfg.Port)
	}
	if cfg.ReplicaCount != 5 {
		t.Errorf("ReplicaCount: ожидалось 5, получено %d", cfg.ReplicaCount)
	}
	if cfg.StorageRate != 0.25 {
		t.Errorf("StorageRate: ожидалось 0.25, получено %v", cfg.StorageRate)
	}
	if cfg.UptimeBonusThreshold != 98.5 {
		t.Errorf("UptimeBonusThreshold: ожидалось 98.5, получено %v", cfg.UptimeBonusThreshold)
	}
	if cfg.SystemCores != 16 {
		t.Errorf("SystemCores: ожидалось 16, получено %d", cfg.SystemCores)
	}
	if cfg.MonitorInterval != time.Minute || cfg.OfflineAfter != 10*time.Minute {
		t.Errorf("интервалы: получено %v/%v", cfg.MonitorInterval, cfg.OfflineAfter)
	}
	if cfg.LatencySamples != 50 {
		t.Errorf("LatencySamples: ожидалось 50, получено %d", cfg.LatencySamples)
	}
	if cfg.AlertRetention != 168*time.Hour {
		t.Errorf("AlertRetention: ожидалось 168h, получено %v", cfg.AlertRetention)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
		t.Errorf("логирование: получено %v/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if !cfg.DatabaseEnabled() || cfg.DBPort != 5432 || cfg.DBSSLMode != "disable" {
		t.Errorf("БД: получено host=%q port=%d ssl=%q", cfg.DBHost, cfg.DBPort, cfg.DBSSLMode)
	}
	if cfg.LedgerURL != "http://ledger:8080/health" {
		t.Errorf("LedgerURL: получено %q", cfg.LedgerURL)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, key := range []string{"RC_NODE_ID", "RC_DATA_DIR", "RC_WAL_DIR"} {
		t.Run(key, func(t *testing.T) {
			clearAllRCEnvVars(t)
			vars := requiredEnvVars()
			delete(vars, key)
			setEnvVars(t, vars)

			_, err := Load()
			if err == nil {
				t.Fatalf("ожидалась ошибка при отсутствии %s", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("ошибка должна содержать имя переменной %s: %v", key, err)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"RC_PORT", "abc"},
		{"RC_PORT", "70000"},
		{"RC_REPLICA_COUNT", "0"},
		{"RC_MAX_OBJECT_SIZE", "0"},
		{"RC_JWT_LEEWAY", "abc"},
		{"RC_STORAGE_RATE", "-1"},
		{"RC_COMPUTE_RATE", "много"},
		{"RC_UPTIME_BONUS_THRESHOLD", "101"},
		{"RC_DEGRADED_UPTIME", "-5"},
		{"RC_SYSTEM_CORES", "0"},
		{"RC_MONITOR_INTERVAL", "5 minutes"},
		{"RC_MAX_TASK_DURATION", "-1s"},
		{"RC_SNAPSHOT_RETENTION", "0"},
		{"RC_ALERT_RETENTION", "0s"},
		{"RC_LOG_LEVEL", "verbose"},
		{"RC_LOG_FORMAT", "xml"},
		{"RC_TLS_CERT", "/tmp/only-cert.crt"},
		{"RC_DB_HOST", "postgres"},
		{"RC_DB_PORT", "five"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearAllRCEnvVars(t)
			vars := requiredEnvVars()
			vars[tt.key] = tt.value
			setEnvVars(t, vars)

			_, err := Load()
			if err == nil {
				t.Fatalf("ожидалась ошибка для %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearAllRCEnvVars(t)

	path := filepath.Join(t.TempDir(), "rc.env")
	content := "RC_NODE_ID=from-file\nRC_DATA_DIR=/srv/data\nRC_WAL_DIR=/srv/wal\nRC_PORT=8031\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Setenv("RC_ENV_FILE", path)
	// Переменная окружения имеет приоритет над .env
	os.Setenv("RC_PORT", "8040")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cfg.NodeID != "from-file" || cfg.DataDir != "/srv/data" {
		t.Errorf("значения из .env: получено %q/%q", cfg.NodeID, cfg.DataDir)
	}
	if cfg.Port != 8040 {
		t.Errorf("Port: ожидалось 8040 из окружения, получено %d", cfg.Port)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Port != 8030 || cfg.ReplicaCount != 3 || cfg.ReportCacheSize != 1024 {
		t.Errorf("Defaults: получено port=%d replicas=%d cache=%d", cfg.Port, cfg.ReplicaCount, cfg.ReportCacheSize)
	}
	if cfg.NodeID != "" || cfg.DataDir != "" {
		t.Error("Defaults не заполняет NodeID и DataDir")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.input)
		if err != nil {
			t.Errorf("parseLogLevel(%q): неожиданная ошибка: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q): ожидалось %v, получено %v", tt.input, tt.want, got)
		}
	}
	if _, err := parseLogLevel("trace"); err == nil {
		t.Error("parseLogLevel(trace): ожидалась ошибка")
	}
}
