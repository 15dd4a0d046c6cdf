// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/config"
)

// Статусы проверок.
const (
	statusOK       = "ok"
	statusFail     = "fail"
	statusDegraded = "degraded"
)

// serviceName — имя сервиса в ответах health.
const serviceName = "resource-coordinator"

// DatabaseChecker — проверка готовности PostgreSQL outbox.
type DatabaseChecker interface {
	CheckReady() (status string, message string)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — директория состояния (выделения, каталог, kv)
	dataDir string
	// walDir — директория WAL
	walDir string
	// db — проверка outbox (nil, если PostgreSQL не настроен)
	db DatabaseChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// db может быть nil.
func NewHealthHandler(dataDir, walDir string, db DatabaseChecker) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		dataDir: dataDir,
		walDir:  walDir,
		db:      db,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
	})
}

// HealthReady обрабатывает GET /health/ready.
// Недоступная директория состояния — fail (503).
// Недоступные WAL или outbox — degraded (200).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := statusOK
	httpStatus := http.StatusOK

	checks := map[string]any{
		"data_dir": checkWritable(h.dataDir, "Директория состояния"),
		"wal":      checkWritable(h.walDir, "Директория WAL"),
	}
	if h.db != nil {
		status, message := h.db.CheckReady()
		checks["database"] = map[string]any{"status": status, "message": message}
	}

	for name, c := range checks {
		if c.(map[string]any)["status"] == statusOK {
			continue
		}
		if name == "data_dir" {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		} else if overallStatus != statusFail {
			overallStatus = statusDegraded
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
		"checks":    checks,
	})
}

// checkWritable проверяет доступность директории на запись пробным файлом.
func checkWritable(dir, title string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  statusOK,
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": title + " недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{"status": statusOK}
}
