// metrics.go — Prometheus метрики сервисного слоя Resource Coordinator.
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal — количество операций сервисов по результату.
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rc_operations_total",
			Help: "Общее количество операций сервисов ресурсов",
		},
		[]string{"operation", "result"},
	)

	// replicaFailuresTotal — ошибки операций с репликами по типу.
	replicaFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rc_replica_failures_total",
			Help: "Количество ошибок операций с репликами",
		},
		[]string{"operation", "reason"},
	)

	// storedBytesTotal — объём успешно реплицированных данных (с учётом всех реплик).
	storedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rc_stored_bytes_total",
			Help: "Объём данных, записанных во все реплики",
		},
	)

	// taskDurationSeconds — длительность исполнения задач по категории.
	taskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rc_task_duration_seconds",
			Help:    "Длительность исполнения вычислительных задач в секундах",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"category", "status"},
	)

	// transferBytesTotal — объём учтённых передач по направлению.
	transferBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rc_transfer_bytes_total",
			Help: "Объём учтённых передач данных в байтах",
		},
		[]string{"direction", "purpose"},
	)

	// breakerState — состояние circuit breaker реплик по участнику (0 closed, 1 half-open, 2 open).
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rc_replica_breaker_state",
			Help: "Состояние circuit breaker транспорта реплик (0 closed, 1 half-open, 2 open)",
		},
		[]string{"participant"},
	)
)

// resultLabel — лейбл результата операции.
func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
