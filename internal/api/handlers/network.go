// network.go — HTTP handler сводной статистики сети.
package handlers

import (
	"net/http"

	"github.com/bigkaa/goartstore/resource-coordinator/internal/monitor"
)

// NetworkStatsSource — источник сводной статистики.
type NetworkStatsSource interface {
	NetworkStats() monitor.NetworkStats
}

// NetworkHandler — обработчик network endpoints.
type NetworkHandler struct {
	source NetworkStatsSource
}

// NewNetworkHandler создаёт обработчик network endpoints.
func NewNetworkHandler(source NetworkStatsSource) *NetworkHandler {
	return &NetworkHandler{source: source}
}

// NetworkStats обрабатывает GET /api/v1/network/stats.
func (h *NetworkHandler) NetworkStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.source.NetworkStats())
}
