package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/peer-relay/internal/config"
	"github.com/rickgao/peer-relay/internal/metrics"
	"github.com/rickgao/peer-relay/internal/relay"
	"github.com/rickgao/peer-relay/internal/version"
)

// newStatusHandler serves health, the connection table, and Prometheus metrics.
func newStatusHandler(registry *relay.Registry, gatherer prometheus.Gatherer, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(config.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		stats := registry.Stats()

		health := struct {
			Status  string       `json:"status"`
			Version version.Info `json:"version"`
			Stats   relay.Stats  `json:"stats"`
		}{
			Status:  "healthy",
			Version: version.Get(),
			Stats:   stats,
		}

		// Clients are connected but nothing can serve them.
		if stats.Orphans > 0 && stats.Workers == 0 {
			health.Status = "degraded"
		}

		writeJSON(w, health)
	})

	mux.HandleFunc(config.ConnectionsPath, func(w http.ResponseWriter, r *http.Request) {
		conns := registry.Snapshot()
		writeJSON(w, map[string]any{
			"count":       len(conns),
			"connections": conns,
		})
	})

	mux.Handle(metricsPath, metrics.Handler(gatherer))

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
