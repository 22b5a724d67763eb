package handlers

import (
	"context"
	"log"
	"net/http"
)

// StatusHandler answers liveness requests
type StatusHandler struct{}

// GetStatus handles GET /status
func (StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// Health handles GET /health
func (StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// MetricsSource renders Prometheus text
type MetricsSource interface {
	GetPrometheusMetrics(ctx context.Context) (string, error)
}

// MetricsHandler handles GET /metrics
func MetricsHandler(src MetricsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics, err := src.GetPrometheusMetrics(r.Context())
		if err != nil {
			log.Printf("Failed to collect metrics: %v", err)
			http.Error(w, "Failed to collect metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Write([]byte(metrics))
	}
}
