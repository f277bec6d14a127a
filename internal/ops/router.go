// Package ops exposes the worker's operational HTTP surface: liveness and
// readiness, queue statistics, and Prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Kosisookeke/course-management/internal/queue"
	"github.com/Kosisookeke/course-management/pkg/logger"
)

const checkTimeout = 2 * time.Second

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSource exposes queue depth counters for the stats endpoint. The
// notification queue service implements it.
type StatsSource interface {
	QueueStats(ctx context.Context) (map[string]queue.Stats, error)
}

// RouterParams carry the dependencies the ops endpoints report on.
type RouterParams struct {
	Env     string
	Logger  *logger.Logger
	DB      Pinger
	Redis   Pinger
	Queues  StatsSource
	Metrics http.Handler
}

// NewRouter builds the ops router served on the worker's ops port.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", healthz(params))
	r.Get("/queue-stats", queueStats(params))

	metricsHandler := params.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	return r
}

func healthz(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		for name, dep := range map[string]Pinger{"database": params.DB, "redis": params.Redis} {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
				if params.Logger != nil {
					params.Logger.Warn(r.Context(), "health check failed: "+name)
				}
				continue
			}
			checks[name] = "ok"
		}

		status := http.StatusOK
		state := "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		writeJSON(w, status, map[string]any{
			"status": state,
			"env":    params.Env,
			"checks": checks,
		})
	}
}

func queueStats(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if params.Queues == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queues not initialized"})
			return
		}
		stats, err := params.Queues.QueueStats(r.Context())
		if err != nil {
			if params.Logger != nil {
				params.Logger.Error(r.Context(), "failed to collect queue stats", err)
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to collect queue stats"})
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
