// Package httptransport assembles the HTTP API from domain handlers. The
// router owns only cross-cutting concerns; endpoint behavior lives with
// each handler's Register.
package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pqshield/internal/platform/metrics"
	"pqshield/internal/platform/middleware"
	"pqshield/internal/transport/http/shared"
)

// Registrar is implemented by every domain handler.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports readiness of one backing dependency.
type HealthChecker func(r *http.Request) error

// NewRouter mounts all handlers plus the health and metrics endpoints.
func NewRouter(transportMetrics *metrics.Metrics, health map[string]HealthChecker, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Latency(transportMetrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		statuses := make(map[string]string, len(health))
		code := http.StatusOK
		for name, check := range health {
			if err := check(req); err != nil {
				statuses[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			statuses[name] = "ok"
		}
		shared.WriteJSON(w, code, statuses)
	})
	r.Handle("/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}
