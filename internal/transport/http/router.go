// Package httptransport assembles the public HTTP surface: versioned API
// routes, health and metrics endpoints, and the shared middleware chain.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	biometrichandler "veribio/internal/biometric/handler"
	identityhandler "veribio/internal/identity/handler"
	"veribio/internal/platform/middleware"
	"veribio/pkg/platform/httputil"
)

// HealthChecker reports readiness of a backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewRouter wires all endpoints. Handlers stay thin; every route delegates to
// the engine or the identity service.
func NewRouter(
	biometric *biometrichandler.Handler,
	identity *identityhandler.Handler,
	health HealthChecker,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))

	r.Route("/v1", func(v1 chi.Router) {
		biometric.Register(v1)
		identity.Register(v1)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := health.Health(r.Context()); err != nil {
			logger.ErrorContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
