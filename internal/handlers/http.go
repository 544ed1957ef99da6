package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/api"
)

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// HTTPHandler serves the operational endpoints
type HTTPHandler struct {
	gatherer prometheus.Gatherer
	checks   map[string]HealthCheck
	logger   *zap.Logger
}

// NewHTTPHandler creates a new HTTP handler. A nil gatherer disables /metrics.
func NewHTTPHandler(gatherer prometheus.Gatherer, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		gatherer: gatherer,
		checks:   make(map[string]HealthCheck),
		logger:   logger,
	}
}

// AddCheck registers a named dependency check run by /health
func (h *HTTPHandler) AddCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// SetupRoutes configures all HTTP routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

// handleHealth returns ok when every registered check passes
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Health check failed", zap.String("component", name), zap.Error(err))
			components[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	api.RespondJSON(w, status, map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}
