package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is a dependency whose reachability is part of health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves GET /healthz.
type HealthHandler struct {
	deps   map[string]Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. deps may be empty.
func NewHealthHandler(deps map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, logger: logger}
}

// HealthCheck answers 200 when every dependency responds and 503
// otherwise.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.deps))
	for name, p := range h.deps {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			h.logger.Warn("health check failed", slog.String("dep", name), slog.String("error", err.Error()))
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}
