package api

import (
	"context"
	"net/http"
	"time"

	"furnish-be/internal/logger"
	"furnish-be/internal/utils"

	"go.uber.org/zap"
)

// Check reports whether a dependency is ready to serve traffic.
type Check func(ctx context.Context) error

type HealthHandlers struct {
	started time.Time
	checks  map[string]Check
	timeout time.Duration
}

func NewHealthHandlers() *HealthHandlers {
	return &HealthHandlers{
		started: time.Now(),
		checks:  map[string]Check{},
		timeout: 2 * time.Second,
	}
}

// WithCheck registers a readiness check under name.
func (h *HealthHandlers) WithCheck(name string, c Check) *HealthHandlers {
	if c != nil {
		h.checks[name] = c
	}
	return h
}

func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			logger.FromCtx(ctx).Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	utils.WriteJSON(w, code, map[string]any{"status": status, "checks": results})
}
