package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck is one named readiness dependency.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler exposes liveness and readiness probes.
type HealthHandler struct {
	checks []HealthCheck
}

func NewHealthHandler(checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Live reports OK while the process is up.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready pings every dependency; the first failure is a 503.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			RespondError(w, r, http.StatusServiceUnavailable, "health/"+c.Name+"-unavailable", c.Name+" unavailable")
			return
		}
		status[c.Name] = "ok"
	}
	RespondJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": status})
}
