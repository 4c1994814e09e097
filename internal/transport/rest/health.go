package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
	CheckedAt  time.Time    `json:"checked_at"`
	DurationMs int64        `json:"duration_ms"`
}

// Checker reports whether one dependency is reachable. *sql.DB satisfies it.
type Checker interface {
	PingContext(ctx context.Context) error
}

// CheckerFunc adapts a plain function, e.g. a NATS connection status probe.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

type HealthHandler struct {
	checks  map[string]Checker
	timeout time.Duration
}

func NewHealthHandler(checks map[string]Checker) *HealthHandler {
	if checks == nil {
		checks = map[string]Checker{}
	}
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

// pingHandler only says the process is up
func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// healthCheckHandler checks every registered dependency
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{
		Status:     HealthHealthy,
		Components: make(map[string]CheckEntry, len(names)),
	}
	for _, name := range names {
		start := time.Now()
		err := h.checks[name].PingContext(ctx)

		entry := CheckEntry{
			Status:     HealthHealthy,
			CheckedAt:  time.Now(),
			DurationMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			entry.Status = HealthUnhealthy
			entry.Message = err.Error()
			resp.Status = HealthUnhealthy
		}
		resp.Components[name] = entry
	}
	resp.CheckedAt = time.Now()

	statusCode := http.StatusOK
	if resp.Status == HealthUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeHealthJSON(w, statusCode, resp)
}

func writeHealthJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
