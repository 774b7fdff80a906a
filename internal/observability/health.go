package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusOK        HealthStatus = "ok"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms,omitempty"`
}

// HealthCheckResponse represents the overall health check response.
type HealthCheckResponse struct {
	Status        HealthStatus               `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Timestamp     string                     `json:"timestamp"`
	Checks        map[string]ComponentHealth `json:"checks"`
}

// HealthChecker performs health checks on system components.
type HealthChecker struct {
	version   string
	startTime time.Time
	checks    map[string]HealthCheckFunc
}

// HealthCheckFunc defines a function that checks component health.
type HealthCheckFunc func(ctx context.Context) ComponentHealth

// NewHealthChecker creates a new health checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheckFunc),
	}
}

// RegisterCheck registers a health check for a component.
func (hc *HealthChecker) RegisterCheck(name string, checkFunc HealthCheckFunc) {
	hc.checks[name] = checkFunc
}

// Check performs all health checks.
func (hc *HealthChecker) Check(ctx context.Context) HealthCheckResponse {
	response := HealthCheckResponse{
		Status:        HealthStatusOK,
		Version:       hc.version,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Timestamp:     time.Now().Format(time.RFC3339),
		Checks:        make(map[string]ComponentHealth),
	}

	for name, checkFunc := range hc.checks {
		health := checkFunc(ctx)
		response.Checks[name] = health

		// Update overall status
		if health.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
		} else if health.Status == HealthStatusDegraded && response.Status != HealthStatusUnhealthy {
			response.Status = HealthStatusDegraded
		}
	}

	return response
}

// Handler returns an HTTP handler for health checks.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		response := hc.Check(ctx)

		w.Header().Set("Content-Type", "application/json")

		// Set HTTP status based on health
		switch response.Status {
		case HealthStatusOK:
			w.WriteHeader(http.StatusOK)
		case HealthStatusDegraded:
			w.WriteHeader(http.StatusOK) // Still 200 but degraded
		case HealthStatusUnhealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}

// Common health check functions

// ClipboardCheck reports whether the clipboard accessor is reachable: a
// GetText that returns ok=false on an otherwise-populated clipboard is
// the degraded signal, since the engine cannot tell "empty" from
// "inaccessible" at this layer.
func ClipboardCheck(probe func() (ok bool, err error)) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		ok, err := probe()
		latency := time.Since(start).Milliseconds()

		if err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error(), LatencyMS: latency}
		}
		if !ok {
			return ComponentHealth{Status: HealthStatusDegraded, Message: "clipboard read returned no text", LatencyMS: latency}
		}
		return ComponentHealth{Status: HealthStatusOK, Message: "clipboard reachable", LatencyMS: latency}
	}
}

// JournalWritableCheck reports whether the task journal's directory
// accepts writes.
func JournalWritableCheck(journalPath string) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		dir := filepath.Dir(journalPath)
		probe := filepath.Join(dir, ".health-probe")
		if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: fmt.Sprintf("journal dir not writable: %v", err)}
		}
		_ = os.Remove(probe)
		return ComponentHealth{Status: HealthStatusOK, Message: fmt.Sprintf("journal dir writable: %s", dir)}
	}
}

// ReceiverListeningCheck reports whether the receiver's poll loop is
// currently active.
func ReceiverListeningCheck(isListening func() bool) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		if isListening() {
			return ComponentHealth{Status: HealthStatusOK, Message: "receiver listening"}
		}
		return ComponentHealth{Status: HealthStatusDegraded, Message: "receiver not listening"}
	}
}
