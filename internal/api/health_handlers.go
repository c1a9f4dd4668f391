package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker is a dependency that can report whether it is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Per-dependency states in HealthResponse.Checks.
const (
	checkOK            = "ok"
	checkError         = "error"
	checkNotConfigured = "not_configured"
	checkDegraded      = "degraded"
)

const defaultHealthTimeout = 5 * time.Second

// HealthHandlersConfig configures the health checks. Nil checkers are reported as
// not configured.
type HealthHandlersConfig struct {
	DBChecker    HealthChecker
	RedisChecker HealthChecker
	// GatewayChecker failures are reported but do not fail readiness:
	// webhooks still land while the gateway API is down.
	GatewayChecker HealthChecker
	Timeout        time.Duration
}

// HealthHandlers serves the liveness and readiness checks.
type HealthHandlers struct {
	deps    []dependency
	timeout time.Duration
}

type dependency struct {
	name     string
	checker  HealthChecker
	critical bool
}

// NewHealthHandlers creates the health check handlers.
func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	return &HealthHandlers{
		deps: []dependency{
			{"database", config.DBChecker, true},
			{"redis", config.RedisChecker, true},
			{"gateway", config.GatewayChecker, false},
		},
		timeout: timeout,
	}
}

// HealthResponse is the body of both checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health. It only proves the process is serving.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r.Context(), http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": checkOK},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready. Dependencies are checked concurrently; a
// configured database or Redis that fails makes the response 503.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		checks  = make(map[string]string, len(h.deps))
		healthy = true
	)
	var g errgroup.Group
	for _, dep := range h.deps {
		g.Go(func() error {
			state := checkDependency(ctx, dep)
			mu.Lock()
			defer mu.Unlock()
			checks[dep.name] = state
			if state == checkError {
				healthy = false
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{Status: "healthy", Checks: checks, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r.Context(), status, resp)
}

func checkDependency(ctx context.Context, dep dependency) string {
	if dep.checker == nil {
		return checkNotConfigured
	}
	if err := dep.checker.HealthCheck(ctx); err != nil {
		slog.WarnContext(ctx, "health check failed", "dependency", dep.name, "error", err)
		if !dep.critical {
			return checkDegraded
		}
		return checkError
	}
	return checkOK
}
