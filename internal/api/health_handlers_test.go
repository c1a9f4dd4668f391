package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// mockHealthChecker is a mock implementation of HealthChecker for testing.
type mockHealthChecker struct {
	shouldFail bool
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	if m.shouldFail {
		return errors.New("health check failed")
	}
	return nil
}

func TestHealth_Success(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handlers.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %s", response.Status)
	}
	if response.Checks["runtime"] != "ok" {
		t.Errorf("expected runtime check to be 'ok', got %s", response.Checks["runtime"])
	}
	if _, err := time.Parse(time.RFC3339, response.Timestamp); err != nil {
		t.Errorf("timestamp is not valid RFC3339: %v", err)
	}
}

func TestRouter_HealthRejectsOtherMethods(t *testing.T) {
	mux := NewRouter(RouterConfig{Health: NewHealthHandlers(HealthHandlersConfig{})})

	for _, path := range []string{"/health", "/ready"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: status %d, want 405", path, w.Code)
		}
	}
}

type slowChecker struct{ delay time.Duration }

func (s slowChecker) HealthCheck(ctx context.Context) error {
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestReady_ChecksRunConcurrentlyWithinTimeout(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{
		DBChecker:      slowChecker{delay: 150 * time.Millisecond},
		RedisChecker:   slowChecker{delay: 150 * time.Millisecond},
		GatewayChecker: slowChecker{delay: time.Minute},
		Timeout:        250 * time.Millisecond,
	})

	start := time.Now()
	w := httptest.NewRecorder()
	handlers.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("Ready took %s; checks should run in parallel", elapsed)
	}
	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusOK || resp.Checks["gateway"] != "degraded" {
		t.Errorf("status %d checks %v; a hung gateway should only degrade", w.Code, resp.Checks)
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		config     HealthHandlersConfig
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name: "all healthy",
			config: HealthHandlersConfig{
				DBChecker:      &mockHealthChecker{},
				RedisChecker:   &mockHealthChecker{},
				GatewayChecker: &mockHealthChecker{},
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"database": "ok", "redis": "ok", "gateway": "ok"},
		},
		{
			name: "database down",
			config: HealthHandlersConfig{
				DBChecker:    &mockHealthChecker{shouldFail: true},
				RedisChecker: &mockHealthChecker{},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"database": "error", "redis": "ok", "gateway": "not_configured"},
		},
		{
			name: "redis down",
			config: HealthHandlersConfig{
				DBChecker:    &mockHealthChecker{},
				RedisChecker: &mockHealthChecker{shouldFail: true},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"database": "ok", "redis": "error"},
		},
		{
			name: "gateway down is degraded only",
			config: HealthHandlersConfig{
				DBChecker:      &mockHealthChecker{},
				GatewayChecker: &mockHealthChecker{shouldFail: true},
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"database": "ok", "redis": "not_configured", "gateway": "degraded"},
		},
		{
			name:       "nothing configured",
			config:     HealthHandlersConfig{},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"database": "not_configured", "redis": "not_configured", "gateway": "not_configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers := NewHealthHandlers(tt.config)
			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()
			handlers.Ready(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Errorf("unexpected content type %q", ct)
			}

			var response HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, response.Status)
			}
			for check, want := range tt.wantChecks {
				if got := response.Checks[check]; got != want {
					t.Errorf("check %s = %q, want %q", check, got, want)
				}
			}
		})
	}
}
