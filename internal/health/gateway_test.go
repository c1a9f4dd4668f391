package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGatewayChecker(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"unauthenticated root", http.StatusUnauthorized, false},
		{"not found", http.StatusNotFound, false},
		{"server error", http.StatusInternalServerError, true},
		{"unavailable", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodHead {
					t.Errorf("method = %s, want HEAD", r.Method)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := NewGatewayChecker(server.URL).HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGatewayChecker_EmptyURL(t *testing.T) {
	err := NewGatewayChecker("").HealthCheck(context.Background())
	if err == nil || err.Error() != "gateway url not configured" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGatewayChecker_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewGatewayChecker(server.URL).HealthCheck(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}
