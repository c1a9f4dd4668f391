package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/resortpay/internal/middleware"
)

func TestWriteCodedError(t *testing.T) {
	tests := []struct {
		status  int
		code    string
		message string
	}{
		{http.StatusNotFound, ErrCodePaymentNotFound, "Payment not found"},
		{http.StatusConflict, ErrCodeInvalidTransition, "Payment status cannot change this way"},
		{http.StatusUnprocessableEntity, ErrCodeNoCharge, "Payment has no gateway charge"},
		{http.StatusServiceUnavailable, ErrCodeGatewayUnavailable, "Payment gateway unavailable"},
		{http.StatusUnauthorized, ErrCodeAuthFailed, `quote " and <tag>`},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeCodedError(w, httptest.NewRequest(http.MethodPost, "/payments/pay_1/verify", nil), tt.status, tt.code, tt.message)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Errorf("Content-Type = %q", ct)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid JSON %q: %v", w.Body.String(), err)
			}
			if resp.Error.Code != tt.code || resp.Error.Message != tt.message {
				t.Errorf("body = %+v", resp.Error)
			}
		})
	}
}

func TestErrorResponse_JSONStructure(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, context.Background(), http.StatusBadRequest, ErrCodeValidation, "invalid webhook envelope")

	var response map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response) != 1 {
		t.Errorf("expected 1 top-level key, got %d: %v", len(response), response)
	}
	errorObj, ok := response["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected 'error' to be an object, got %T", response["error"])
	}
	if len(errorObj) != 2 {
		t.Errorf("expected 2 fields in error object, got %d: %v", len(errorObj), errorObj)
	}
	if errorObj["code"] != ErrCodeValidation {
		t.Errorf("expected code %s, got %v", ErrCodeValidation, errorObj["code"])
	}
}

func TestWriteError_IntegrationWithLoggingMiddleware(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := middleware.RequestID(
		middleware.Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeCodedError(w, r, http.StatusConflict, ErrCodeInvalidTransition, "Payment cannot move backwards")
		})),
	)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/omise", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}

	var entry struct {
		Level     string `json:"level"`
		Status    int    `json:"status"`
		RequestID string `json:"request_id"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	if entry.Level != "WARN" {
		t.Errorf("expected log level WARN for 4xx, got %s", entry.Level)
	}
	if entry.ErrorCode != ErrCodeInvalidTransition {
		t.Errorf("expected error_code %s in logs, got %s", ErrCodeInvalidTransition, entry.ErrorCode)
	}
	if entry.RequestID != "req-abc" {
		t.Errorf("expected request_id req-abc in logs, got %s", entry.RequestID)
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, context.Background(), http.StatusOK, map[string]int{"days": 7})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"days":7}` {
		t.Errorf("body = %s", got)
	}

	w = httptest.NewRecorder()
	writeJSON(w, context.Background(), http.StatusOK, map[string]any{"bad": make(chan int)})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("unencodable value: status = %d, want 500", w.Code)
	}
}
