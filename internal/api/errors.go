// Package api holds the HTTP handlers of the resortpay API: gateway webhook
// receivers, operator endpoints, health checks and the notification stream.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/resortpay/internal/middleware"
)

// Error codes returned in ErrorDetail.Code.
const (
	ErrCodeValidation         = "validation_error"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeAuthFailed         = "auth_failed"
	ErrCodeForbidden          = "forbidden"
	ErrCodeConflict           = "conflict"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInternal           = "internal_error"
	ErrCodeUnknownProvider    = "unknown_provider"
	ErrCodePaymentNotFound    = "payment_not_found"
	ErrCodeEventNotFound      = "event_not_found"
	ErrCodeInvalidTransition  = "invalid_transition"
	ErrCodeNoCharge           = "no_charge"
	ErrCodeGatewayUnavailable = "gateway_unavailable"
)

// ErrorResponse is the body of every error: {"error":{"code":…,"message":…}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is a machine-readable code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBody(code, message string) []byte {
	data, _ := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	return data
}

// WriteError writes an ErrorResponse and hands ctx back to the logging
// middleware, so a code stored with middleware.SetErrorCode is logged.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, ctx)
	writeBody(w, ctx, status, "application/json; charset=utf-8", errorBody(code, message))
}

// writeCodedError records code on the request context and writes the error.
func writeCodedError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteError(w, middleware.SetErrorCode(r.Context(), code), status, code, message)
}

func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal response", "error", err)
		WriteError(w, middleware.SetErrorCode(ctx, ErrCodeInternal), http.StatusInternalServerError,
			ErrCodeInternal, "Failed to encode response")
		return
	}
	writeRaw(w, ctx, status, data)
}

// writeRaw writes an already encoded JSON body, such as a stored webhook
// response being replayed.
func writeRaw(w http.ResponseWriter, ctx context.Context, status int, body []byte) {
	writeBody(w, ctx, status, "application/json", body)
}

func writeBody(w http.ResponseWriter, ctx context.Context, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}
