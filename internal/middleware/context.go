// Package middleware holds the HTTP middleware chain of the API server:
// request IDs, request logging, tracing, metrics, CORS, operator
// authentication and rate limiting.
package middleware

import "context"

type (
	requestIDKey    struct{}
	operatorIDKey   struct{}
	operatorRoleKey struct{}
	errorCodeKey    struct{}
)

func stringValue(ctx context.Context, key any) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// SetRequestID stores a request ID in the context.
func SetRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// GetRequestID returns the request ID from context, or "".
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey{})
}

// SetOperatorID stores the authenticated operator. RequireOperator calls it
// after validating the bearer token.
func SetOperatorID(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorIDKey{}, operatorID)
}

// GetOperatorID returns the authenticated operator, or "".
func GetOperatorID(ctx context.Context) string {
	return stringValue(ctx, operatorIDKey{})
}

// SetOperatorRole stores the authenticated operator's role.
func SetOperatorRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, operatorRoleKey{}, role)
}

// GetOperatorRole returns the operator's role, or "".
func GetOperatorRole(ctx context.Context) string {
	return stringValue(ctx, operatorRoleKey{})
}

// SetErrorCode records the machine-readable code of an error response so the
// request log line can carry it.
func SetErrorCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, errorCodeKey{}, code)
}

// GetErrorCode returns the recorded error code, or "".
func GetErrorCode(ctx context.Context) string {
	return stringValue(ctx, errorCodeKey{})
}
