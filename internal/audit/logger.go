package audit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/onnwee/resortpay/internal/middleware"
)

var (
	// ErrNilRepository is returned when a nil repository is passed to logging functions.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrInvalidEntityType is returned when an invalid entity type is provided.
	ErrInvalidEntityType = errors.New("invalid entity type")
	// ErrInvalidEntityID is returned when an invalid entity ID is provided.
	ErrInvalidEntityID = errors.New("entity ID cannot be empty")
	// ErrInvalidAction is returned when an invalid action is provided.
	ErrInvalidAction = errors.New("invalid action")
)

// Entity types recorded by operator endpoints.
const (
	EntityPayment            = "payment"
	EntityWebhookEvent       = "webhook_event"
	EntityWebhookStats       = "webhook_stats"
	EntityNotificationStream = "notification_stream"
)

// Actions recorded by operator endpoints.
const (
	ActionVerifyPayment          = "verify_payment"
	ActionViewAuditTrail         = "view_audit_trail"
	ActionExportAuditTrail       = "export_audit_trail"
	ActionViewWebhookStats       = "view_webhook_stats"
	ActionReplayWebhookEvent     = "replay_webhook_event"
	ActionSubscribeNotifications = "subscribe_notifications"
)

// ValidEntityTypes defines the allowed entity types for audit logging.
var ValidEntityTypes = map[string]bool{
	EntityPayment:            true,
	EntityWebhookEvent:       true,
	EntityWebhookStats:       true,
	EntityNotificationStream: true,
}

// ValidActions defines the allowed actions for audit logging.
var ValidActions = map[string]bool{
	ActionVerifyPayment:          true,
	ActionViewAuditTrail:         true,
	ActionExportAuditTrail:       true,
	ActionViewWebhookStats:       true,
	ActionReplayWebhookEvent:     true,
	ActionSubscribeNotifications: true,
}

func validateLogEntry(entityType, entityID, action string) error {
	if entityType == "" || !ValidEntityTypes[entityType] {
		return ErrInvalidEntityType
	}
	if entityID == "" {
		return ErrInvalidEntityID
	}
	if action == "" || !ValidActions[action] {
		return ErrInvalidAction
	}
	return nil
}

// extractIPAddress extracts the client IP address from an HTTP request.
// It checks X-Forwarded-For, X-Real-IP, and RemoteAddr in that order.
// Ports are stripped so the value fits an INET column.
func extractIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		firstIP, _, _ := strings.Cut(xff, ",")
		firstIP = strings.TrimSpace(firstIP)
		if firstIP != "" {
			return stripPort(firstIP)
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return stripPort(xri)
	}

	return stripPort(r.RemoteAddr)
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// LogAccess records an access event using the operator and request id from ctx.
//
// Logging is fail-closed: the error is returned so the caller can refuse to
// serve data whose access could not be recorded.
func LogAccess(ctx context.Context, repo Repository, entityType, entityID, action, outcome string) error {
	if repo == nil {
		return ErrNilRepository
	}
	if err := validateLogEntry(entityType, entityID, action); err != nil {
		return err
	}

	_, err := repo.LogAccess(ctx, LogEntry{
		OperatorID: middleware.GetOperatorID(ctx),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Outcome:    outcome,
		RequestID:  middleware.GetRequestID(ctx),
	})
	return err
}

// LogAccessFromRequest records an access event with HTTP request metadata
// (client IP and user agent) in addition to what LogAccess captures.
func LogAccessFromRequest(r *http.Request, repo Repository, entityType, entityID, action, outcome string) error {
	if repo == nil {
		return ErrNilRepository
	}
	if err := validateLogEntry(entityType, entityID, action); err != nil {
		return err
	}

	ctx := r.Context()
	_, err := repo.LogAccess(ctx, LogEntry{
		OperatorID: middleware.GetOperatorID(ctx),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Outcome:    outcome,
		RequestID:  middleware.GetRequestID(ctx),
		IPAddress:  extractIPAddress(r),
		UserAgent:  r.UserAgent(),
	})
	return err
}
