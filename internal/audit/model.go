// Package audit records operator access to payment data and assembles the
// chronological trail of everything the pipeline did for one payment.
package audit

import (
	"time"
)

// Outcome values for access log entries.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AccessLog is one operator read or replay against payment data.
type AccessLog struct {
	ID         string    `json:"id"`
	OperatorID string    `json:"operatorId"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"`
	CreatedAt  time.Time `json:"createdAt"`

	// Optional metadata
	RequestID string `json:"requestId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// LogEntry represents the input for creating an access log entry.
type LogEntry struct {
	OperatorID string
	EntityType string
	EntityID   string
	Action     string
	Outcome    string // "success" or "failure"

	// Optional metadata
	RequestID string
	IPAddress string
	UserAgent string
}
