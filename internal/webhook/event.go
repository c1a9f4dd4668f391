// Package webhook authenticates, decodes and records inbound payment gateway events.
package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event status values. Only success and failed are terminal.
const (
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

var (
	// ErrEventNotFound is returned when no event matches the lookup.
	ErrEventNotFound = errors.New("webhook event not found")

	// ErrDuplicateEvent is returned by Insert when the event id is already recorded.
	ErrDuplicateEvent = errors.New("webhook event already recorded")

	// ErrNotClaimable is returned when a conditional claim or reopen loses.
	ErrNotClaimable = errors.New("webhook event not claimable")

	// ErrAlreadyTerminal is returned when a terminal write targets a finished event.
	ErrAlreadyTerminal = errors.New("webhook event already terminal")
)

// Event is the durable record of one gateway event id.
type Event struct {
	ID            string          `json:"id"`
	EventID       string          `json:"event_id"`
	Provider      string          `json:"provider"`
	EventType     string          `json:"event_type"`
	ChargeID      string          `json:"charge_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	ResponseCode  int             `json:"response_code,omitempty"`
	ResponseBody  json.RawMessage `json:"response_body,omitempty"`
	ResponseHash  string          `json:"response_hash,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Attempts      int             `json:"attempts"`
	ReceivedAt    time.Time       `json:"received_at"`
	ClaimedAt     *time.Time      `json:"claimed_at,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	DurationMs    int64           `json:"duration_ms,omitempty"`
}

// Result is the terminal outcome written to an event.
type Result struct {
	Status        string
	Code          int
	Body          []byte
	FailureReason string
	ProcessedAt   time.Time
	Duration      time.Duration
}

// NewEvent builds a processing record for env, claimed at now.
func NewEvent(env *Envelope, now time.Time) *Event {
	claimed := now
	return &Event{
		ID:         uuid.New().String(),
		EventID:    env.ID,
		Provider:   env.Provider,
		EventType:  env.Key,
		ChargeID:   env.ChargeID(),
		Payload:    env.Raw,
		Status:     StatusProcessing,
		Attempts:   1,
		ReceivedAt: now,
		ClaimedAt:  &claimed,
	}
}

// IsTerminal reports whether the event has a final outcome.
func (e *Event) IsTerminal() bool {
	return e.Status == StatusSuccess || e.Status == StatusFailed
}

// Claimable reports whether a processing event's lease is released or older than staleBefore.
func (e *Event) Claimable(staleBefore time.Time) bool {
	if e.Status != StatusProcessing {
		return false
	}
	return e.ClaimedAt == nil || e.ClaimedAt.Before(staleBefore)
}

// Complete applies a terminal result. It fails with ErrAlreadyTerminal
// unless the event is still processing.
func (e *Event) Complete(res Result) error {
	if e.Status != StatusProcessing {
		return ErrAlreadyTerminal
	}
	if res.Status != StatusSuccess && res.Status != StatusFailed {
		return errors.New("terminal status must be success or failed")
	}
	processed := res.ProcessedAt
	e.Status = res.Status
	e.ResponseCode = res.Code
	e.ResponseBody = append(json.RawMessage(nil), res.Body...)
	e.ResponseHash = HashResponse(res.Body)
	e.FailureReason = res.FailureReason
	e.ProcessedAt = &processed
	e.DurationMs = res.Duration.Milliseconds()
	e.ClaimedAt = nil
	return nil
}

// HashResponse returns the hex SHA-256 of a response body.
func HashResponse(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (e *Event) clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	if e.ResponseBody != nil {
		c.ResponseBody = append(json.RawMessage(nil), e.ResponseBody...)
	}
	if e.ClaimedAt != nil {
		t := *e.ClaimedAt
		c.ClaimedAt = &t
	}
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}
