// Package idempotency guarantees at-most-once processing of gateway event ids.
package idempotency

import (
	"errors"
	"time"

	"github.com/onnwee/resortpay/internal/webhook"
)

// Decision is the outcome of acquiring an event id.
type Decision int

const (
	// Fresh means the caller owns the event and must reconcile it.
	Fresh Decision = iota
	// AlreadyProcessed means a terminal outcome exists and must be replayed.
	AlreadyProcessed
	// InFlight means another caller holds a live lease on the event.
	InFlight
)

func (d Decision) String() string {
	switch d {
	case Fresh:
		return "fresh"
	case AlreadyProcessed:
		return "already_processed"
	case InFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// DefaultLease is how long a processing event stays owned by its claimant.
const DefaultLease = 2 * time.Minute

// DefaultPollInterval is the Await polling period.
const DefaultPollInterval = 100 * time.Millisecond

// ErrEmptyEventID is returned when acquiring an event without an id.
var ErrEmptyEventID = errors.New("event id is required")

// Result reports an acquisition decision and the stored event.
// For AlreadyProcessed the event carries the prior response code and body.
type Result struct {
	Decision Decision
	Event    *webhook.Event
}

// ResponseCode returns the stored HTTP status for AlreadyProcessed results.
func (r *Result) ResponseCode() int {
	if r.Event == nil {
		return 0
	}
	return r.Event.ResponseCode
}

// ResponseBody returns the stored response body for AlreadyProcessed results.
func (r *Result) ResponseBody() []byte {
	if r.Event == nil {
		return nil
	}
	return r.Event.ResponseBody
}
