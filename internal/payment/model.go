// Package payment provides the local system of record for bookings, payments and refunds.
package payment

import (
	"encoding/json"
	"errors"
	"time"
)

// Payment status values.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRefunded  = "refunded"
)

// Booking status values.
const (
	BookingStatusPending       = "pending"
	BookingStatusConfirmed     = "confirmed"
	BookingStatusPaymentFailed = "payment_failed"
	BookingStatusCancelled     = "cancelled"
)

// Refund status values.
const (
	RefundStatusSucceeded = "succeeded"
	RefundStatusPending   = "pending"
)

var (
	// ErrPaymentNotFound is returned when no payment matches the lookup.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrBookingNotFound is returned when no booking matches the lookup.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid payment status transition")

	// ErrDuplicateChargeID is returned when a charge id is already bound to another payment.
	ErrDuplicateChargeID = errors.New("charge id already bound to a payment")

	// ErrRefundExists is returned when a refund with the same gateway refund id exists.
	ErrRefundExists = errors.New("refund already recorded")
)

// Payment is a single money movement tied to a booking.
// ChargeID is the gateway's identifier and is how webhooks find the payment.
type Payment struct {
	ID              string          `json:"id"`
	BookingID       string          `json:"booking_id"`
	Amount          int64           `json:"amount"` // minor units
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	ChargeID        *string         `json:"charge_id,omitempty"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	GatewayResponse json.RawMessage `json:"gateway_response,omitempty"`
	FailureMessage  string          `json:"failure_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Booking owns a payment; its status follows the payment outcome.
type Booking struct {
	ID         string    `json:"id"`
	GuestName  string    `json:"guest_name"`
	GuestEmail string    `json:"guest_email"`
	RoomNumber string    `json:"room_number,omitempty"`
	CheckIn    time.Time `json:"check_in"`
	CheckOut   time.Time `json:"check_out"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Refund is created only from a gateway refund event.
type Refund struct {
	ID              string     `json:"id"`
	PaymentID       string     `json:"payment_id"`
	GatewayRefundID string     `json:"gateway_refund_id"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// HasCharge reports whether the payment is bound to a gateway charge.
func (p *Payment) HasCharge() bool {
	return p.ChargeID != nil && *p.ChargeID != ""
}

// isValidStatusTransition checks if a payment status transition is allowed.
// Transitions are one-directional: pending -> completed|failed, completed -> refunded.
func isValidStatusTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		return to == StatusRefunded
	default:
		return false
	}
}

// Transition moves the payment to status to.
// It returns false with no error when the payment is already in that status,
// so that re-applying the same gateway event is a no-op.
func (p *Payment) Transition(to string) (bool, error) {
	if p.Status == to {
		return false, nil
	}
	if !isValidStatusTransition(p.Status, to) {
		return false, ErrInvalidTransition
	}
	p.Status = to
	return true, nil
}

// BookingStatusFor returns the booking status implied by a payment status.
// The second return value is false when the payment status has no booking effect.
func BookingStatusFor(paymentStatus string) (string, bool) {
	switch paymentStatus {
	case StatusCompleted:
		return BookingStatusConfirmed, true
	case StatusFailed:
		return BookingStatusPaymentFailed, true
	default:
		return "", false
	}
}

func (p *Payment) clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	if p.ChargeID != nil {
		id := *p.ChargeID
		c.ChargeID = &id
	}
	if p.ProcessedAt != nil {
		ts := *p.ProcessedAt
		c.ProcessedAt = &ts
	}
	if p.GatewayResponse != nil {
		c.GatewayResponse = append(json.RawMessage(nil), p.GatewayResponse...)
	}
	return &c
}

func (b *Booking) clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

func (r *Refund) clone() *Refund {
	if r == nil {
		return nil
	}
	c := *r
	if r.ProcessedAt != nil {
		ts := *r.ProcessedAt
		c.ProcessedAt = &ts
	}
	return &c
}
