// Package reconcile applies authenticated gateway events to local payment
// state and compares local state with the gateway on demand.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/resortpay/internal/gateway"
	"github.com/onnwee/resortpay/internal/notify"
	"github.com/onnwee/resortpay/internal/payment"
	"github.com/onnwee/resortpay/internal/tracing"
	"github.com/onnwee/resortpay/internal/validate"
	"github.com/onnwee/resortpay/internal/webhook"
)

var (
	// ErrChargeUnconfirmed is returned when gateway confirmation contradicts the event.
	ErrChargeUnconfirmed = errors.New("gateway does not confirm charge")

	// ErrChargePending is returned when the gateway has not settled the charge yet.
	// It is transient: a later delivery may succeed.
	ErrChargePending = errors.New("charge still pending at gateway")
)

// IsDomainError reports whether err is a final business outcome rather than a
// transient failure. Domain errors mark the event failed; anything else is retried.
func IsDomainError(err error) bool {
	return errors.Is(err, payment.ErrPaymentNotFound) ||
		errors.Is(err, payment.ErrInvalidTransition) ||
		errors.Is(err, ErrChargeUnconfirmed)
}

// Notifier accepts notifications for asynchronous delivery.
type Notifier interface {
	Enqueue(n notify.Notification) bool
}

// Outcome describes what reconciliation did for one event.
type Outcome struct {
	EventType string
	Kind      webhook.Kind
	ChargeID  string
	// Processed is false for event types that are acknowledged but not acted on.
	Processed bool
	// Changed is false when the event was a no-op re-application.
	Changed       bool
	PaymentID     string
	BookingID     string
	PaymentStatus string
	RefundID      string
}

// Engine reconciles gateway events into payments, bookings and refunds.
type Engine struct {
	payments payment.Repository
	gateway  gateway.Client
	notifier Notifier
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithGatewayConfirmation re-fetches charges from the gateway and lets the
// gateway's status decide the outcome of charge events.
func WithGatewayConfirmation(c gateway.Client) Option {
	return func(e *Engine) {
		e.gateway = c
	}
}

// WithNotifier enqueues notifications after each committed change.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an Engine over payments.
func NewEngine(payments payment.Repository, opts ...Option) *Engine {
	e := &Engine{
		payments: payments,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile applies env to local state in a single transaction.
//
// Unknown event types return Processed=false without touching state.
// A missing payment returns payment.ErrPaymentNotFound and a disallowed status
// change returns payment.ErrInvalidTransition; in both cases nothing is written.
// Any other error means the transaction rolled back and the event may be retried.
func (e *Engine) Reconcile(ctx context.Context, env *webhook.Envelope) (out *Outcome, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "reconcile.event")
	defer func() {
		if IsDomainError(err) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()
	tracing.SetAttributes(ctx,
		tracing.AttrEventID.String(env.ID),
		tracing.AttrEventType.String(env.Key),
		tracing.AttrChargeID.String(env.ChargeID()))

	out = &Outcome{
		EventType: env.Key,
		Kind:      env.Kind,
		ChargeID:  env.ChargeID(),
	}

	if env.Kind == webhook.KindUnknown {
		slog.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_id", env.ID,
			"event_type", env.Key)
		return out, nil
	}

	kind := env.Kind
	if e.gateway != nil && kind != webhook.KindRefundCreated {
		kind, err = e.confirm(ctx, env)
		if err != nil {
			return nil, err
		}
	}

	var note *notify.Notification
	err = e.payments.WithinTx(ctx, func(ctx context.Context, tx payment.Tx) error {
		p, err := tx.GetPaymentByChargeIDForUpdate(ctx, out.ChargeID)
		if err != nil {
			return err
		}
		out.PaymentID = p.ID
		out.BookingID = p.BookingID

		switch kind {
		case webhook.KindChargeCompleted:
			note, err = e.applyCompleted(ctx, tx, env, p, out)
		case webhook.KindChargeFailed:
			note, err = e.applyFailed(ctx, tx, env, p, out)
		case webhook.KindRefundCreated:
			note, err = e.applyRefund(ctx, tx, env, p, out)
		default:
			err = fmt.Errorf("unsupported event kind %q", kind)
		}
		out.PaymentStatus = p.Status
		return err
	})
	if err != nil {
		return nil, err
	}

	out.Processed = true
	tracing.AddEvent(ctx, "reconciled",
		attribute.Bool("changed", out.Changed),
		tracing.AttrPaymentStatus.String(out.PaymentStatus))
	slog.InfoContext(ctx, "reconciled webhook event",
		"event_id", env.ID,
		"event_type", env.Key,
		"payment_id", out.PaymentID,
		"payment_status", out.PaymentStatus,
		"changed", out.Changed)

	if note != nil {
		e.enqueue(ctx, env, note)
	}
	return out, nil
}

func (e *Engine) applyCompleted(ctx context.Context, tx payment.Tx, env *webhook.Envelope, p *payment.Payment, out *Outcome) (*notify.Notification, error) {
	changed, err := p.Transition(payment.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("%w: %s -> %s", err, p.Status, payment.StatusCompleted)
	}
	if !changed {
		return nil, nil
	}

	if charge, ok := env.Data.(*webhook.ChargeData); ok && (charge.Amount != p.Amount || charge.Currency != p.Currency) {
		slog.WarnContext(ctx, "charge amount differs from local payment",
			"payment_id", p.ID,
			"local_amount", p.Amount,
			"local_currency", p.Currency,
			"remote_amount", charge.Amount,
			"remote_currency", charge.Currency)
	}

	now := e.now()
	p.ProcessedAt = &now
	p.GatewayResponse = env.DataRaw
	p.FailureMessage = ""
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}
	if err := tx.UpdateBookingStatus(ctx, p.BookingID, payment.BookingStatusConfirmed); err != nil {
		return nil, err
	}

	out.Changed = true
	return e.notification(notify.KindBookingConfirmed, env, p, ""), nil
}

func (e *Engine) applyFailed(ctx context.Context, tx payment.Tx, env *webhook.Envelope, p *payment.Payment, out *Outcome) (*notify.Notification, error) {
	changed, err := p.Transition(payment.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s -> %s", err, p.Status, payment.StatusFailed)
	}
	if !changed {
		return nil, nil
	}

	reason := "charge failed"
	if charge, ok := env.Data.(*webhook.ChargeData); ok {
		reason = validate.Reason(charge.FailureMessage, validate.Reason(charge.FailureCode, reason))
	}

	now := e.now()
	p.ProcessedAt = &now
	p.GatewayResponse = env.DataRaw
	p.FailureMessage = reason
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}
	if err := tx.UpdateBookingStatus(ctx, p.BookingID, payment.BookingStatusPaymentFailed); err != nil {
		return nil, err
	}

	out.Changed = true
	return e.notification(notify.KindPaymentFailed, env, p, reason), nil
}

func (e *Engine) applyRefund(ctx context.Context, tx payment.Tx, env *webhook.Envelope, p *payment.Payment, out *Outcome) (*notify.Notification, error) {
	data, ok := env.Data.(*webhook.RefundData)
	if !ok {
		return nil, fmt.Errorf("refund event without refund data")
	}

	now := e.now()
	rf := &payment.Refund{
		PaymentID:       p.ID,
		GatewayRefundID: data.ID,
		Amount:          data.Amount,
		Currency:        data.Currency,
		Status:          refundStatus(data.Status),
		Reason:          data.Reason,
		ProcessedAt:     &now,
	}
	err := tx.InsertRefund(ctx, rf)
	if errors.Is(err, payment.ErrRefundExists) {
		slog.InfoContext(ctx, "refund already recorded",
			"payment_id", p.ID,
			"gateway_refund_id", data.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out.RefundID = rf.ID
	out.Changed = true

	changed, err := p.Transition(payment.StatusRefunded)
	if err != nil {
		return nil, fmt.Errorf("%w: %s -> %s", err, p.Status, payment.StatusRefunded)
	}
	if changed {
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return nil, err
		}
	}

	n := e.notification(notify.KindRefundCreated, env, p, data.Reason)
	n.Amount = data.Amount
	n.Currency = data.Currency
	return n, nil
}

// confirm asks the gateway for the charge and returns the kind its status implies.
func (e *Engine) confirm(ctx context.Context, env *webhook.Envelope) (webhook.Kind, error) {
	charge, err := e.gateway.RetrieveCharge(ctx, env.ChargeID())
	if errors.Is(err, gateway.ErrChargeNotFound) {
		return "", fmt.Errorf("%w: %s not found", ErrChargeUnconfirmed, env.ChargeID())
	}
	if err != nil {
		return "", fmt.Errorf("failed to confirm charge with gateway: %w", err)
	}

	switch {
	case charge.Status == gateway.StatusSuccessful && charge.Paid:
		if env.Kind != webhook.KindChargeCompleted {
			slog.WarnContext(ctx, "gateway reports charge successful, overriding event",
				"event_id", env.ID, "charge_id", charge.ID)
		}
		return webhook.KindChargeCompleted, nil
	case isFailedStatus(charge.Status):
		if env.Kind != webhook.KindChargeFailed {
			slog.WarnContext(ctx, "gateway reports charge failed, overriding event",
				"event_id", env.ID, "charge_id", charge.ID, "remote_status", charge.Status)
		}
		return webhook.KindChargeFailed, nil
	case charge.Status == gateway.StatusPending:
		return "", ErrChargePending
	default:
		return "", fmt.Errorf("%w: remote status %s paid=%t", ErrChargeUnconfirmed, charge.Status, charge.Paid)
	}
}

func (e *Engine) notification(kind notify.Kind, env *webhook.Envelope, p *payment.Payment, reason string) *notify.Notification {
	return &notify.Notification{
		Kind:      kind,
		EventID:   env.ID,
		PaymentID: p.ID,
		BookingID: p.BookingID,
		ChargeID:  env.ChargeID(),
		Amount:    p.Amount,
		Currency:  p.Currency,
		Reason:    reason,
		CreatedAt: e.now(),
	}
}

// enqueue fills guest details and hands n to the notifier. It never fails the event.
func (e *Engine) enqueue(ctx context.Context, env *webhook.Envelope, n *notify.Notification) {
	if e.notifier == nil {
		return
	}
	if b, err := e.payments.GetBooking(ctx, n.BookingID); err == nil {
		n.GuestName = b.GuestName
		n.GuestEmail = b.GuestEmail
		n.RoomNumber = b.RoomNumber
	} else {
		slog.WarnContext(ctx, "failed to load booking for notification",
			"booking_id", n.BookingID,
			"error", err)
	}
	if !e.notifier.Enqueue(*n) {
		slog.WarnContext(ctx, "notification not queued",
			"event_id", env.ID,
			"kind", n.Kind)
	}
}

func refundStatus(remote string) string {
	if remote == payment.RefundStatusPending {
		return payment.RefundStatusPending
	}
	return payment.RefundStatusSucceeded
}

func isFailedStatus(s string) bool {
	return s == gateway.StatusFailed || s == gateway.StatusExpired || s == gateway.StatusReversed
}
