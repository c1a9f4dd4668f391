package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/onnwee/resortpay/internal/notify"
	"github.com/onnwee/resortpay/internal/payment"
	"github.com/onnwee/resortpay/internal/tracing"
	"github.com/onnwee/resortpay/internal/webhook"
)

// Timeline sources.
const (
	SourcePayment      = "payment"
	SourceBooking      = "booking"
	SourceRefund       = "refund"
	SourceWebhook      = "webhook"
	SourceNotification = "notification"
)

// TimelineEntry is one dated fact in a payment's history.
type TimelineEntry struct {
	At     time.Time `json:"at"`
	Source string    `json:"source"`
	Kind   string    `json:"kind"`
	Ref    string    `json:"ref"`
	Status string    `json:"status,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Trail is everything recorded about one payment.
type Trail struct {
	Payment          *payment.Payment  `json:"payment"`
	Booking          *payment.Booking  `json:"booking"`
	Refunds          []*payment.Refund `json:"refunds"`
	WebhookEvents    []*webhook.Event  `json:"webhookEvents"`
	NotificationLogs []*notify.Log     `json:"notificationLogs"`
	Timeline         []TimelineEntry   `json:"timeline"`
}

// Assembler joins payment, webhook and notification records. It never writes.
type Assembler struct {
	payments      payment.Repository
	events        webhook.Repository
	notifications notify.LogRepository
}

// NewAssembler creates an Assembler.
func NewAssembler(payments payment.Repository, events webhook.Repository, notifications notify.LogRepository) *Assembler {
	return &Assembler{
		payments:      payments,
		events:        events,
		notifications: notifications,
	}
}

// Trail assembles the trail for paymentID.
// Returns payment.ErrPaymentNotFound if the payment does not exist.
func (a *Assembler) Trail(ctx context.Context, paymentID string) (_ *Trail, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "audit.trail")
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx, tracing.AttrPaymentID.String(paymentID))

	p, err := a.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	b, err := a.payments.GetBooking(ctx, p.BookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking %s: %w", p.BookingID, err)
	}
	refunds, err := a.payments.ListRefunds(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}

	var events []*webhook.Event
	if p.HasCharge() {
		events, err = a.events.ListByChargeID(ctx, *p.ChargeID)
		if err != nil {
			return nil, fmt.Errorf("failed to list webhook events: %w", err)
		}
	}

	logs, err := a.notifications.ListByBooking(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification logs: %w", err)
	}

	t := &Trail{
		Payment:          p,
		Booking:          b,
		Refunds:          nonNil(refunds),
		WebhookEvents:    nonNil(events),
		NotificationLogs: nonNil(logs),
	}
	t.Timeline = buildTimeline(t)
	return t, nil
}

// buildTimeline dates each entry by when the state was reached, never by a
// record's current status.
func buildTimeline(t *Trail) []TimelineEntry {
	entries := []TimelineEntry{
		{At: t.Booking.CreatedAt, Source: SourceBooking, Kind: "booking_created", Ref: t.Booking.ID},
		{At: t.Payment.CreatedAt, Source: SourcePayment, Kind: "payment_created", Ref: t.Payment.ID,
			Detail: notify.FormatAmount(t.Payment.Amount, t.Payment.Currency)},
	}

	for _, ev := range t.WebhookEvents {
		entries = append(entries, TimelineEntry{
			At: ev.ReceivedAt, Source: SourceWebhook, Kind: ev.EventType, Ref: ev.EventID, Status: webhook.StatusProcessing,
			Detail: fmt.Sprintf("received from %s", ev.Provider),
		})
		if ev.ProcessedAt != nil {
			entries = append(entries, TimelineEntry{
				At: *ev.ProcessedAt, Source: SourceWebhook, Kind: ev.EventType, Ref: ev.EventID, Status: ev.Status,
				Detail: ev.FailureReason,
			})
		}
	}

	entries = append(entries, chargeOutcome(t)...)

	var firstRefund *time.Time
	for _, r := range t.Refunds {
		at := r.CreatedAt
		if r.ProcessedAt != nil {
			at = *r.ProcessedAt
		}
		if firstRefund == nil || at.Before(*firstRefund) {
			firstRefund = &at
		}
		entries = append(entries, TimelineEntry{
			At: at, Source: SourceRefund, Kind: "refund_created", Ref: r.GatewayRefundID, Status: r.Status,
			Detail: notify.FormatAmount(r.Amount, r.Currency),
		})
	}
	if t.Payment.Status == payment.StatusRefunded {
		at := t.Payment.UpdatedAt
		if firstRefund != nil {
			at = *firstRefund
		}
		entries = append(entries, TimelineEntry{
			At: at, Source: SourcePayment, Kind: "payment_" + payment.StatusRefunded, Ref: t.Payment.ID,
			Status: payment.StatusRefunded,
		})
	}

	if t.Booking.Status == payment.BookingStatusCancelled {
		entries = append(entries, TimelineEntry{
			At: t.Booking.UpdatedAt, Source: SourceBooking, Kind: "booking_" + payment.BookingStatusCancelled, Ref: t.Booking.ID,
			Status: payment.BookingStatusCancelled,
		})
	}

	for _, l := range t.NotificationLogs {
		entries = append(entries, TimelineEntry{
			At: l.SentAt, Source: SourceNotification, Kind: string(l.Kind), Ref: l.Channel, Status: l.Status,
			Detail: l.Error,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })
	return entries
}

// chargeOutcome returns the payment and booking entries written when the
// charge completed or failed. ProcessedAt is the time of that transition; a
// refund never moves it.
func chargeOutcome(t *Trail) []TimelineEntry {
	p := t.Payment
	if p.ProcessedAt == nil {
		return nil
	}
	var paymentStatus, bookingStatus string
	switch p.Status {
	case payment.StatusCompleted, payment.StatusRefunded:
		paymentStatus, bookingStatus = payment.StatusCompleted, payment.BookingStatusConfirmed
	case payment.StatusFailed:
		paymentStatus, bookingStatus = payment.StatusFailed, payment.BookingStatusPaymentFailed
	default:
		return nil
	}
	at := *p.ProcessedAt
	return []TimelineEntry{
		{At: at, Source: SourcePayment, Kind: "payment_" + paymentStatus, Ref: p.ID, Status: paymentStatus, Detail: p.FailureMessage},
		{At: at, Source: SourceBooking, Kind: "booking_" + bookingStatus, Ref: t.Booking.ID, Status: bookingStatus},
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
