// Package notify fans reconciliation results out to staff and guests.
//
// Notifications are enqueued after the payment transaction commits and are
// delivered by a fixed pool of background workers. Delivery never affects the
// webhook outcome: failures are logged and recorded in the notification log.
package notify

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies what happened to a booking.
type Kind string

const (
	KindBookingConfirmed Kind = "booking_confirmed"
	KindPaymentFailed    Kind = "payment_failed"
	KindRefundCreated    Kind = "refund_created"
)

// Notification describes one reconciliation result worth telling someone about.
type Notification struct {
	Kind       Kind      `json:"kind"`
	EventID    string    `json:"eventId"`
	PaymentID  string    `json:"paymentId"`
	BookingID  string    `json:"bookingId"`
	ChargeID   string    `json:"chargeId"`
	GuestName  string    `json:"guestName,omitempty"`
	GuestEmail string    `json:"-"`
	RoomNumber string    `json:"roomNumber,omitempty"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Subject is a one-line summary used as e-mail subject.
func (n Notification) Subject() string {
	switch n.Kind {
	case KindBookingConfirmed:
		return "Your booking is confirmed"
	case KindPaymentFailed:
		return "Payment for your booking failed"
	case KindRefundCreated:
		return "Your refund is on its way"
	default:
		return "Booking update"
	}
}

// Text renders a plain-text message for staff channels.
func (n Notification) Text() string {
	var b strings.Builder
	switch n.Kind {
	case KindBookingConfirmed:
		b.WriteString("Booking confirmed")
	case KindPaymentFailed:
		b.WriteString("Payment failed")
	case KindRefundCreated:
		b.WriteString("Refund created")
	default:
		b.WriteString(string(n.Kind))
	}
	fmt.Fprintf(&b, "\nBooking: %s", n.BookingID)
	if n.GuestName != "" {
		fmt.Fprintf(&b, "\nGuest: %s", n.GuestName)
	}
	if n.RoomNumber != "" {
		fmt.Fprintf(&b, "\nRoom: %s", n.RoomNumber)
	}
	fmt.Fprintf(&b, "\nAmount: %s", FormatAmount(n.Amount, n.Currency))
	fmt.Fprintf(&b, "\nCharge: %s", n.ChargeID)
	if n.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", n.Reason)
	}
	return b.String()
}

// FormatAmount renders minor units with two decimals, e.g. 150000 THB -> "1500.00 THB".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}
