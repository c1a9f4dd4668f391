package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/onnwee/resortpay/internal/validate"
)

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

// EmailChannel sends guest-facing notifications over SMTP.
type EmailChannel struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an SMTP channel. An empty sender defaults to no-reply@<host>.
func NewEmailChannel(cfg SMTPConfig) *EmailChannel {
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@" + cfg.Host
	}
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	return &EmailChannel{cfg: cfg, sendMail: smtp.SendMail}
}

// Name implements Channel.
func (e *EmailChannel) Name() string { return ChannelEmail }

// Send implements Channel. Notifications without a guest e-mail are skipped.
func (e *EmailChannel) Send(ctx context.Context, n Notification) (string, error) {
	if strings.TrimSpace(n.GuestEmail) == "" {
		return "", ErrSkipped
	}
	to, err := validate.Email(n.GuestEmail)
	if err != nil {
		return n.GuestEmail, fmt.Errorf("invalid recipient address: %w", err)
	}

	var auth smtp.Auth
	if e.cfg.Username != "" && e.cfg.Password != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", e.cfg.Sender, to, n.Subject()) +
			fmt.Sprintf("Date: %s\r\n", n.CreatedAt.UTC().Format(time.RFC1123Z)) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
			guestBody(n),
	)

	// smtp.SendMail has no context; run it aside so ctx bounds the wait.
	addr := net.JoinHostPort(e.cfg.Host, e.cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.sendMail(addr, auth, e.cfg.Sender, []string{to}, msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return to, fmt.Errorf("smtp send failed: %w", err)
		}
		return to, nil
	case <-ctx.Done():
		return to, ctx.Err()
	}
}

func guestBody(n Notification) string {
	var b strings.Builder
	name := n.GuestName
	if name == "" {
		name = "Guest"
	}
	fmt.Fprintf(&b, "Dear %s,\r\n\r\n", name)
	switch n.Kind {
	case KindBookingConfirmed:
		fmt.Fprintf(&b, "We received your payment of %s. Your booking %s is confirmed.\r\n",
			FormatAmount(n.Amount, n.Currency), n.BookingID)
	case KindPaymentFailed:
		fmt.Fprintf(&b, "Your payment of %s for booking %s could not be completed.\r\n",
			FormatAmount(n.Amount, n.Currency), n.BookingID)
		if n.Reason != "" {
			fmt.Fprintf(&b, "Reason: %s\r\n", n.Reason)
		}
	case KindRefundCreated:
		fmt.Fprintf(&b, "A refund of %s for booking %s has been issued.\r\n",
			FormatAmount(n.Amount, n.Currency), n.BookingID)
	}
	b.WriteString("\r\nThank you.\r\n")
	return b.String()
}
