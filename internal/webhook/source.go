package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"
)

// Delivery is one inbound webhook request as seen by a Source.
type Delivery struct {
	Body   []byte
	Header http.Header
	Remote netip.Addr
}

// Source authenticates and decodes deliveries from a single provider.
// Open returns an error matching IsAuthError for authentication failures,
// and ErrMalformedPayload or ErrInvalidEnvelope for bad bodies.
type Source interface {
	Provider() string
	Open(d Delivery) (*Envelope, error)
	// Decode rebuilds the envelope from a stored, already authenticated body.
	Decode(body []byte) (*Envelope, error)
}

// HMACSource accepts envelopes signed with X-Webhook-Signature.
type HMACSource struct {
	name     string
	verifier *Verifier
}

// NewHMACSource creates a Source named provider backed by verifier.
func NewHMACSource(provider string, verifier *Verifier) *HMACSource {
	return &HMACSource{name: provider, verifier: verifier}
}

// Provider returns the provider name used in the route.
func (s *HMACSource) Provider() string { return s.name }

// Open verifies the delivery and decodes its envelope.
func (s *HMACSource) Open(d Delivery) (*Envelope, error) {
	if err := s.verifier.Verify(d.Body, d.Header.Get(SignatureHeader), d.Header.Get(TimestampHeader), d.Remote); err != nil {
		return nil, err
	}
	return s.Decode(d.Body)
}

// Decode parses a stored envelope body.
func (s *HMACSource) Decode(body []byte) (*Envelope, error) {
	env, err := ParseEnvelope(body)
	if err != nil {
		return nil, err
	}
	env.Provider = s.name
	return env, nil
}

// StripeSource accepts Stripe-Signature deliveries and normalizes them into envelopes.
type StripeSource struct {
	secret    string
	tolerance time.Duration
	allow     []netip.Prefix
}

// NewStripeSource creates a StripeSource. A zero tolerance uses DefaultTolerance.
func NewStripeSource(secret string, tolerance time.Duration, allow []netip.Prefix) *StripeSource {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &StripeSource{secret: secret, tolerance: tolerance, allow: allow}
}

// Provider returns "stripe".
func (s *StripeSource) Provider() string { return "stripe" }

// Stripe event types mapped onto envelope kinds.
const (
	stripeChargeSucceeded = "charge.succeeded"
	stripeChargeFailed    = "charge.failed"
	stripeRefundCreated   = "refund.created"
)

// Open verifies the Stripe signature and converts the event.
func (s *StripeSource) Open(d Delivery) (*Envelope, error) {
	if len(s.allow) > 0 {
		v := &Verifier{allow: s.allow}
		if !v.allowed(d.Remote) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotAllowed, d.Remote)
		}
	}

	event, err := stripewebhook.ConstructEventWithOptions(d.Body, d.Header.Get("Stripe-Signature"), s.secret,
		stripewebhook.ConstructEventOptions{
			Tolerance:                s.tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		return nil, mapStripeError(err)
	}
	return s.fromEvent(event, d.Body)
}

// Decode parses a stored Stripe event body without signature checks.
func (s *StripeSource) Decode(body []byte) (*Envelope, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return s.fromEvent(event, body)
}

func (s *StripeSource) fromEvent(event stripe.Event, body []byte) (*Envelope, error) {
	env := &Envelope{
		ID:       event.ID,
		Key:      string(event.Type),
		Created:  time.Unix(event.Created, 0).UTC(),
		Provider: s.Provider(),
		Raw:      append(json.RawMessage(nil), body...),
	}
	if event.Data != nil {
		// Raw is the data.object document.
		env.DataRaw = event.Data.Raw
	}
	if err := validate.Struct(env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	switch env.Key {
	case stripeChargeSucceeded, stripeChargeFailed:
		var ch stripe.Charge
		if err := json.Unmarshal(env.DataRaw, &ch); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformedPayload, err)
		}
		data := &ChargeData{
			ID:             ch.ID,
			Amount:         ch.Amount,
			Currency:       strings.ToUpper(string(ch.Currency)),
			Status:         normalizeStripeChargeStatus(ch.Status),
			Authorized:     ch.Paid,
			Captured:       ch.Captured,
			Paid:           ch.Paid,
			Refunded:       ch.Refunded,
			FailureCode:    ch.FailureCode,
			FailureMessage: ch.FailureMessage,
		}
		if err := validate.Struct(data); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrInvalidEnvelope, err)
		}
		env.Data = data
		env.Kind = KindChargeCompleted
		if env.Key == stripeChargeFailed {
			env.Kind = KindChargeFailed
		}
	case stripeRefundCreated:
		var rf stripe.Refund
		if err := json.Unmarshal(env.DataRaw, &rf); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformedPayload, err)
		}
		data := &RefundData{
			ID:       rf.ID,
			Amount:   rf.Amount,
			Currency: strings.ToUpper(string(rf.Currency)),
			Status:   string(rf.Status),
			Reason:   string(rf.Reason),
		}
		if rf.Charge != nil {
			data.Charge = rf.Charge.ID
		}
		if err := validate.Struct(data); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrInvalidEnvelope, err)
		}
		env.Data = data
		env.Kind = KindRefundCreated
	default:
		env.Data = &UnknownData{Raw: env.DataRaw}
		env.Kind = KindUnknown
	}
	return env, nil
}

func normalizeStripeChargeStatus(status stripe.ChargeStatus) string {
	if status == stripe.ChargeStatusSucceeded {
		return "successful"
	}
	return string(status)
}

func mapStripeError(err error) error {
	switch {
	case errors.Is(err, stripewebhook.ErrNotSigned):
		return ErrMissingSignature
	case errors.Is(err, stripewebhook.ErrTooOld):
		return ErrStaleTimestamp
	case errors.Is(err, stripewebhook.ErrNoValidSignature), errors.Is(err, stripewebhook.ErrInvalidHeader):
		return ErrInvalidSignature
	default:
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
}
