package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Kind classifies a gateway event after decoding.
type Kind string

const (
	KindChargeCompleted Kind = "charge_completed"
	KindChargeFailed    Kind = "charge_failed"
	KindRefundCreated   Kind = "refund_created"
	KindUnknown         Kind = "unknown"
)

// Gateway event keys as sent on the wire.
const (
	KeyChargeComplete = "charge.complete"
	KeyChargeFailed   = "charge.failed"
	KeyRefundCreate   = "refund.create"
)

// Remote charge status reported as failed by the gateway.
const chargeStatusFailed = "failed"

var (
	// ErrMalformedPayload is returned when the body is not a JSON event envelope.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrInvalidEnvelope is returned when a decoded envelope fails validation.
	ErrInvalidEnvelope = errors.New("invalid webhook envelope")
)

var validate = validator.New()

// EventData is the decoded data section of an envelope.
// It is one of ChargeData, RefundData or UnknownData.
type EventData interface {
	// ChargeID returns the gateway charge the event refers to, if any.
	ChargeID() string
	isEventData()
}

// ChargeData carries charge.* event data.
type ChargeData struct {
	ID             string `json:"id" validate:"required,max=255"`
	Amount         int64  `json:"amount" validate:"gte=0"`
	Currency       string `json:"currency" validate:"required,len=3"`
	Status         string `json:"status"`
	Authorized     bool   `json:"authorized"`
	Captured       bool   `json:"captured"`
	Paid           bool   `json:"paid"`
	Refunded       bool   `json:"refunded"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// RefundData carries refund.* event data.
type RefundData struct {
	ID       string `json:"id" validate:"required,max=255"`
	Charge   string `json:"charge" validate:"required,max=255"`
	Amount   int64  `json:"amount" validate:"gte=0"`
	Currency string `json:"currency" validate:"required,len=3"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// UnknownData holds the data section of event types this service does not act on.
type UnknownData struct {
	Raw json.RawMessage
}

func (c *ChargeData) ChargeID() string  { return c.ID }
func (r *RefundData) ChargeID() string  { return r.Charge }
func (u *UnknownData) ChargeID() string { return "" }

func (*ChargeData) isEventData()  {}
func (*RefundData) isEventData()  {}
func (*UnknownData) isEventData() {}

// Envelope is a decoded, validated gateway event.
type Envelope struct {
	ID       string    `json:"id" validate:"required,max=255"`
	Key      string    `json:"key" validate:"required,max=100"`
	Created  time.Time `json:"created"`
	Kind     Kind      `json:"-"`
	Data     EventData `json:"-"`
	Provider string    `json:"-"`

	// Raw is the exact body received, kept for storage and replay.
	Raw json.RawMessage `json:"-"`
	// DataRaw is the data section, kept as the gateway response snapshot.
	DataRaw json.RawMessage `json:"-"`
}

// ChargeID returns the charge the event refers to, or "".
func (e *Envelope) ChargeID() string {
	if e.Data == nil {
		return ""
	}
	return e.Data.ChargeID()
}

// wireEnvelope mirrors the JSON layout before the data section is resolved.
type wireEnvelope struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Created   json.RawMessage `json:"created"`
	CreatedAt json.RawMessage `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// ParseEnvelope decodes and validates a gateway event body.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var w wireEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	env := &Envelope{
		ID:      strings.TrimSpace(w.ID),
		Key:     strings.TrimSpace(w.Key),
		Raw:     append(json.RawMessage(nil), body...),
		DataRaw: w.Data,
	}
	created := w.Created
	if len(created) == 0 {
		created = w.CreatedAt
	}
	ts, err := parseCreated(created)
	if err != nil {
		return nil, fmt.Errorf("%w: created: %v", ErrInvalidEnvelope, err)
	}
	env.Created = ts

	if err := validate.Struct(env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	if err := env.resolve(); err != nil {
		return nil, err
	}
	return env, nil
}

// resolve decodes the data section according to the event key.
func (e *Envelope) resolve() error {
	switch e.Key {
	case KeyChargeComplete, KeyChargeFailed:
		var c ChargeData
		if err := decodeData(e.DataRaw, &c); err != nil {
			return err
		}
		c.Currency = strings.ToUpper(c.Currency)
		e.Data = &c
		e.Kind = KindChargeCompleted
		if e.Key == KeyChargeFailed || strings.EqualFold(c.Status, chargeStatusFailed) {
			e.Kind = KindChargeFailed
		}
	case KeyRefundCreate:
		var r RefundData
		if err := decodeData(e.DataRaw, &r); err != nil {
			return err
		}
		r.Currency = strings.ToUpper(r.Currency)
		e.Data = &r
		e.Kind = KindRefundCreated
	default:
		e.Data = &UnknownData{Raw: e.DataRaw}
		e.Kind = KindUnknown
	}
	return nil
}

func decodeData(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: missing data", ErrInvalidEnvelope)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformedPayload, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: data: %v", ErrInvalidEnvelope, err)
	}
	return nil
}

// parseCreated accepts RFC 3339 strings or unix seconds. Absent is the zero time.
func parseCreated(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC(), nil
		}
		return time.Parse(time.RFC3339, s)
	}
	var secs int64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}
