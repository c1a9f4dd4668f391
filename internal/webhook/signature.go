package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// Header names carrying the signature and the optional send timestamp.
const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
)

// DefaultTolerance is the freshness window applied to the timestamp header.
const DefaultTolerance = 5 * time.Minute

var (
	// ErrMissingSignature is returned when the signature header is absent.
	ErrMissingSignature = errors.New("missing webhook signature")

	// ErrInvalidSignature is returned when the signature does not match the body.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrStaleTimestamp is returned when the timestamp is outside the tolerance window.
	ErrStaleTimestamp = errors.New("webhook timestamp outside tolerance")

	// ErrInvalidTimestamp is returned when the timestamp header cannot be parsed.
	ErrInvalidTimestamp = errors.New("invalid webhook timestamp")

	// ErrSourceNotAllowed is returned when the caller is not on the allow-list.
	ErrSourceNotAllowed = errors.New("webhook source not allowed")
)

// IsAuthError reports whether err is one of the authentication failures above.
// Authentication failures are rejected before any state is touched.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrStaleTimestamp) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrSourceNotAllowed)
}

// Verifier authenticates webhook deliveries signed with a shared HMAC-SHA256 secret.
type Verifier struct {
	secret          []byte
	tolerance       time.Duration
	allow           []netip.Prefix
	signedTimestamp bool
	now             func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithTolerance overrides DefaultTolerance.
func WithTolerance(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

// WithAllowList restricts deliveries to the given prefixes.
func WithAllowList(prefixes []netip.Prefix) VerifierOption {
	return func(v *Verifier) {
		v.allow = prefixes
	}
}

// WithSignedTimestamp requires the timestamp header and binds it to the
// signature, which then covers "<timestamp>.<body>". Without it the timestamp
// is optional and unsigned.
func WithSignedTimestamp() VerifierOption {
	return func(v *Verifier) {
		v.signedTimestamp = true
	}
}

// WithClock sets the time source used for timestamp checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a Verifier for the given shared secret.
func NewVerifier(secret string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks, in order, the source address, the signature and the timestamp.
// timestamp may be empty; remote may be the zero Addr when unknown.
func (v *Verifier) Verify(body []byte, signature, timestamp string, remote netip.Addr) error {
	if len(v.allow) > 0 && !v.allowed(remote) {
		return fmt.Errorf("%w: %s", ErrSourceNotAllowed, remote)
	}

	timestamp = strings.TrimSpace(timestamp)
	if v.signedTimestamp && timestamp == "" {
		return fmt.Errorf("%w: header required", ErrInvalidTimestamp)
	}

	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	claimed, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return ErrInvalidSignature
	}
	expected := v.sign(body)
	if v.signedTimestamp {
		expected = v.sign(timestampedPayload(timestamp, body))
	}
	if !hmac.Equal(claimed, expected) {
		return ErrInvalidSignature
	}

	if timestamp == "" {
		return nil
	}
	return v.checkTimestamp(timestamp)
}

// Sign returns the hex signature for body. Used by tests and local tooling.
func (v *Verifier) Sign(body []byte) string {
	return hex.EncodeToString(v.sign(body))
}

// SignAt returns the hex signature for body sent at timestamp, as checked
// when WithSignedTimestamp is set.
func (v *Verifier) SignAt(timestamp string, body []byte) string {
	return hex.EncodeToString(v.sign(timestampedPayload(timestamp, body)))
}

func timestampedPayload(timestamp string, body []byte) []byte {
	payload := make([]byte, 0, len(timestamp)+1+len(body))
	payload = append(payload, timestamp...)
	payload = append(payload, '.')
	return append(payload, body...)
}

func (v *Verifier) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return mac.Sum(nil)
}

func (v *Verifier) checkTimestamp(raw string) error {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	sent := time.Unix(secs, 0)
	age := v.now().Sub(sent)
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: age %s", ErrStaleTimestamp, age.Truncate(time.Second))
	}
	return nil
}

func (v *Verifier) allowed(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range v.allow {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseAllowList parses a list of CIDRs or bare addresses.
func ParseAllowList(entries []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid allow-list entry %q: %w", e, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid allow-list entry %q: %w", e, err)
		}
		a = a.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(a, a.BitLen()))
	}
	return prefixes, nil
}
