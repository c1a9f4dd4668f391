// Package gateway retrieves authoritative charge state from the payment gateway.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Normalised charge statuses. Every provider maps onto these values.
const (
	StatusPending    = "pending"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusExpired    = "expired"
	StatusReversed   = "reversed"
)

// Provider names accepted by New.
const (
	ProviderOmise  = "omise"
	ProviderStripe = "stripe"
)

var (
	// ErrChargeNotFound is returned when the gateway has no charge with the given id.
	ErrChargeNotFound = errors.New("charge not found at gateway")
	// ErrUnavailable is returned for network failures and gateway 5xx responses.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrUnauthorized is returned when the gateway rejects the secret key.
	ErrUnauthorized = errors.New("payment gateway rejected credentials")
	// ErrUnknownProvider is returned by New for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown gateway provider")
)

// Charge is the gateway's view of a charge.
type Charge struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Paid           bool   `json:"paid"`
	Refunded       bool   `json:"refunded"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	FailureCode    string `json:"failureCode,omitempty"`
	FailureMessage string `json:"failureMessage,omitempty"`
}

// Client is an interface for gateway operations to enable testing with mocks.
type Client interface {
	RetrieveCharge(ctx context.Context, chargeID string) (*Charge, error)
}

// Config selects and configures a gateway client.
type Config struct {
	Provider  string
	SecretKey string
	BaseURL   string
}

// New builds the client for cfg.Provider.
func New(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOmise:
		return NewOmiseClient(cfg.SecretKey, cfg.BaseURL), nil
	case ProviderStripe:
		return NewStripeClient(cfg.SecretKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return err != nil && !errors.Is(err, ErrChargeNotFound)
}
