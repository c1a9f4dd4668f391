package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/onnwee/resortpay/internal/tracing"
)

// StripeClient implements Client using the Stripe SDK. Each instance owns its
// own client.API so the package-level stripe.Key is never touched.
type StripeClient struct {
	api *client.API
}

// NewStripeClient creates a Stripe client with the given API key.
// A non-empty baseURL overrides the API backend, which tests use to point at httptest.
func NewStripeClient(apiKey, baseURL string) *StripeClient {
	var backends *stripe.Backends
	if baseURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(baseURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	return &StripeClient{api: client.New(apiKey, backends)}
}

// RetrieveCharge fetches the charge and normalises its status.
func (c *StripeClient) RetrieveCharge(ctx context.Context, chargeID string) (charge *Charge, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "gateway.retrieve_charge")
	defer func() { endSpan(spanErr(err)) }()
	tracing.SetAttributes(ctx,
		tracing.AttrProvider.String(ProviderStripe),
		tracing.AttrChargeID.String(chargeID))

	params := &stripe.ChargeParams{}
	params.Context = ctx

	ch, err := c.api.Charges.Get(chargeID, params)
	if err != nil {
		return nil, mapStripeError(chargeID, err)
	}

	return &Charge{
		ID:             ch.ID,
		Status:         normaliseStripeStatus(ch.Status),
		Paid:           ch.Paid,
		Refunded:       ch.Refunded || ch.AmountRefunded > 0,
		Amount:         ch.Amount,
		Currency:       strings.ToUpper(string(ch.Currency)),
		FailureCode:    ch.FailureCode,
		FailureMessage: ch.FailureMessage,
	}, nil
}

func normaliseStripeStatus(s stripe.ChargeStatus) string {
	switch s {
	case stripe.ChargeStatusSucceeded:
		return StatusSuccessful
	case stripe.ChargeStatusFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

func mapStripeError(chargeID string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrChargeNotFound, chargeID)
	case stripeErr.HTTPStatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 0:
		return fmt.Errorf("%w: %s", ErrUnavailable, stripeErr.Msg)
	default:
		return fmt.Errorf("gateway returned status %d: %s", stripeErr.HTTPStatusCode, stripeErr.Msg)
	}
}
