package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/onnwee/resortpay/internal/tracing"
)

// DefaultOmiseBaseURL is the Omise REST API root.
const DefaultOmiseBaseURL = "https://api.omise.co"

// DefaultTimeout bounds a single gateway request.
const DefaultTimeout = 10 * time.Second

// OmiseClient talks to an Omise-style REST API using HTTP basic auth with the
// secret key as username.
type OmiseClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewOmiseClient creates a client. An empty baseURL selects DefaultOmiseBaseURL.
func NewOmiseClient(secretKey, baseURL string) *OmiseClient {
	if baseURL == "" {
		baseURL = DefaultOmiseBaseURL
	}
	return &OmiseClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type omiseCharge struct {
	Object         string `json:"object"`
	ID             string `json:"id"`
	Status         string `json:"status"`
	Paid           bool   `json:"paid"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	RefundedAmount int64  `json:"refunded_amount"`
	Reversed       bool   `json:"reversed"`
	FailureCode    string `json:"failure_code"`
	FailureMessage string `json:"failure_message"`
}

type omiseError struct {
	Object  string `json:"object"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RetrieveCharge fetches GET {base}/charges/{id}.
func (c *OmiseClient) RetrieveCharge(ctx context.Context, chargeID string) (charge *Charge, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "gateway.retrieve_charge")
	defer func() { endSpan(spanErr(err)) }()
	tracing.SetAttributes(ctx,
		tracing.AttrProvider.String(ProviderOmise),
		tracing.AttrChargeID.String(chargeID))

	endpoint := c.baseURL + "/charges/" + url.PathEscape(chargeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build charge request: %w", err)
	}
	req.SetBasicAuth(c.secretKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrChargeNotFound, chargeID)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		var apiErr omiseError
		_ = json.Unmarshal(body, &apiErr)
		slog.WarnContext(ctx, "gateway rejected charge lookup",
			"charge_id", chargeID,
			"status", resp.StatusCode,
			"code", apiErr.Code)
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, apiErr.Message)
	}

	var oc omiseCharge
	if err := json.Unmarshal(body, &oc); err != nil {
		return nil, fmt.Errorf("%w: decoding charge: %v", ErrUnavailable, err)
	}

	return &Charge{
		ID:             oc.ID,
		Status:         oc.Status,
		Paid:           oc.Paid,
		Refunded:       oc.RefundedAmount > 0 || oc.Reversed,
		Amount:         oc.Amount,
		Currency:       strings.ToUpper(oc.Currency),
		FailureCode:    oc.FailureCode,
		FailureMessage: oc.FailureMessage,
	}, nil
}

// spanErr keeps not-found lookups out of span error status.
func spanErr(err error) error {
	if err == nil || !IsTransient(err) {
		return nil
	}
	return err
}
