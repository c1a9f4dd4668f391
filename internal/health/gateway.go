package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// GatewayChecker reports whether the payment gateway API is reachable.
// Any response below 500 counts as reachable: the API root answers 401
// to unauthenticated requests.
type GatewayChecker struct {
	url    string
	client *http.Client
}

// NewGatewayChecker creates a checker probing the gateway base URL.
func NewGatewayChecker(url string) *GatewayChecker {
	return &GatewayChecker{
		url: url,
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// HealthCheck issues a HEAD request against the gateway base URL.
func (g *GatewayChecker) HealthCheck(ctx context.Context) error {
	if g.url == "" {
		return errors.New("gateway url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach payment gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("payment gateway unhealthy: status code %d", resp.StatusCode)
	}
	return nil
}
