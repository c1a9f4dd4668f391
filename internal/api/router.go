package api

import (
	"net/http"
	"net/netip"

	"github.com/onnwee/resortpay/internal/auth"
	"github.com/onnwee/resortpay/internal/middleware"
)

// RouterConfig collects the handlers and guards mounted by NewRouter.
// Nil handler groups are not mounted.
type RouterConfig struct {
	Webhooks      *WebhookHandlers
	Payments      *PaymentHandlers
	Notifications *NotificationHandlers
	Health        *HealthHandlers
	Metrics       http.Handler

	// Tokens validates operator bearer tokens. Required when any operator
	// route is mounted.
	Tokens middleware.TokenValidator

	RateLimitStore   middleware.RateLimitStore
	TrustedProxies   []netip.Prefix
	WebhookLimit     middleware.RateLimitConfig
	OperatorLimit    middleware.RateLimitConfig
	RateLimitMetrics *middleware.Metrics

	// ReplayResponses caches replay results per Idempotency-Key. Optional.
	ReplayResponses middleware.ResponseCache
}

// NewRouter builds the route table. Request-wide middleware (request ids,
// logging, tracing, CORS) is applied by the caller around the result.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	if cfg.Health != nil {
		mux.HandleFunc("GET /health", cfg.Health.Health)
		mux.HandleFunc("GET /ready", cfg.Health.Ready)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	webhookGuard := chain(limiter(cfg, cfg.WebhookLimit, middleware.IPKeyFunc(cfg.TrustedProxies...)))
	anyOperator := chain(
		middleware.OperatorAuth(cfg.Tokens),
		middleware.RequireRole(auth.RoleAuditor, auth.RoleOperator),
		limiter(cfg, cfg.OperatorLimit, middleware.OperatorKeyFunc(cfg.TrustedProxies...)),
	)
	replayOperator := chain(
		middleware.OperatorAuth(cfg.Tokens),
		middleware.RequireRole(auth.RoleOperator),
		limiter(cfg, cfg.OperatorLimit, middleware.OperatorKeyFunc(cfg.TrustedProxies...)),
		idempotent(cfg.ReplayResponses),
	)

	if h := cfg.Webhooks; h != nil {
		// Limits apply before signature verification.
		mux.Handle("POST /webhooks/{provider}", webhookGuard(http.HandlerFunc(h.HandleWebhook)))
		mux.Handle("GET /webhooks/stats", anyOperator(http.HandlerFunc(h.Stats)))
		mux.Handle("POST /webhooks/events/{eventId}/replay", replayOperator(http.HandlerFunc(h.Replay)))
	}
	if h := cfg.Payments; h != nil {
		mux.Handle("GET /payments/{id}/verify", anyOperator(http.HandlerFunc(h.Verify)))
		mux.Handle("GET /payments/{id}/audit-trail", anyOperator(http.HandlerFunc(h.AuditTrail)))
	}
	if h := cfg.Notifications; h != nil {
		mux.Handle("GET /ws/notifications", anyOperator(http.HandlerFunc(h.Subscribe)))
	}

	return mux
}

// limiter returns a rate limit middleware, or nil when no store is configured.
func limiter(cfg RouterConfig, limit middleware.RateLimitConfig, key middleware.KeyFunc) func(http.Handler) http.Handler {
	if cfg.RateLimitStore == nil || limit.RequestsPerWindow <= 0 {
		return nil
	}
	return middleware.RateLimiter(cfg.RateLimitStore, limit, key, cfg.RateLimitMetrics)
}

func idempotent(cache middleware.ResponseCache) func(http.Handler) http.Handler {
	if cache == nil {
		return nil
	}
	return middleware.Idempotency(cache, middleware.DefaultIdempotencyTTL)
}

// chain composes middleware so the first argument runs first. Nil entries are skipped.
func chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] != nil {
				h = mws[i](h)
			}
		}
		return h
	}
}
