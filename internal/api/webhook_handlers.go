package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/onnwee/resortpay/internal/audit"
	"github.com/onnwee/resortpay/internal/idempotency"
	"github.com/onnwee/resortpay/internal/middleware"
	"github.com/onnwee/resortpay/internal/payment"
	"github.com/onnwee/resortpay/internal/reconcile"
	"github.com/onnwee/resortpay/internal/webhook"
)

// DefaultMaxWebhookBody caps the accepted webhook body size.
const DefaultMaxWebhookBody int64 = 1 << 20

// DefaultInflightWait bounds how long a duplicate delivery waits for the owner.
const DefaultInflightWait = 5 * time.Second

// Reconciler applies an authenticated envelope to local state.
type Reconciler interface {
	Reconcile(ctx context.Context, env *webhook.Envelope) (*reconcile.Outcome, error)
}

// WebhookHandlers holds dependencies for webhook ingestion, replay and stats.
type WebhookHandlers struct {
	sources      map[string]webhook.Source
	store        *idempotency.Store
	events       webhook.Repository
	engine       Reconciler
	audit        audit.Repository
	metrics      *webhook.Metrics
	inflightWait time.Duration
	maxBody      int64
	now          func() time.Time
}

// WebhookHandlersConfig configures WebhookHandlers.
type WebhookHandlersConfig struct {
	Sources      []webhook.Source
	Store        *idempotency.Store
	Events       webhook.Repository
	Engine       Reconciler
	Audit        audit.Repository
	Metrics      *webhook.Metrics // optional
	InflightWait time.Duration
	MaxBodyBytes int64
	Now          func() time.Time
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(cfg WebhookHandlersConfig) *WebhookHandlers {
	h := &WebhookHandlers{
		sources:      make(map[string]webhook.Source, len(cfg.Sources)),
		store:        cfg.Store,
		events:       cfg.Events,
		engine:       cfg.Engine,
		audit:        cfg.Audit,
		metrics:      cfg.Metrics,
		inflightWait: cfg.InflightWait,
		maxBody:      cfg.MaxBodyBytes,
		now:          cfg.Now,
	}
	for _, s := range cfg.Sources {
		h.sources[s.Provider()] = s
	}
	if h.inflightWait <= 0 {
		h.inflightWait = DefaultInflightWait
	}
	if h.maxBody <= 0 {
		h.maxBody = DefaultMaxWebhookBody
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// WebhookResponse is the acknowledgement body for a reconciled event.
type WebhookResponse struct {
	Success   bool   `json:"success"`
	EventType string `json:"eventType"`
	ChargeID  string `json:"chargeId,omitempty"`
	Processed bool   `json:"processed"`
}

// HandleWebhook authenticates and reconciles one gateway delivery.
// POST /webhooks/{provider}
//
// Each gateway event id is reconciled at most once. Redeliveries of a finished
// event receive the stored status and body unchanged.
func (h *WebhookHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := h.now()

	provider := r.PathValue("provider")
	source, ok := h.sources[provider]
	if !ok {
		writeCodedError(w, r, http.StatusNotFound, ErrCodeUnknownProvider, "Unknown webhook provider")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		h.reject(provider, "body")
		writeCodedError(w, r, status, ErrCodeBadRequest, "Failed to read request body")
		return
	}

	env, err := source.Open(webhook.Delivery{Body: body, Header: r.Header, Remote: remoteAddr(r)})
	if err != nil {
		if webhook.IsAuthError(err) {
			slog.WarnContext(ctx, "webhook authentication failed", "provider", provider, "error", err)
			h.reject(provider, "auth")
			writeCodedError(w, r, http.StatusUnauthorized, ErrCodeAuthFailed, "Webhook authentication failed")
			return
		}
		slog.WarnContext(ctx, "webhook payload rejected", "provider", provider, "error", err)
		h.reject(provider, "invalid")
		writeCodedError(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	slog.InfoContext(ctx, "webhook event received",
		"provider", provider,
		"event_id", env.ID,
		"event_type", env.Key,
		"charge_id", env.ChargeID())

	res, err := h.store.Acquire(ctx, webhook.NewEvent(env, start))
	if err != nil {
		slog.ErrorContext(ctx, "failed to acquire webhook event", "event_id", env.ID, "error", err)
		writeCodedError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to record webhook event")
		return
	}

	if res.Decision == idempotency.InFlight {
		res, err = h.store.Await(ctx, env.ID, h.inflightWait)
		if err != nil {
			slog.ErrorContext(ctx, "failed to await in-flight webhook event", "event_id", env.ID, "error", err)
			writeCodedError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to load webhook event")
			return
		}
	}

	switch res.Decision {
	case idempotency.AlreadyProcessed:
		h.replayStored(w, r, provider, env, res)
	case idempotency.InFlight:
		slog.InfoContext(ctx, "webhook event still in flight", "event_id", env.ID)
		h.observe(provider, env.Key, webhook.OutcomeInFlight)
		w.Header().Set("Retry-After", strconv.Itoa(int(h.inflightWait.Seconds()+1)))
		writeCodedError(w, r, http.StatusConflict, ErrCodeConflict, "Event is being processed")
	default:
		code, respBody, _ := h.apply(ctx, env, start)
		if code >= http.StatusBadRequest {
			var errResp ErrorResponse
			if json.Unmarshal(respBody, &errResp) == nil {
				ctx = middleware.SetErrorCode(ctx, errResp.Error.Code)
				middleware.UpdateResponseContext(w, ctx)
			}
		}
		writeRaw(w, ctx, code, respBody)
	}
}

// replayStored writes the outcome recorded by the first delivery.
func (h *WebhookHandlers) replayStored(w http.ResponseWriter, r *http.Request, provider string, env *webhook.Envelope, res *idempotency.Result) {
	slog.InfoContext(r.Context(), "duplicate webhook event, replaying stored response",
		"event_id", env.ID,
		"status", res.Event.Status,
		"response_code", res.ResponseCode())
	if h.metrics != nil {
		h.metrics.IncDuplicate(provider)
	}
	h.observe(provider, env.Key, webhook.OutcomeReplayed)

	code := res.ResponseCode()
	if code == 0 {
		code = http.StatusOK
	}
	w.Header().Set("Idempotent-Replayed", "true")
	writeRaw(w, r.Context(), code, res.ResponseBody())
}

// apply reconciles an owned event and records its terminal outcome.
// It returns the response to send and the event status written.
// Transient failures release the lease and return 500 with status processing.
func (h *WebhookHandlers) apply(ctx context.Context, env *webhook.Envelope, start time.Time) (int, []byte, string) {
	out, err := h.engine.Reconcile(ctx, env)
	if err != nil && !reconcile.IsDomainError(err) {
		slog.ErrorContext(ctx, "webhook reconciliation failed, releasing event",
			"event_id", env.ID,
			"event_type", env.Key,
			"error", err)
		if relErr := h.store.Release(ctx, env.ID, err.Error()); relErr != nil {
			slog.ErrorContext(ctx, "failed to release webhook event", "event_id", env.ID, "error", relErr)
		}
		h.observe(env.Provider, env.Key, webhook.OutcomeTransient)
		return http.StatusInternalServerError, errorBody(ErrCodeInternal, "Failed to process webhook"), webhook.StatusProcessing
	}

	result := webhook.Result{ProcessedAt: h.now()}
	if err != nil {
		status, code, msg := domainError(err)
		result.Status = webhook.StatusFailed
		result.Code = status
		result.Body = errorBody(code, msg)
		result.FailureReason = err.Error()
		slog.WarnContext(ctx, "webhook event failed reconciliation",
			"event_id", env.ID,
			"charge_id", env.ChargeID(),
			"error", err)
	} else {
		body, _ := json.Marshal(WebhookResponse{
			Success:   true,
			EventType: out.EventType,
			ChargeID:  out.ChargeID,
			Processed: out.Processed,
		})
		result.Status = webhook.StatusSuccess
		result.Code = http.StatusOK
		result.Body = body
	}
	result.Duration = result.ProcessedAt.Sub(start)

	if err := h.store.Finish(ctx, env.ID, result); err != nil {
		// The lease expires and a redelivery re-applies; same-state
		// reconciliation is a no-op.
		slog.ErrorContext(ctx, "failed to record webhook outcome", "event_id", env.ID, "error", err)
		h.observe(env.Provider, env.Key, webhook.OutcomeTransient)
		return http.StatusInternalServerError, errorBody(ErrCodeInternal, "Failed to record webhook outcome"), webhook.StatusProcessing
	}

	outcome := webhook.OutcomeSuccess
	if result.Status == webhook.StatusFailed {
		outcome = webhook.OutcomeFailed
	}
	h.observe(env.Provider, env.Key, outcome)
	if h.metrics != nil {
		h.metrics.ObserveDuration(env.Provider, env.Key, result.Duration.Seconds())
	}
	return result.Code, result.Body, result.Status
}

// domainError maps a final business error to its HTTP status and code.
func domainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, payment.ErrPaymentNotFound):
		return http.StatusNotFound, ErrCodePaymentNotFound, "No payment matches this charge"
	case errors.Is(err, payment.ErrInvalidTransition):
		return http.StatusConflict, ErrCodeInvalidTransition, "Payment status cannot change this way"
	default:
		return http.StatusConflict, ErrCodeConflict, "Gateway does not confirm this event"
	}
}

func (h *WebhookHandlers) observe(provider, eventType, outcome string) {
	if h.metrics != nil {
		h.metrics.ObserveOutcome(provider, eventType, outcome)
	}
}

func (h *WebhookHandlers) reject(provider, reason string) {
	if h.metrics != nil {
		h.metrics.IncRejected(provider, reason)
	}
}

// remoteAddr returns the peer address of the connection. Forwarding headers
// are ignored: the source allowlist must not be spoofable.
func remoteAddr(r *http.Request) netip.Addr {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}
