package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/resortpay/internal/audit"
	"github.com/onnwee/resortpay/internal/auth"
	"github.com/onnwee/resortpay/internal/gateway"
	"github.com/onnwee/resortpay/internal/idempotency"
	"github.com/onnwee/resortpay/internal/middleware"
	"github.com/onnwee/resortpay/internal/notify"
	"github.com/onnwee/resortpay/internal/payment"
	"github.com/onnwee/resortpay/internal/reconcile"
	"github.com/onnwee/resortpay/internal/webhook"
)

const (
	testWebhookSecret = "whsec_test"
	testJWTSecret     = "jwt-test-secret"
)

const (
	chargeCompleteBody = `{"id":"evnt_1","key":"charge.complete","data":{"id":"ch_test_123","amount":150000,"currency":"THB","status":"successful","paid":true}}`
	chargeFailedBody   = `{"id":"evnt_2","key":"charge.complete","data":{"id":"ch_test_123","amount":150000,"currency":"THB","status":"failed","failure_code":"insufficient_fund","failure_message":"insufficient funds in the account"}}`
	unknownChargeBody  = `{"id":"evnt_9","key":"charge.complete","data":{"id":"ch_unknown","amount":100,"currency":"THB","status":"successful","paid":true}}`
	customerUpdateBody = `{"id":"evnt_5","key":"customer.update","data":{"id":"cust_1"}}`
)

// switchReconciler fails with err while it is set, then delegates.
type switchReconciler struct {
	mu    sync.Mutex
	inner Reconciler
	err   error
}

func (s *switchReconciler) Reconcile(ctx context.Context, env *webhook.Envelope) (*reconcile.Outcome, error) {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.inner.Reconcile(ctx, env)
}

func (s *switchReconciler) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type fakeGateway struct {
	mu     sync.Mutex
	charge *gateway.Charge
	err    error
}

func (f *fakeGateway) RetrieveCharge(ctx context.Context, chargeID string) (*gateway.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := *f.charge
	c.ID = chargeID
	return &c, nil
}

type fixture struct {
	t          *testing.T
	payments   *payment.InMemoryRepository
	events     *webhook.InMemoryRepository
	auditRepo  *audit.InMemoryRepository
	notifyLogs *notify.InMemoryLogRepository
	hub        *notify.Hub
	gateway    *fakeGateway
	reconciler *switchReconciler
	verifier   *webhook.Verifier
	tokens     *auth.JWTService
	registry   *prometheus.Registry
	handler    http.Handler
	payment    *payment.Payment
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	webhookLimit middleware.RateLimitConfig
	inflightWait time.Duration
}

func withWebhookLimit(n int) fixtureOption {
	return func(c *fixtureConfig) {
		c.webhookLimit = middleware.RateLimitConfig{RequestsPerWindow: n, WindowDuration: time.Minute}
	}
}

func withInflightWait(d time.Duration) fixtureOption {
	return func(c *fixtureConfig) {
		c.inflightWait = d
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{inflightWait: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fixture{
		t:          t,
		payments:   payment.NewInMemoryRepository(),
		events:     webhook.NewInMemoryRepository(),
		auditRepo:  audit.NewInMemoryRepository(),
		notifyLogs: notify.NewInMemoryLogRepository(),
		gateway: &fakeGateway{charge: &gateway.Charge{
			Status: gateway.StatusSuccessful, Paid: true, Amount: 150000, Currency: "THB",
		}},
		verifier: webhook.NewVerifier(testWebhookSecret),
		tokens:   auth.NewJWTService(testJWTSecret),
		registry: prometheus.NewRegistry(),
	}
	f.hub = notify.NewHub(nil)
	f.payment = f.seedPayment("pay_1", "ch_test_123")

	webhookMetrics := webhook.NewMetrics()
	if err := webhookMetrics.Register(f.registry); err != nil {
		t.Fatalf("failed to register webhook metrics: %v", err)
	}

	f.reconciler = &switchReconciler{inner: reconcile.NewEngine(f.payments)}
	store := idempotency.NewStore(f.events, idempotency.WithPollInterval(10*time.Millisecond))

	webhooks := NewWebhookHandlers(WebhookHandlersConfig{
		Sources:      []webhook.Source{webhook.NewHMACSource("omise", f.verifier)},
		Store:        store,
		Events:       f.events,
		Engine:       f.reconciler,
		Audit:        f.auditRepo,
		Metrics:      webhookMetrics,
		InflightWait: cfg.inflightWait,
	})
	payments := NewPaymentHandlers(
		reconcile.NewVerificationService(f.payments, f.gateway, nil),
		audit.NewAssembler(f.payments, f.events, f.notifyLogs),
		f.auditRepo,
	)

	var store2 middleware.RateLimitStore
	if cfg.webhookLimit.RequestsPerWindow > 0 {
		store2 = middleware.NewInMemoryRateLimitStore()
	}
	f.handler = NewRouter(RouterConfig{
		Webhooks:        webhooks,
		Payments:        payments,
		Notifications:   NewNotificationHandlers(f.hub, f.auditRepo, func(*http.Request) bool { return true }),
		Health:          NewHealthHandlers(HealthHandlersConfig{}),
		Tokens:          f.tokens,
		RateLimitStore:  store2,
		ReplayResponses: middleware.NewInMemoryResponseCache(),
		WebhookLimit:    cfg.webhookLimit,
	})
	return f
}

func (f *fixture) seedPayment(id, chargeID string) *payment.Payment {
	f.t.Helper()
	ctx := context.Background()
	b := &payment.Booking{
		GuestName:  "Ada Lovelace",
		GuestEmail: "ada@example.com",
		RoomNumber: "204",
		CheckIn:    time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC),
		CheckOut:   time.Date(2026, 12, 24, 0, 0, 0, 0, time.UTC),
	}
	if err := f.payments.CreateBooking(ctx, b); err != nil {
		f.t.Fatalf("CreateBooking failed: %v", err)
	}
	p := &payment.Payment{ID: id, BookingID: b.ID, Amount: 150000, Currency: "THB"}
	if chargeID != "" {
		p.ChargeID = &chargeID
	}
	if err := f.payments.CreatePayment(ctx, p); err != nil {
		f.t.Fatalf("CreatePayment failed: %v", err)
	}
	return p
}

// deliver posts a signed webhook body.
func (f *fixture) deliver(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/omise", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, f.verifier.Sign([]byte(body)))
	return f.serve(req)
}

func (f *fixture) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) token(operatorID, role string) string {
	f.t.Helper()
	tok, err := f.tokens.GenerateOperatorToken(operatorID, role, time.Hour)
	if err != nil {
		f.t.Fatalf("GenerateOperatorToken failed: %v", err)
	}
	return tok
}

// operator sends an authenticated operator request.
func (f *fixture) operator(method, path, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+f.token("ops-"+role, role))
	return f.serve(req)
}

func (f *fixture) counterValue(name string, labels map[string]string) float64 {
	f.t.Helper()
	families, err := f.registry.Gather()
	if err != nil {
		f.t.Fatalf("Gather failed: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
