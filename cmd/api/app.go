package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/resortpay/internal/api"
	"github.com/onnwee/resortpay/internal/audit"
	"github.com/onnwee/resortpay/internal/auth"
	"github.com/onnwee/resortpay/internal/config"
	"github.com/onnwee/resortpay/internal/gateway"
	"github.com/onnwee/resortpay/internal/health"
	"github.com/onnwee/resortpay/internal/idempotency"
	"github.com/onnwee/resortpay/internal/jobs"
	"github.com/onnwee/resortpay/internal/middleware"
	"github.com/onnwee/resortpay/internal/notify"
	"github.com/onnwee/resortpay/internal/payment"
	"github.com/onnwee/resortpay/internal/reconcile"
	"github.com/onnwee/resortpay/internal/webhook"
)

const (
	serviceName = "resortpay-api"

	verifySweepLimit         = 100
	rateLimitCleanupInterval = time.Minute
	notificationSendTimeout  = 10 * time.Second
	healthCheckTimeout       = 2 * time.Second
)

// stores groups the repositories the service reads and writes.
type stores struct {
	payments   payment.Repository
	events     webhook.Repository
	notifyLogs notify.LogRepository
	audit      audit.Repository
}

// deps are the externally constructed resources handed to buildApp.
// DB, Redis and Archiver may be nil.
type deps struct {
	Config   *config.Config
	Stores   stores
	Gateway  gateway.Client
	DB       *sql.DB
	Redis    redis.UniversalClient
	Archiver idempotency.Archiver
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// app is the assembled service: the HTTP handler plus the background work
// that runs beside it.
type app struct {
	handler    http.Handler
	dispatcher *notify.Dispatcher
	verifier   *reconcile.VerificationService
	pruner     *idempotency.Pruner
	anonymizer *audit.AnonymizationJob
	memLimits  *middleware.InMemoryRateLimitStore
	jobMetrics *jobs.Metrics
	cfg        *config.Config
}

func buildApp(d deps) (*app, error) {
	cfg := d.Config
	reg := d.Registry

	httpMetrics := middleware.NewMetrics()
	webhookMetrics := webhook.NewMetrics()
	reconcileMetrics := reconcile.NewMetrics()
	notifyMetrics := notify.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for name, register := range map[string]func(prometheus.Registerer) error{
		"http":      httpMetrics.Register,
		"webhook":   webhookMetrics.Register,
		"reconcile": reconcileMetrics.Register,
		"notify":    notifyMetrics.Register,
		"jobs":      jobMetrics.Register,
	} {
		if err := register(reg); err != nil {
			return nil, fmt.Errorf("register %s metrics: %w", name, err)
		}
	}

	allow, err := webhook.ParseAllowList(cfg.WebhookAllowList)
	if err != nil {
		return nil, fmt.Errorf("webhook allow list: %w", err)
	}
	trustedProxies, err := webhook.ParseAllowList(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	verifierOpts := []webhook.VerifierOption{
		webhook.WithTolerance(cfg.WebhookTolerance),
		webhook.WithAllowList(allow),
	}
	if cfg.WebhookSignedTimestamp {
		verifierOpts = append(verifierOpts, webhook.WithSignedTimestamp())
	}
	verifier := webhook.NewVerifier(cfg.WebhookSecret, verifierOpts...)
	sources := []webhook.Source{webhook.NewHMACSource(gateway.ProviderOmise, verifier)}
	if cfg.StripeWebhookSecret != "" {
		sources = append(sources, webhook.NewStripeSource(cfg.StripeWebhookSecret, cfg.WebhookTolerance, allow))
	}

	hub := notify.NewHub(notifyMetrics)
	channels := []notify.Channel{hub}
	if cfg.SMTPHost != "" {
		channels = append(channels, notify.NewEmailChannel(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Sender:   cfg.SMTPSender,
		}))
	}
	if cfg.TelegramBotToken != "" {
		channels = append(channels, notify.NewTelegramChannel(cfg.TelegramBotToken, cfg.TelegramChatID, ""))
	}
	dispatcher := notify.NewDispatcher(d.Stores.notifyLogs, channels,
		notify.WithWorkers(cfg.NotifyWorkers),
		notify.WithQueueSize(cfg.NotifyQueueSize),
		notify.WithSendTimeout(notificationSendTimeout),
		notify.WithMetrics(notifyMetrics),
	)

	engineOpts := []reconcile.Option{reconcile.WithNotifier(dispatcher)}
	if cfg.ReconcileConfirmWithGateway {
		engineOpts = append(engineOpts, reconcile.WithGatewayConfirmation(d.Gateway))
	}
	engine := reconcile.NewEngine(d.Stores.payments, engineOpts...)
	verification := reconcile.NewVerificationService(d.Stores.payments, d.Gateway, reconcileMetrics)

	tokens := auth.NewJWTService(cfg.JWTSecret, auth.WithPreviousSecret(cfg.JWTPreviousSecret))

	var (
		limitStore middleware.RateLimitStore
		memLimits  *middleware.InMemoryRateLimitStore
		responses  middleware.ResponseCache
	)
	if d.Redis != nil {
		rs := middleware.NewRedisRateLimitStore(d.Redis)
		rs.SetMetrics(httpMetrics)
		limitStore = rs
		responses = middleware.NewRedisResponseCache(d.Redis)
	} else {
		memLimits = middleware.NewInMemoryRateLimitStore()
		limitStore = memLimits
		responses = middleware.NewInMemoryResponseCache()
	}

	healthCfg := api.HealthHandlersConfig{
		GatewayChecker: health.NewGatewayChecker(gatewayURL(cfg)),
		Timeout:        healthCheckTimeout,
	}
	if d.DB != nil {
		healthCfg.DBChecker = health.NewDBChecker(d.DB)
	}
	if d.Redis != nil {
		healthCfg.RedisChecker = health.NewRedisChecker(d.Redis)
	}

	router := api.NewRouter(api.RouterConfig{
		Webhooks: api.NewWebhookHandlers(api.WebhookHandlersConfig{
			Sources: sources,
			Store: idempotency.NewStore(d.Stores.events,
				idempotency.WithLease(cfg.WebhookProcessingLease)),
			Events:       d.Stores.events,
			Engine:       engine,
			Audit:        d.Stores.audit,
			Metrics:      webhookMetrics,
			InflightWait: cfg.WebhookInflightWait,
		}),
		Payments: api.NewPaymentHandlers(
			verification,
			audit.NewAssembler(d.Stores.payments, d.Stores.events, d.Stores.notifyLogs),
			d.Stores.audit,
		),
		Notifications:    api.NewNotificationHandlers(hub, d.Stores.audit, middleware.OriginChecker(cfg.CORSAllowedOrigins)),
		Health:           api.NewHealthHandlers(healthCfg),
		Metrics:          promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Tokens:           tokens,
		RateLimitStore:   limitStore,
		TrustedProxies:   trustedProxies,
		ReplayResponses:  responses,
		WebhookLimit:     perMinute(cfg.RateLimitWebhook),
		OperatorLimit:    perMinute(cfg.RateLimitOperator),
		RateLimitMetrics: httpMetrics,
	})

	// RequestID -> Logging -> Tracing -> HTTPMetrics -> CORS -> pprof -> routes
	handler := middleware.RequestID(
		middleware.Logging(d.Logger)(
			middleware.Tracing(serviceName)(
				middleware.HTTPMetrics(httpMetrics)(
					middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins))(
						middleware.Profiling(cfg.ProfilingEnabled, cfg.Env)(router),
					),
				),
			),
		),
	)

	return &app{
		handler:    handler,
		dispatcher: dispatcher,
		verifier:   verification,
		pruner:     idempotency.NewPruner(d.Stores.events, d.Archiver, cfg.WebhookRetention(), jobMetrics),
		anonymizer: audit.NewAnonymizationJob(d.Stores.audit, jobMetrics),
		memLimits:  memLimits,
		jobMetrics: jobMetrics,
		cfg:        cfg,
	}, nil
}

// start launches the notification workers and periodic jobs. The jobs stop
// when stop is closed; the dispatcher is drained separately with shutdown.
func (a *app) start(stop <-chan struct{}) {
	a.dispatcher.Start()

	if a.memLimits != nil {
		go a.memLimits.RunPeriodicCleanup(rateLimitCleanupInterval, stop)
	}
	if a.cfg.WebhookCleanupInterval > 0 {
		go idempotency.RunPeriodicCleanup(a.pruner, a.cfg.WebhookCleanupInterval, stop)
	}
	if a.cfg.AuditAnonymizeInterval > 0 {
		go audit.RunPeriodicAnonymization(a.anonymizer, a.cfg.AuditAnonymizeInterval, stop)
	}
	if a.cfg.VerifySweepInterval > 0 {
		go reconcile.RunPeriodicSweep(a.verifier, a.cfg.VerifySweepInterval, a.cfg.VerifySweepLookback,
			verifySweepLimit, a.jobMetrics, stop)
	}
}

// shutdown drains queued notifications.
func (a *app) shutdown(ctx context.Context) error {
	return a.dispatcher.Close(ctx)
}

// registerRuntimeCollectors adds the process and Go runtime collectors.
func registerRuntimeCollectors(reg *prometheus.Registry) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func perMinute(n int) middleware.RateLimitConfig {
	return middleware.RateLimitConfig{RequestsPerWindow: n, WindowDuration: time.Minute}
}

func gatewayURL(cfg *config.Config) string {
	if cfg.GatewayBaseURL != "" {
		return cfg.GatewayBaseURL
	}
	if cfg.GatewayProvider == gateway.ProviderStripe {
		return "https://api.stripe.com"
	}
	return gateway.DefaultOmiseBaseURL
}
