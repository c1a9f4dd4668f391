// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/resortpay/internal/validate"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL    string `koanf:"database_url"`
	MigrateOnStart bool   `koanf:"migrate_on_start"`
	MigrationsURL  string `koanf:"migrations_url"`

	// Operator authentication
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Webhook ingestion
	WebhookSecret          string        `koanf:"webhook_secret"`
	StripeWebhookSecret    string        `koanf:"stripe_webhook_secret"` // optional; enables /webhooks/stripe
	WebhookTolerance       time.Duration `koanf:"webhook_tolerance"`
	WebhookAllowList       []string      `koanf:"webhook_allow_list"`
	WebhookSignedTimestamp bool          `koanf:"webhook_signed_timestamp"` // sign "<timestamp>.<body>" and require the header
	WebhookProcessingLease time.Duration `koanf:"webhook_processing_lease"`
	WebhookInflightWait    time.Duration `koanf:"webhook_inflight_wait"`
	WebhookRetentionDays   int           `koanf:"webhook_retention_days"`
	WebhookCleanupInterval time.Duration `koanf:"webhook_cleanup_interval"`

	// Payment gateway
	GatewayProvider             string `koanf:"gateway_provider"`
	GatewaySecretKey            string `koanf:"gateway_secret_key"`
	GatewayBaseURL              string `koanf:"gateway_base_url"`
	ReconcileConfirmWithGateway bool   `koanf:"reconcile_confirm_with_gateway"`

	// Verification sweep (0 disables)
	VerifySweepInterval time.Duration `koanf:"verify_sweep_interval"`
	VerifySweepLookback time.Duration `koanf:"verify_sweep_lookback"`

	// Rate limiting (requests per minute); REDIS_URL selects the shared store
	RedisURL          string   `koanf:"redis_url"`
	TrustedProxies    []string `koanf:"trusted_proxies"` // peers whose X-Forwarded-For is believed
	RateLimitWebhook  int      `koanf:"rate_limit_webhook"`
	RateLimitOperator int      `koanf:"rate_limit_operator"`

	// Notifications
	NotifyWorkers    int    `koanf:"notify_workers"`
	NotifyQueueSize  int    `koanf:"notify_queue_size"`
	SMTPHost         string `koanf:"smtp_host"`
	SMTPPort         string `koanf:"smtp_port"`
	SMTPUsername     string `koanf:"smtp_username"`
	SMTPPassword     string `koanf:"smtp_password"`
	SMTPSender       string `koanf:"smtp_sender"`
	TelegramBotToken string `koanf:"telegram_bot_token"`
	TelegramChatID   string `koanf:"telegram_chat_id"`

	// Webhook archive (S3-compatible, optional)
	ArchiveBucket          string `koanf:"archive_bucket"`
	ArchivePrefix          string `koanf:"archive_prefix"`
	ArchiveEndpoint        string `koanf:"archive_endpoint"`
	ArchiveRegion          string `koanf:"archive_region"`
	ArchiveAccessKeyID     string `koanf:"archive_access_key_id"`
	ArchiveSecretAccessKey string `koanf:"archive_secret_access_key"`

	// Audit log address retention job
	AuditAnonymizeInterval time.Duration `koanf:"audit_anonymize_interval"`

	// Operator dashboard origins (CORS and WebSocket)
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// pprof under /debug/pprof/; refused in production
	ProfilingEnabled bool `koanf:"profiling_enabled"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporter     string  `koanf:"tracing_exporter"`
	TracingEndpoint     string  `koanf:"tracing_endpoint"`
	TracingSampleRate   float64 `koanf:"tracing_sample_rate"`
	TracingInsecureMode bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL          = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret            = errors.New("JWT_SECRET is required")
	ErrMissingWebhookSecret        = errors.New("WEBHOOK_SECRET is required")
	ErrMissingGatewaySecretKey     = errors.New("GATEWAY_SECRET_KEY is required")
	ErrInvalidGatewayProvider      = errors.New("GATEWAY_PROVIDER must be omise or stripe")
	ErrMissingStripeWebhookSecret  = errors.New("STRIPE_WEBHOOK_SECRET is required when GATEWAY_PROVIDER=stripe")
	ErrMissingArchiveBucket        = errors.New("ARCHIVE_BUCKET is required")
	ErrMissingArchiveAccessKeyID   = errors.New("ARCHIVE_ACCESS_KEY_ID is required")
	ErrMissingArchiveSecretKey     = errors.New("ARCHIVE_SECRET_ACCESS_KEY is required")
	ErrIncompleteTelegram          = errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	ErrInvalidRetention            = errors.New("WEBHOOK_RETENTION_DAYS must be at least 1")
	ErrInvalidRateLimit            = errors.New("rate limits must be greater than zero")
	ErrInvalidNotifyPool           = errors.New("NOTIFY_WORKERS and NOTIFY_QUEUE_SIZE must be greater than zero")
	ErrInvalidTracingSampleRate    = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidDuration             = errors.New("durations must not be negative")
	ErrInvalidPort                 = errors.New("PORT must be a valid integer")
	ErrInvalidNumber               = errors.New("value must be a valid number")
	ErrInvalidBool                 = errors.New("value must be a boolean")
	ErrProfilingInProduction       = errors.New("PROFILING_ENABLED is not allowed in production")
)

// Default values for non-secret configuration.
const (
	DefaultPort                   = 8080
	DefaultEnv                    = "development"
	DefaultMigrationsURL          = "file://migrations"
	DefaultGatewayProvider        = "omise"
	DefaultWebhookTolerance       = 5 * time.Minute
	DefaultWebhookProcessingLease = 2 * time.Minute
	DefaultWebhookInflightWait    = 5 * time.Second
	DefaultWebhookRetentionDays   = 400
	DefaultWebhookCleanupInterval = 24 * time.Hour
	DefaultVerifySweepInterval    = 0
	DefaultVerifySweepLookback    = 24 * time.Hour
	DefaultRateLimitWebhook       = 300
	DefaultRateLimitOperator      = 60
	DefaultNotifyWorkers          = 4
	DefaultNotifyQueueSize        = 256
	DefaultArchivePrefix          = "webhook-events"
	DefaultAuditAnonymizeInterval = 24 * time.Hour
	DefaultTracingExporter        = "otlp-http"
	DefaultTracingSampleRate      = 0.1
)

// loader reads values with env > file > default precedence and collects parse errors.
type loader struct {
	k    *koanf.Koanf
	errs []error
}

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	l := &loader{k: k}

	port, portErr := getEnvIntOrDefaultMulti([]string{"RESORTPAY_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		l.errs = append(l.errs, portErr)
	}

	cfg := &Config{
		Port:           port,
		Env:            getEnvOrDefaultMulti([]string{"RESORTPAY_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:    getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		MigrateOnStart: l.boolean("MIGRATE_ON_START", "migrate_on_start", false),
		MigrationsURL:  getEnvOrDefault("MIGRATIONS_URL", k.String("migrations_url"), DefaultMigrationsURL),

		JWTSecret:         getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret: getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),

		WebhookSecret:          getEnvOrKoanf("WEBHOOK_SECRET", k, "webhook_secret"),
		StripeWebhookSecret:    getEnvOrKoanf("STRIPE_WEBHOOK_SECRET", k, "stripe_webhook_secret"),
		WebhookTolerance:       l.duration("WEBHOOK_TOLERANCE", "webhook_tolerance", DefaultWebhookTolerance),
		WebhookAllowList:       getEnvListOrKoanf("WEBHOOK_ALLOW_LIST", k, "webhook_allow_list"),
		WebhookSignedTimestamp: l.boolean("WEBHOOK_SIGNED_TIMESTAMP", "webhook_signed_timestamp", false),
		WebhookProcessingLease: l.duration("WEBHOOK_PROCESSING_LEASE", "webhook_processing_lease", DefaultWebhookProcessingLease),
		WebhookInflightWait:    l.duration("WEBHOOK_INFLIGHT_WAIT", "webhook_inflight_wait", DefaultWebhookInflightWait),
		WebhookRetentionDays:   l.integer("WEBHOOK_RETENTION_DAYS", "webhook_retention_days", DefaultWebhookRetentionDays),
		WebhookCleanupInterval: l.duration("WEBHOOK_CLEANUP_INTERVAL", "webhook_cleanup_interval", DefaultWebhookCleanupInterval),

		GatewayProvider:             strings.ToLower(getEnvOrDefault("GATEWAY_PROVIDER", k.String("gateway_provider"), DefaultGatewayProvider)),
		GatewaySecretKey:            getEnvOrKoanf("GATEWAY_SECRET_KEY", k, "gateway_secret_key"),
		GatewayBaseURL:              getEnvOrKoanf("GATEWAY_BASE_URL", k, "gateway_base_url"),
		ReconcileConfirmWithGateway: l.boolean("RECONCILE_CONFIRM_WITH_GATEWAY", "reconcile_confirm_with_gateway", false),

		VerifySweepInterval: l.duration("VERIFY_SWEEP_INTERVAL", "verify_sweep_interval", DefaultVerifySweepInterval),
		VerifySweepLookback: l.duration("VERIFY_SWEEP_LOOKBACK", "verify_sweep_lookback", DefaultVerifySweepLookback),

		RedisURL:          getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		TrustedProxies:    getEnvListOrKoanf("TRUSTED_PROXIES", k, "trusted_proxies"),
		RateLimitWebhook:  l.integer("RATE_LIMIT_WEBHOOK", "rate_limit_webhook", DefaultRateLimitWebhook),
		RateLimitOperator: l.integer("RATE_LIMIT_OPERATOR", "rate_limit_operator", DefaultRateLimitOperator),

		NotifyWorkers:    l.integer("NOTIFY_WORKERS", "notify_workers", DefaultNotifyWorkers),
		NotifyQueueSize:  l.integer("NOTIFY_QUEUE_SIZE", "notify_queue_size", DefaultNotifyQueueSize),
		SMTPHost:         getEnvOrKoanf("SMTP_HOST", k, "smtp_host"),
		SMTPPort:         getEnvOrKoanf("SMTP_PORT", k, "smtp_port"),
		SMTPUsername:     getEnvOrKoanf("SMTP_USERNAME", k, "smtp_username"),
		SMTPPassword:     getEnvOrKoanf("SMTP_PASSWORD", k, "smtp_password"),
		SMTPSender:       getEnvOrKoanf("SMTP_SENDER", k, "smtp_sender"),
		TelegramBotToken: getEnvOrKoanf("TELEGRAM_BOT_TOKEN", k, "telegram_bot_token"),
		TelegramChatID:   getEnvOrKoanf("TELEGRAM_CHAT_ID", k, "telegram_chat_id"),

		ArchiveBucket:          getEnvOrKoanf("ARCHIVE_BUCKET", k, "archive_bucket"),
		ArchivePrefix:          getEnvOrDefault("ARCHIVE_PREFIX", k.String("archive_prefix"), DefaultArchivePrefix),
		ArchiveEndpoint:        getEnvOrKoanf("ARCHIVE_ENDPOINT", k, "archive_endpoint"),
		ArchiveRegion:          getEnvOrKoanf("ARCHIVE_REGION", k, "archive_region"),
		ArchiveAccessKeyID:     getEnvOrKoanf("ARCHIVE_ACCESS_KEY_ID", k, "archive_access_key_id"),
		ArchiveSecretAccessKey: getEnvOrKoanf("ARCHIVE_SECRET_ACCESS_KEY", k, "archive_secret_access_key"),

		AuditAnonymizeInterval: l.duration("AUDIT_ANONYMIZE_INTERVAL", "audit_anonymize_interval", DefaultAuditAnonymizeInterval),

		CORSAllowedOrigins: getEnvListOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),

		ProfilingEnabled: l.boolean("PROFILING_ENABLED", "profiling_enabled", false),

		TracingEnabled:      l.boolean("TRACING_ENABLED", "tracing_enabled", false),
		TracingExporter:     getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingEndpoint:     getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingSampleRate:   l.float("TRACING_SAMPLE_RATE", "tracing_sample_rate", DefaultTracingSampleRate),
		TracingInsecureMode: l.boolean("TRACING_INSECURE", "tracing_insecure", false),
	}

	errs := cfg.Validate()
	errs = append(l.errs, errs...)

	return cfg, errs
}

func (l *loader) duration(envKey, koanfKey string, defaultVal time.Duration) time.Duration {
	raw := os.Getenv(envKey)
	if raw == "" {
		raw = l.k.String(koanfKey)
	}
	if raw == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s must be a duration such as 30s or 5m: %w", envKey, err))
		return defaultVal
	}
	return d
}

func (l *loader) integer(envKey, koanfKey string, defaultVal int) int {
	i, err := getEnvIntOrDefault(envKey, l.k.Int(koanfKey), defaultVal)
	if err != nil {
		l.errs = append(l.errs, err)
		return defaultVal
	}
	return i
}

func (l *loader) float(envKey, koanfKey string, defaultVal float64) float64 {
	f, err := getEnvFloatOrDefault(envKey, l.k.Float64(koanfKey), defaultVal)
	if err != nil {
		l.errs = append(l.errs, err)
		return defaultVal
	}
	return f
}

func (l *loader) boolean(envKey, koanfKey string, defaultVal bool) bool {
	val := defaultVal
	if l.k.Exists(koanfKey) {
		val = l.k.Bool(koanfKey)
	}
	raw := os.Getenv(envKey)
	if raw == "" {
		return val
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		l.errs = append(l.errs, fmt.Errorf("%s: %w", envKey, ErrInvalidBool))
		return val
	}
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvListOrKoanf reads a comma-separated env var, falling back to a YAML list.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	var items []string
	if val := os.Getenv(envKey); val != "" {
		items = strings.Split(val, ",")
	} else {
		items = k.Strings(koanfKey)
	}
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// A zero from the YAML file falls back to the default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidNumber)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, ErrInvalidNumber)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.WebhookSecret == "" {
		errs = append(errs, ErrMissingWebhookSecret)
	}
	if c.GatewaySecretKey == "" {
		errs = append(errs, ErrMissingGatewaySecretKey)
	}
	switch c.GatewayProvider {
	case "omise":
	case "stripe":
		if c.StripeWebhookSecret == "" {
			errs = append(errs, ErrMissingStripeWebhookSecret)
		}
	default:
		errs = append(errs, ErrInvalidGatewayProvider)
	}

	if c.WebhookRetentionDays < 1 {
		errs = append(errs, ErrInvalidRetention)
	}
	if c.RateLimitWebhook <= 0 || c.RateLimitOperator <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}
	if c.NotifyWorkers <= 0 || c.NotifyQueueSize <= 0 {
		errs = append(errs, ErrInvalidNotifyPool)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidTracingSampleRate)
	}
	for _, d := range []time.Duration{
		c.WebhookTolerance, c.WebhookProcessingLease, c.WebhookInflightWait,
		c.WebhookCleanupInterval, c.VerifySweepInterval, c.VerifySweepLookback,
		c.AuditAnonymizeInterval,
	} {
		if d < 0 {
			errs = append(errs, ErrInvalidDuration)
			break
		}
	}

	if c.GatewayBaseURL != "" {
		constraints := validate.ServiceEndpoint
		if c.Env == "production" {
			constraints = validate.PublicEndpoint
		}
		if _, err := validate.URL(c.GatewayBaseURL, constraints); err != nil {
			errs = append(errs, fmt.Errorf("GATEWAY_BASE_URL: %w", err))
		}
	}
	if c.ArchiveEndpoint != "" {
		if _, err := validate.URL(c.ArchiveEndpoint, validate.ServiceEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("ARCHIVE_ENDPOINT: %w", err))
		}
	}

	if c.ProfilingEnabled && c.Env == "production" {
		errs = append(errs, ErrProfilingInProduction)
	}

	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, ErrIncompleteTelegram)
	}

	// The archive is optional. Only validate fields if any credential or bucket is set.
	if c.ArchiveEnabled() || c.ArchiveAccessKeyID != "" || c.ArchiveSecretAccessKey != "" {
		if c.ArchiveBucket == "" {
			errs = append(errs, ErrMissingArchiveBucket)
		}
		if c.ArchiveAccessKeyID == "" {
			errs = append(errs, ErrMissingArchiveAccessKeyID)
		}
		if c.ArchiveSecretAccessKey == "" {
			errs = append(errs, ErrMissingArchiveSecretKey)
		}
	}

	return errs
}

// ArchiveEnabled reports whether pruned webhook events are archived.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveBucket != ""
}

// WebhookRetention returns the retention window as a duration.
func (c *Config) WebhookRetention() time.Duration {
	return time.Duration(c.WebhookRetentionDays) * 24 * time.Hour
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                           strconv.Itoa(c.Port),
		"env":                            c.Env,
		"database_url":                   maskDatabaseURL(c.DatabaseURL),
		"migrate_on_start":               strconv.FormatBool(c.MigrateOnStart),
		"jwt_secret":                     maskSecret(c.JWTSecret),
		"jwt_previous_secret":            maskSecret(c.JWTPreviousSecret),
		"webhook_secret":                 maskSecret(c.WebhookSecret),
		"stripe_webhook_secret":          maskSecret(c.StripeWebhookSecret),
		"webhook_tolerance":              c.WebhookTolerance.String(),
		"webhook_allow_list":             strings.Join(c.WebhookAllowList, ","),
		"webhook_signed_timestamp":       strconv.FormatBool(c.WebhookSignedTimestamp),
		"webhook_processing_lease":       c.WebhookProcessingLease.String(),
		"webhook_inflight_wait":          c.WebhookInflightWait.String(),
		"webhook_retention_days":         strconv.Itoa(c.WebhookRetentionDays),
		"gateway_provider":               c.GatewayProvider,
		"gateway_secret_key":             maskGatewayKey(c.GatewaySecretKey),
		"gateway_base_url":               c.GatewayBaseURL,
		"reconcile_confirm_with_gateway": strconv.FormatBool(c.ReconcileConfirmWithGateway),
		"verify_sweep_interval":          c.VerifySweepInterval.String(),
		"redis_url":                      maskDatabaseURL(c.RedisURL),
		"trusted_proxies":                strings.Join(c.TrustedProxies, ","),
		"profiling_enabled":              strconv.FormatBool(c.ProfilingEnabled),
		"rate_limit_webhook":             strconv.Itoa(c.RateLimitWebhook),
		"rate_limit_operator":            strconv.Itoa(c.RateLimitOperator),
		"notify_workers":                 strconv.Itoa(c.NotifyWorkers),
		"smtp_host":                      c.SMTPHost,
		"smtp_password":                  maskSecret(c.SMTPPassword),
		"telegram_bot_token":             maskSecret(c.TelegramBotToken),
		"archive_bucket":                 c.ArchiveBucket,
		"archive_endpoint":               c.ArchiveEndpoint,
		"archive_access_key_id":          maskSecret(c.ArchiveAccessKeyID),
		"archive_secret_access_key":      maskSecret(c.ArchiveSecretAccessKey),
		"cors_allowed_origins":           strings.Join(c.CORSAllowedOrigins, ","),
		"tracing_enabled":                strconv.FormatBool(c.TracingEnabled),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskGatewayKey masks a gateway secret key, preserving the prefix
// (skey_test_, sk_live_, etc.).
func maskGatewayKey(s string) string {
	if s == "" {
		return "<not set>"
	}

	parts := strings.SplitN(s, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + parts[1] + "_****"
	}

	return maskSecret(s)
}

// maskDatabaseURL masks the password in a connection URL (postgres://, redis://).
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
