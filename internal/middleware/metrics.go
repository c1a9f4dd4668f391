package middleware

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRateLimitRequests     = "rate_limit_requests_total"
	MetricRateLimitBlocked      = "rate_limit_blocked_total"
	MetricRateLimitRedisErrors  = "rate_limit_redis_errors_total"
	MetricHTTPRequestDuration   = "http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestSizeBytes  = "http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "http_response_size_bytes"
)

var (
	rateLimitLabels = []string{"endpoint", "key_type"}
	httpLabels      = []string{"method", "path", "status"}

	// Webhook bodies are small; the top bucket covers an archived export.
	sizeBuckets = prometheus.ExponentialBuckets(128, 4, 8)
)

// Metrics holds the collectors of the HTTP chain and the rate limiter.
type Metrics struct {
	rateLimitChecks   *prometheus.CounterVec
	rateLimitBlocked  *prometheus.CounterVec
	rateLimitFailOpen prometheus.Counter

	requestDuration *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	requestSize     *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		rateLimitChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimitRequests,
			Help: "Requests checked against a rate limit, by route and key type",
		}, rateLimitLabels),
		rateLimitBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimitBlocked,
			Help: "Requests rejected with 429, by route and key type",
		}, rateLimitLabels),
		rateLimitFailOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRateLimitRedisErrors,
			Help: "Rate limit checks allowed because Redis was unavailable",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestDuration,
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 10},
		}, httpLabels),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequestsTotal,
			Help: "HTTP requests served",
		}, httpLabels),
		requestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPRequestSizeBytes,
			Help:    "Declared HTTP request body size in bytes",
			Buckets: sizeBuckets,
		}, httpLabels),
		responseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPResponseSizeBytes,
			Help:    "HTTP response body size in bytes",
			Buckets: sizeBuckets,
		}, httpLabels),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rateLimitChecks,
		m.rateLimitBlocked,
		m.rateLimitFailOpen,
		m.requestDuration,
		m.requests,
		m.requestSize,
		m.responseSize,
	}
}

// ObserveRateLimit counts one limiter decision.
func (m *Metrics) ObserveRateLimit(endpoint, keyType string, blocked bool) {
	m.rateLimitChecks.WithLabelValues(endpoint, keyType).Inc()
	if blocked {
		m.rateLimitBlocked.WithLabelValues(endpoint, keyType).Inc()
	}
}

// IncRateLimitRedisErrors counts a check that failed open.
func (m *Metrics) IncRateLimitRedisErrors() {
	m.rateLimitFailOpen.Inc()
}

// ObserveHTTPRequest records one served request. A negative requestSize
// (unknown Content-Length) is recorded as zero.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, elapsed time.Duration, requestSize, responseSize int64) {
	labels := []string{method, path, strconv.Itoa(status)}
	m.requestDuration.WithLabelValues(labels...).Observe(elapsed.Seconds())
	m.requests.WithLabelValues(labels...).Inc()
	m.requestSize.WithLabelValues(labels...).Observe(float64(max(requestSize, 0)))
	m.responseSize.WithLabelValues(labels...).Observe(float64(responseSize))
}
