package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricEventsTotal        = "webhook_events_total"
	MetricProcessingDuration = "webhook_processing_duration_seconds"
	MetricDuplicatesTotal    = "webhook_duplicates_total"
	MetricRejectedTotal      = "webhook_rejected_total"
)

// Outcome labels for MetricEventsTotal.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeTransient = "transient"
	OutcomeReplayed  = "replayed"
	OutcomeInFlight  = "in_flight"
)

// Metrics contains Prometheus metrics for webhook ingestion.
// All operations are thread-safe.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	duplicates  *prometheus.CounterVec
	rejected    *prometheus.CounterVec
}

// NewMetrics creates webhook metrics. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsTotal,
				Help: "Total number of webhook deliveries by provider, event type and outcome",
			},
			[]string{"provider", "event_type", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricProcessingDuration,
				Help:    "Histogram of webhook reconciliation duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"provider", "event_type"},
		),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDuplicatesTotal,
				Help: "Total number of redelivered webhook events short-circuited by idempotency",
			},
			[]string{"provider"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRejectedTotal,
				Help: "Total number of webhook deliveries rejected before processing by reason",
			},
			[]string{"provider", "reason"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveOutcome records one delivery outcome.
func (m *Metrics) ObserveOutcome(provider, eventType, outcome string) {
	m.eventsTotal.WithLabelValues(provider, eventType, outcome).Inc()
}

// ObserveDuration records reconciliation time.
func (m *Metrics) ObserveDuration(provider, eventType string, seconds float64) {
	m.duration.WithLabelValues(provider, eventType).Observe(seconds)
}

// IncDuplicate counts a redelivery answered from the stored outcome.
func (m *Metrics) IncDuplicate(provider string) {
	m.duplicates.WithLabelValues(provider).Inc()
}

// IncRejected counts a delivery rejected for authentication or validation.
func (m *Metrics) IncRejected(provider, reason string) {
	m.rejected.WithLabelValues(provider, reason).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.eventsTotal,
		m.duration,
		m.duplicates,
		m.rejected,
	}
}
