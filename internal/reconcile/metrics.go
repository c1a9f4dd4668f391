package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricVerificationsTotal counts verification checks by result.
const MetricVerificationsTotal = "payment_verifications_total"

const (
	resultConsistent  = "consistent"
	resultDiscrepancy = "discrepancy"
	resultError       = "error"
)

// Metrics contains Prometheus metrics for payment verification.
type Metrics struct {
	verifications *prometheus.CounterVec
}

// NewMetrics creates verification metrics. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricVerificationsTotal,
				Help: "Total number of payment verification checks by result",
			},
			[]string{"result"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m.verifications)
}

// IncVerification counts one verification result.
func (m *Metrics) IncVerification(result string) {
	m.verifications.WithLabelValues(result).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.verifications}
}
