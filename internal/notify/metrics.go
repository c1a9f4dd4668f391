package notify

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricDeliveriesTotal = "notification_deliveries_total"
	MetricQueueDepth      = "notification_queue_depth"
	MetricHubConnections  = "notification_ws_connections"
)

// Metrics contains Prometheus metrics for notification delivery.
// All operations are thread-safe.
type Metrics struct {
	deliveries     *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	hubConnections prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDeliveriesTotal,
				Help: "Total number of notification delivery attempts by channel and status",
			},
			[]string{"channel", "status"},
		),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricQueueDepth,
			Help: "Number of notifications waiting for a worker",
		}),
		hubConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricHubConnections,
			Help: "Number of connected notification WebSocket clients",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncDelivery counts a delivery attempt.
func (m *Metrics) IncDelivery(channel, status string) {
	m.deliveries.WithLabelValues(channel, status).Inc()
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// SetHubConnections records the number of WebSocket subscribers.
func (m *Metrics) SetHubConnections(n int) {
	m.hubConnections.Set(float64(n))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.deliveries,
		m.queueDepth,
		m.hubConnections,
	}
}
