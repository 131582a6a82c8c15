package activity

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricEntriesLogged = "activity_entries_logged_total"
	MetricDeliveries    = "activity_deliveries_total"
	MetricBufferErrors  = "activity_buffer_errors_total"
	MetricDeliveryTime  = "activity_delivery_duration_seconds"
)

// Delivery sinks and outcomes used as metric labels.
const (
	SinkDatastore = "datastore"
	SinkRelay     = "relay"
	SinkNone      = "none"

	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Metrics contains Prometheus metrics for the activity logger.
// All operations are thread-safe.
type Metrics struct {
	entriesLogged *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	bufferErrors  prometheus.Counter
	deliveryTime  prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		entriesLogged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEntriesLogged,
				Help: "Total number of activity entries logged by domain",
			},
			[]string{"domain"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDeliveries,
				Help: "Total number of activity delivery attempts by sink and outcome",
			},
			[]string{"sink", "outcome"},
		),
		bufferErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricBufferErrors,
			Help: "Total number of preview buffer read or write failures",
		}),
		deliveryTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricDeliveryTime,
			Help:    "Histogram of end-to-end activity delivery time in seconds",
			Buckets: prometheus.DefBuckets,
		}),
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

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.entriesLogged,
		m.deliveries,
		m.bufferErrors,
		m.deliveryTime,
	}
}

func (m *Metrics) incLogged(domain string) {
	if m == nil {
		return
	}
	m.entriesLogged.WithLabelValues(domain).Inc()
}

func (m *Metrics) incDelivery(sink, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(sink, outcome).Inc()
}

func (m *Metrics) incBufferErrors() {
	if m == nil {
		return
	}
	m.bufferErrors.Inc()
}

func (m *Metrics) observeDelivery(seconds float64) {
	if m == nil {
		return
	}
	m.deliveryTime.Observe(seconds)
}
