package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "eventhub"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	Producer = "producer"
	Lease    = "lease"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple producer instances.
type Labels struct {
	EventHub      string // Event Hub entity path (e.g., "telemetry")
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "azure", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.EventHub != "" {
		labels["event_hub"] = l.EventHub
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

type Metrics struct {
	// Send results
	sends         *prometheus.CounterVec // by status
	sendAttempts  prometheus.Histogram
	sendDuration  prometheus.Histogram
	producersOpen prometheus.Gauge

	// Recovery
	retries      *prometheus.CounterVec // by error kind
	remediations *prometheus.CounterVec // by action

	// Lease operations
	leaseOperations *prometheus.CounterVec // by action, status
	leaseDuration   *prometheus.HistogramVec
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
// For metrics with constant labels, use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Producer,
			Name:      "sends_total",
			Help:      "Total logical sends by final status",
		}, []string{"status"}),
		sendAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Producer,
			Name:      "send_attempts",
			Help:      "Transport attempts needed per logical send",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
		}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Producer,
			Name:      "send_duration_seconds",
			Help:      "Time from send call to final result, retries included",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		producersOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Producer,
			Name:      "open",
			Help:      "Number of producers created and not yet closed",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Producer,
			Name:      "retries_total",
			Help:      "Total retried send attempts by transport error kind",
		}, []string{"kind"}),
		remediations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Producer,
			Name:      "remediations_total",
			Help:      "Total recovery actions taken before a retry",
		}, []string{"action"}),
		leaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Lease,
			Name:      "operations_total",
			Help:      "Total lease operations by action and status",
		}, []string{"action", "status"}),
		leaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Lease,
			Name:      "operation_duration_seconds",
			Help:      "Lease operation duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"action"}),
	}

	err := errors.Join(
		reg.Register(m.sends),
		reg.Register(m.sendAttempts),
		reg.Register(m.sendDuration),
		reg.Register(m.producersOpen),
		reg.Register(m.retries),
		reg.Register(m.remediations),
		reg.Register(m.leaseOperations),
		reg.Register(m.leaseDuration),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordSend records the final result of a logical send.
func (m *Metrics) RecordSend(err error, attempts int, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.sends.WithLabelValues(status).Inc()
	m.sendAttempts.Observe(float64(attempts))
	m.sendDuration.Observe(durationSeconds)
}

// RecordSendRetry records a failed attempt that will be retried.
func (m *Metrics) RecordSendRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

// RecordRemediation records the recovery action taken before a retry.
func (m *Metrics) RecordRemediation(action string) {
	if m == nil {
		return
	}
	m.remediations.WithLabelValues(action).Inc()
}

// IncProducersOpen increments the open producers gauge.
func (m *Metrics) IncProducersOpen() {
	if m == nil {
		return
	}
	m.producersOpen.Inc()
}

// DecProducersOpen decrements the open producers gauge.
func (m *Metrics) DecProducersOpen() {
	if m == nil {
		return
	}
	m.producersOpen.Dec()
}

// RecordLeaseOperation records a lease operation with its result and duration.
func (m *Metrics) RecordLeaseOperation(action string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.leaseOperations.WithLabelValues(action, status).Inc()
	m.leaseDuration.WithLabelValues(action).Observe(durationSeconds)
}
