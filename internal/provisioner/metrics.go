package provisioner

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of a Provisioner. A nil *Metrics
// records nothing.
type Metrics struct {
	outcomes  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	teardowns *prometheus.CounterVec
	inFlight  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clusterswarm",
				Subsystem: "provisioner",
				Name:      "outcomes_total",
				Help:      "Provisioning outcomes by provider and result",
			},
			[]string{"provider", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "clusterswarm",
				Subsystem: "provisioner",
				Name:      "provision_duration_seconds",
				Help:      "Time from submission to outcome in seconds",
				Buckets:   prometheus.ExponentialBuckets(30, 2, 8), // 30s to ~64min
			},
			[]string{"provider"},
		),
		teardowns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clusterswarm",
				Subsystem: "provisioner",
				Name:      "teardowns_total",
				Help:      "Teardown attempts by provider and result",
			},
			[]string{"provider", "result"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "clusterswarm",
				Subsystem: "provisioner",
				Name:      "in_flight",
				Help:      "Requests currently being provisioned",
			},
		),
	}
	reg.MustRegister(m.outcomes, m.duration, m.teardowns, m.inFlight)
	return m
}

func (m *Metrics) recordOutcome(provider, result string, seconds float64) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(provider, result).Inc()
	m.duration.WithLabelValues(provider).Observe(seconds)
}

func (m *Metrics) recordTeardown(provider, result string) {
	if m == nil {
		return
	}
	m.teardowns.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) started() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) finished() {
	if m != nil {
		m.inFlight.Dec()
	}
}
