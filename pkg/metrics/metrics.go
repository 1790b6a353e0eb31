// Package metrics exposes Prometheus collectors for browser session lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "driverpool"
	subsystem = "session"
)

// Metrics groups the session lifecycle collectors. A Metrics value works
// without being registered; Register exposes it on a registry.
type Metrics struct {
	Created        prometheus.Counter
	Closed         prometheus.Counter
	Reclaimed      prometheus.Counter
	Reopened       prometheus.Counter
	HealthFailures prometheus.Counter
	CloseTimeouts  prometheus.Counter
	Live           prometheus.Gauge
	CloseDuration  prometheus.Histogram
}

// New creates a fresh set of collectors.
func New() *Metrics {
	return &Metrics{
		Created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "created_total",
			Help:      "Browser sessions created by the registry",
		}),
		Closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "closed_total",
			Help:      "Browser sessions whose teardown finished within the timeout",
		}),
		Reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reclaimed_total",
			Help:      "Sessions closed because their worker terminated",
		}),
		Reopened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reopened_total",
			Help:      "Dead sessions replaced with a fresh one",
		}),
		HealthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "health_failures_total",
			Help:      "Health checks that found the browser dead",
		}),
		CloseTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "close_timeouts_total",
			Help:      "Teardowns abandoned after close_browser_timeout",
		}),
		Live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "live",
			Help:      "Sessions currently bound to a worker",
		}),
		CloseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "close_duration_seconds",
			Help:      "Time spent quitting a browser",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Created,
		m.Closed,
		m.Reclaimed,
		m.Reopened,
		m.HealthFailures,
		m.CloseTimeouts,
		m.Live,
		m.CloseDuration,
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveClose records a finished teardown.
func (m *Metrics) ObserveClose(d time.Duration) {
	m.Closed.Inc()
	m.CloseDuration.Observe(d.Seconds())
}
