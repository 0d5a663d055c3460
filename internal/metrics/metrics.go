// Package metrics exposes Prometheus metrics for the processing service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the processing service collectors. All metrics use the
// oracle_processing_ namespace.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	ActiveRuns   prometheus.Gauge
	HTTPRequests *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oracle",
			Subsystem: "processing",
			Name:      "runs_total",
			Help:      "Processing runs by phase and outcome.",
		}, []string{"phase", "outcome"}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "oracle",
			Subsystem: "processing",
			Name:      "run_duration_seconds",
			Help:      "Processing run duration in seconds by phase.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"phase"}),

		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oracle",
			Subsystem: "processing",
			Name:      "active_runs",
			Help:      "Number of processing runs in flight.",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oracle",
			Subsystem: "processing",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.ActiveRuns,
		m.HTTPRequests,
	)
	return m
}

// Observe records a finished run. outcome is a short label such as
// "success", "timeout", "validation" or "error".
func (m *Metrics) Observe(phase, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(phase, outcome).Inc()
	m.RunDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// Track marks a run as started and returns a func that marks it finished.
func (m *Metrics) Track() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveRuns.Inc()
	return m.ActiveRuns.Dec
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
