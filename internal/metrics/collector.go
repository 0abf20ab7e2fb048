// Package metrics exposes pipeline and streaming counters to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups every metric the service records. A nil *Collector is a no-op.
type Collector struct {
	registry *prometheus.Registry

	jobsTotal        *prometheus.CounterVec
	entityResults    *prometheus.CounterVec
	externalCalls    *prometheus.CounterVec
	externalDuration *prometheus.HistogramVec
	externalInFlight *prometheus.GaugeVec
	envelopesTotal   *prometheus.CounterVec
	channelsActive   prometheus.Gauge
	channelsDropped  *prometheus.CounterVec
}

// NewCollector registers all metrics on a fresh registry under namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs reaching a status, by status",
		}, []string{"status"}),
		entityResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_results_total",
			Help:      "Entity worker outcomes, by entity status",
		}, []string{"status"}),
		externalCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_calls_total",
			Help:      "Calls to external collaborators, by collaborator and outcome",
		}, []string{"collaborator", "outcome"}),
		externalDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_duration_seconds",
			Help:      "Latency of external collaborator calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"collaborator"}),
		externalInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "external_calls_in_flight",
			Help:      "Outstanding external collaborator calls",
		}, []string{"collaborator"}),
		envelopesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_envelopes_total",
			Help:      "Envelopes published, by type",
		}, []string{"type"}),
		channelsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_channels_active",
			Help:      "Currently attached client channels",
		}),
		channelsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_channels_dropped_total",
			Help:      "Channels detached by the dispatcher, by reason",
		}, []string{"reason"}),
	}
}

// Registry exposes the underlying registry for gathering in tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// JobStatus counts a job entering status.
func (c *Collector) JobStatus(status string) {
	if c == nil {
		return
	}
	c.jobsTotal.WithLabelValues(status).Inc()
}

// EntityResult counts a finished entity worker.
func (c *Collector) EntityResult(status string) {
	if c == nil {
		return
	}
	c.entityResults.WithLabelValues(status).Inc()
}

// CallStarted marks an external call in flight and returns the func that ends it.
func (c *Collector) CallStarted(collaborator string) func(outcome string) {
	if c == nil {
		return func(string) {}
	}
	start := time.Now()
	c.externalInFlight.WithLabelValues(collaborator).Inc()
	return func(outcome string) {
		c.externalInFlight.WithLabelValues(collaborator).Dec()
		c.externalDuration.WithLabelValues(collaborator).Observe(time.Since(start).Seconds())
		c.externalCalls.WithLabelValues(collaborator, outcome).Inc()
	}
}

// Envelope counts a published envelope.
func (c *Collector) Envelope(envType string) {
	if c == nil {
		return
	}
	c.envelopesTotal.WithLabelValues(envType).Inc()
}

// ChannelAttached bumps the active channel gauge.
func (c *Collector) ChannelAttached() {
	if c == nil {
		return
	}
	c.channelsActive.Inc()
}

// ChannelDetached lowers the active gauge and records why.
func (c *Collector) ChannelDetached(reason string) {
	if c == nil {
		return
	}
	c.channelsActive.Dec()
	c.channelsDropped.WithLabelValues(reason).Inc()
}
