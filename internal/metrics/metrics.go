// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the gateway's Prometheus metrics. All methods are safe for
// concurrent use.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	keyValidations *prometheus.CounterVec

	upstreamLatency *prometheus.HistogramVec
	upstreamErrors  *prometheus.CounterVec
}

// NewCollector creates and registers the gateway metrics on a private
// registry, so tests can create collectors freely without duplicate
// registration panics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metergate_http_requests_total",
			Help: "HTTP requests handled, by route and status code.",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metergate_http_request_duration_seconds",
			Help:    "HTTP request latency, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		keyValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metergate_key_validations_total",
			Help: "Access key validation attempts, by outcome.",
		}, []string{"outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metergate_upstream_latency_seconds",
			Help:    "Upstream provider call latency, by provider.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metergate_upstream_errors_total",
			Help: "Failed upstream provider calls, by provider.",
		}, []string{"provider"}),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.keyValidations,
		c.upstreamLatency,
		c.upstreamErrors,
	)

	return c
}

// Handler returns the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts one handled HTTP request.
func (c *Collector) RecordRequest(route, status string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(route, status).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordKeyValidation counts one access key validation attempt. Outcome is
// "accepted" or "rejected".
func (c *Collector) RecordKeyValidation(accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	c.keyValidations.WithLabelValues(outcome).Inc()
}

// RecordUpstreamLatency observes one upstream call's duration.
func (c *Collector) RecordUpstreamLatency(provider string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordUpstreamError counts one failed upstream call.
func (c *Collector) RecordUpstreamError(provider string) {
	c.upstreamErrors.WithLabelValues(provider).Inc()
}
