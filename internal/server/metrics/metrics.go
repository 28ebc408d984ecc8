// Package metrics collects and exposes Prometheus metrics for the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records per-request metrics for the API layer.
type Collector struct {
	requestsTotal  *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics with the given
// registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studenthub_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "studenthub_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(c.requestsTotal, c.requestLatency)
	return c
}

// RecordRequest counts one finished request.
func (c *Collector) RecordRequest(route string, statusCode int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	c.requestLatency.Observe(duration.Seconds())
}

// Handler returns the /metrics endpoint for the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
