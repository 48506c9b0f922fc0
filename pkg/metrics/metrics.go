// Package metrics holds the prometheus collectors exported on /metrics
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pulse"

// Metrics is the service-wide collector set. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	Heartbeats       *prometheus.CounterVec
	Overrides        *prometheus.CounterVec
	StoreErrors      *prometheus.CounterVec
	MarkersIssued    prometheus.Counter
	MarkerFailures   prometheus.Counter
	ProxyRequests    *prometheus.CounterVec
	WatchConnections prometheus.Gauge
}

// New registers every collector on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_heartbeats_total",
			Help:      "Accepted heartbeats by derived status.",
		}, []string{"status"}),
		Overrides: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_overrides_total",
			Help:      "Manual status changes by outcome.",
		}, []string{"outcome"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_store_errors_total",
			Help:      "Expiring key store failures by operation.",
		}, []string{"op"}),
		MarkersIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visibility_markers_issued_total",
			Help:      "Committed mutations that returned a visibility marker.",
		}),
		MarkerFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visibility_marker_failures_total",
			Help:      "Transactions rolled back because no marker could be captured.",
		}),
		ProxyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replication_proxy_requests_total",
			Help:      "Shape proxy requests by upstream status code.",
		}, []string{"code"}),
		WatchConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presence_watch_connections",
			Help:      "Open presence watch sockets.",
		}),
	}
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHeartbeat(status string) {
	if m == nil {
		return
	}
	m.Heartbeats.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveOverride(outcome string) {
	if m == nil {
		return
	}
	m.Overrides.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveMarker(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.MarkerFailures.Inc()
		return
	}
	m.MarkersIssued.Inc()
}

func (m *Metrics) ObserveProxy(code string) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(code).Inc()
}

func (m *Metrics) WatchOpened() {
	if m == nil {
		return
	}
	m.WatchConnections.Inc()
}

func (m *Metrics) WatchClosed() {
	if m == nil {
		return
	}
	m.WatchConnections.Dec()
}
