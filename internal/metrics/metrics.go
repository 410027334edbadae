// Package metrics provides Prometheus metrics for the sync daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	SyncOperations *prometheus.CounterVec
	SyncDuration   *prometheus.HistogramVec
	AuthRejections prometheus.Counter
	Conflicts      *prometheus.CounterVec
	SessionActive  prometheus.Gauge
	HTTPRequests   *prometheus.CounterVec
	ProxyExchanges *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SyncOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangled_sync_operations_total",
				Help: "Collection operations by collection, operation and result.",
			},
			[]string{"collection", "op", "result"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tangled_sync_duration_seconds",
				Help:    "Collection operation duration including remote round trips.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"collection", "op"},
		),
		AuthRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tangled_auth_rejections_total",
				Help: "Times the remote rejected the stored token and the session was cleared.",
			},
		),
		Conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangled_conflicts_total",
				Help: "Writes refused because the document changed since it was read.",
			},
			[]string{"collection"},
		),
		SessionActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tangled_session_active",
				Help: "1 when a user is signed in, 0 otherwise.",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangled_http_requests_total",
				Help: "Local API requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		ProxyExchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangled_oauth_exchanges_total",
				Help: "OAuth code exchanges handled by the proxy, by result.",
			},
			[]string{"result"},
		),
		registry: reg,
	}

	reg.MustRegister(m.SyncOperations)
	reg.MustRegister(m.SyncDuration)
	reg.MustRegister(m.AuthRejections)
	reg.MustRegister(m.Conflicts)
	reg.MustRegister(m.SessionActive)
	reg.MustRegister(m.HTTPRequests)
	reg.MustRegister(m.ProxyExchanges)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSync counts one collection operation and its duration.
func (m *Metrics) RecordSync(collection, op, result string, seconds float64) {
	m.SyncOperations.WithLabelValues(collection, op, result).Inc()
	m.SyncDuration.WithLabelValues(collection, op).Observe(seconds)
}

func (m *Metrics) RecordConflict(collection string) {
	m.Conflicts.WithLabelValues(collection).Inc()
}

func (m *Metrics) RecordAuthRejection() {
	m.AuthRejections.Inc()
}

// SetSessionActive flips the session gauge.
func (m *Metrics) SetSessionActive(active bool) {
	if active {
		m.SessionActive.Set(1)
		return
	}
	m.SessionActive.Set(0)
}

func (m *Metrics) RecordHTTPRequest(method, route, status string) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
}

func (m *Metrics) RecordExchange(result string) {
	m.ProxyExchanges.WithLabelValues(result).Inc()
}
