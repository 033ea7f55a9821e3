package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the host.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	sessions        prometheus.Gauge
	broadcastsTotal prometheus.Counter
	coalescedTotal  prometheus.Counter
	droppedTotal    prometheus.Counter
	probesTotal     prometheus.Counter
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
}

// New creates and registers the metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchr_sessions",
			Help: "Number of connected peer sessions",
		}),
		broadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchr_broadcasts_total",
			Help: "Total number of property updates fanned out to peers",
		}),
		coalescedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchr_coalesced_total",
			Help: "Total number of property updates suppressed by coalescing",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchr_sessions_dropped_total",
			Help: "Total number of sessions dropped after a failed write",
		}),
		probesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchr_probes_total",
			Help: "Total number of heartbeat sweeps",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchr_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchr_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
	}

	registry.MustRegister(
		m.sessions,
		m.broadcastsTotal,
		m.coalescedTotal,
		m.droppedTotal,
		m.probesTotal,
		m.requestsTotal,
		m.errorsTotal,
	)

	return m
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) IncBroadcasts() {
	if m == nil {
		return
	}
	m.broadcastsTotal.Inc()
}

func (m *Metrics) IncCoalesced() {
	if m == nil {
		return
	}
	m.coalescedTotal.Inc()
}

func (m *Metrics) AddDropped(n int) {
	if m == nil {
		return
	}
	m.droppedTotal.Add(float64(n))
}

func (m *Metrics) IncProbes() {
	if m == nil {
		return
	}
	m.probesTotal.Inc()
}

func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
