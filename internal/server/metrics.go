package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the matching service.
type Metrics struct {
	registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	MatchesTotal      *prometheus.CounterVec
	StreamEventsTotal *prometheus.CounterVec
	CatalogSize       prometheus.Gauge
}

// NewMetrics creates and registers all collectors on a private registry
// so multiple server instances never collide.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowmatch_http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowmatch_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		MatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowmatch_matches_total",
				Help: "Match outcomes by orchestrator mode (pipeline, agent) and outcome (matched, null, degraded, error).",
			},
			[]string{"mode", "outcome"},
		),
		StreamEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowmatch_stream_events_total",
				Help: "Server-sent events emitted by type.",
			},
			[]string{"type"},
		),
		CatalogSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowmatch_catalog_size",
				Help: "Number of candidates in the active index.",
			},
		),
	}

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.MatchesTotal,
		m.StreamEventsTotal,
		m.CatalogSize,
	)

	return m
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observeMatch records the outcome of one match request.
func (m *Metrics) observeMatch(mode string, result matchOutcome) {
	m.MatchesTotal.WithLabelValues(mode, string(result)).Inc()
}

type matchOutcome string

const (
	outcomeMatched  matchOutcome = "matched"
	outcomeNull     matchOutcome = "null"
	outcomeDegraded matchOutcome = "degraded"
	outcomeError    matchOutcome = "error"
)
