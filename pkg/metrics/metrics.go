// Package metrics exposes the fixed set of HTTP accounting counters
// spec.md §4.9 requires, registered on a private Prometheus registry
// (rather than the global default registry used ad hoc in
// jordigilh-kubernaut/pkg/metrics) so novaadaptd never collides with a
// host process's own registrations, and served in Prometheus text
// exposition format via promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the request-accounting counters exposed at /metrics.
// Every request increments RequestsTotal; an error status also increments
// exactly one of the outcome counters (see RecordOutcome).
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    prometheus.Counter
	BadRequestsTotal prometheus.Counter
	UnauthorizedTotal prometheus.Counter
	RateLimitedTotal prometheus.Counter
	ServerErrorsTotal prometheus.Counter
}

// New builds a Metrics instance on a fresh private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novaadapt_requests_total",
			Help: "Total HTTP requests handled.",
		}),
		BadRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novaadapt_bad_requests_total",
			Help: "Requests rejected as malformed (4xx client-input errors).",
		}),
		UnauthorizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novaadapt_unauthorized_total",
			Help: "Requests rejected for missing or invalid authentication.",
		}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novaadapt_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter.",
		}),
		ServerErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novaadapt_server_errors_total",
			Help: "Requests that failed with a server-side error.",
		}),
	}
	registry.MustRegister(
		m.RequestsTotal, m.BadRequestsTotal, m.UnauthorizedTotal,
		m.RateLimitedTotal, m.ServerErrorsTotal,
	)
	return m
}

// Handler returns the /metrics HTTP handler serving this registry's
// collectors in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOutcome increments RequestsTotal and, for a 401, 429, 5xx or
// other 4xx status, exactly one matching outcome counter. Any other
// status (2xx, 3xx) increments RequestsTotal only.
func (m *Metrics) RecordOutcome(status int) {
	m.RequestsTotal.Inc()
	switch {
	case status == http.StatusUnauthorized:
		m.UnauthorizedTotal.Inc()
	case status == http.StatusTooManyRequests:
		m.RateLimitedTotal.Inc()
	case status >= 500:
		m.ServerErrorsTotal.Inc()
	case status >= 400:
		m.BadRequestsTotal.Inc()
	}
}
