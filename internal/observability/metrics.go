package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors on a private registry. All methods are
// safe on a nil receiver.
type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	upstream      *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	redirects     *prometheus.CounterVec
	sessionEvents *prometheus.CounterVec
}

// NewMetrics registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Requests served by the gateway.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "Time spent serving gateway requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_errors_total",
			Help: "Requests that ended in a domain error.",
		}, []string{"method", "route", "code"}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_responses_total",
			Help: "Responses received from the POS API, by attempt.",
		}, []string{"status", "attempt"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_session_refresh_total",
			Help: "Forced session refreshes by outcome.",
		}, []string{"outcome"}),
		redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_navigation_redirects_total",
			Help: "Navigation redirects issued to the terminal UI.",
		}, []string{"route"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_session_events_total",
			Help: "Session lifecycle events.",
		}, []string{"type"}),
	}
	m.registry.MustRegister(
		m.requests, m.duration, m.errors, m.upstream,
		m.refreshes, m.redirects, m.sessionEvents,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest counts a served request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordError counts a request that failed with a domain error code.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, route, code).Inc()
}

// RecordUpstream counts a response from the remote API.
func (m *Metrics) RecordUpstream(status int, attempt string) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(strconv.Itoa(status), attempt).Inc()
}

// RecordRefresh counts a refresh outcome ("ok", "failed", "shared").
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// RecordRedirect counts a navigation redirect.
func (m *Metrics) RecordRedirect(route string) {
	if m == nil {
		return
	}
	m.redirects.WithLabelValues(route).Inc()
}

// RecordSessionEvent counts a session lifecycle event.
func (m *Metrics) RecordSessionEvent(eventType string) {
	if m == nil {
		return
	}
	m.sessionEvents.WithLabelValues(eventType).Inc()
}
