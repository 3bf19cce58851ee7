package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's prometheus collectors. Each Gateway owns its
// own registry so tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	rateLimitDenials *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	downstreamErrors *prometheus.CounterVec
}

// New creates the collector set.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total inbound requests by method and status.",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Inbound request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		rateLimitDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_denials_total",
			Help: "Requests denied by the rate limiter, by scope.",
		}, []string{"scope"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state per service (0 closed, 1 open, 2 half-open).",
		}, []string{"service"}),
		downstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_downstream_errors_total",
			Help: "Transport-level downstream failures by service and kind.",
		}, []string{"service", "kind"}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.rateLimitDenials,
		m.breakerState,
		m.downstreamErrors,
	)

	return m
}

// ObserveRequest records one completed inbound request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RateLimitDenied records a limiter denial for the violating scope.
func (m *Metrics) RateLimitDenied(scope string) {
	m.rateLimitDenials.WithLabelValues(scope).Inc()
}

// SetBreakerState records a breaker's current state.
func (m *Metrics) SetBreakerState(service string, state int) {
	m.breakerState.WithLabelValues(service).Set(float64(state))
}

// DownstreamError records a transport failure against a service.
func (m *Metrics) DownstreamError(service, kind string) {
	m.downstreamErrors.WithLabelValues(service, kind).Inc()
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
