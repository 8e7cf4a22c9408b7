package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Prometheus collectors used across the service.
type Metrics struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	timeoutRuns     *prometheus.CounterVec
	reassigned      prometheus.Counter
	notifications   *prometheus.CounterVec
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicedesk_http_requests_total",
			Help: "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "servicedesk_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicedesk_http_errors_total",
			Help: "Error responses by domain error code",
		}, []string{"route", "method", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicedesk_request_transitions_total",
			Help: "Service request lifecycle transitions",
		}, []string{"from", "to"}),
		timeoutRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicedesk_timeout_check_runs_total",
			Help: "Assignment timeout check runs by result",
		}, []string{"result"}),
		reassigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicedesk_timeout_reassigned_total",
			Help: "Requests returned to the unassigned pool after the response window elapsed",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicedesk_notifications_total",
			Help: "Notification deliveries by channel and result",
		}, []string{"channel", "result"}),
	}
	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		m.requestCount,
		m.requestDuration,
		m.errorCount,
		m.transitions,
		m.timeoutRuns,
		m.reassigned,
		m.notifications,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(route, method, code).Inc()
}

// RecordTransition counts a lifecycle move.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordTimeoutRun counts one timeout check with its outcome and reclaimed requests.
func (m *Metrics) RecordTimeoutRun(result string, reassigned int) {
	if m == nil {
		return
	}
	m.timeoutRuns.WithLabelValues(result).Inc()
	if reassigned > 0 {
		m.reassigned.Add(float64(reassigned))
	}
}

// RecordNotification counts a delivery attempt.
func (m *Metrics) RecordNotification(channel, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}
