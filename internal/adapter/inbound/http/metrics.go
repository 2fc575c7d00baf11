package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "echogate"

// Metrics holds all Prometheus metrics for echo-gate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SessionsCreated prometheus.Counter
	SessionsClosed  *prometheus.CounterVec
	ToolCalls       *prometheus.CounterVec
	RateLimited     prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
// activeSessions is sampled at scrape time; nil skips the gauge.
func NewMetrics(reg prometheus.Registerer, activeSessions func() float64) *Metrics {
	factory := promauto.With(reg)

	if activeSessions != nil {
		factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_sessions",
				Help:      "Number of registered sessions",
			},
			activeSessions,
		)
	}

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total number of MCP HTTP requests processed",
			},
			[]string{"method", "status"}, // method=POST, status=ok/error
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_created_total",
				Help:      "Total sessions created",
			},
		),
		SessionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_closed_total",
				Help:      "Total sessions closed",
			},
			[]string{"reason"}, // reason=client/idle/shutdown
		),
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tool_calls_total",
				Help:      "Total tool calls",
			},
			[]string{"tool", "result"}, // result=ok/error
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limited_total",
				Help:      "Session creations rejected by the rate limiter",
			},
		),
	}
}

// ObserveToolCall records a tool call outcome.
func (m *Metrics) ObserveToolCall(tool string, isError bool) {
	result := "ok"
	if isError {
		result = "error"
	}
	m.ToolCalls.WithLabelValues(tool, result).Inc()
}

// ObserveSessionClosed records a session leaving the registry.
func (m *Metrics) ObserveSessionClosed(reason string) {
	m.SessionsClosed.WithLabelValues(reason).Inc()
}
