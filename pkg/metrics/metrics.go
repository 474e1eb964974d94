// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMStreamDuration tracks LLM response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// SessionsActive tracks connected client sessions (SSE and WebSocket).
	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of connected client sessions",
		},
		[]string{"transport"},
	)

	// PollTicksTotal counts poller ticks by outcome.
	PollTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_ticks_total",
			Help: "Total poller ticks",
		},
		[]string{"poller", "outcome"},
	)

	// PollDuration tracks how long a single poll fetch takes.
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poll_fetch_duration_seconds",
			Help:    "Poll fetch duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"poller"},
	)

	// NotificationsTotal counts notification decisions.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification decisions by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	// GatewayRequestDuration tracks backend gateway call latency.
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Backend gateway call duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation", "entity", "status"},
	)

	// MessagesTotal tracks chat messages sent.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total chat messages sent",
		},
		[]string{"kind"},
	)

	// ReadMarksTotal counts messages marked read.
	ReadMarksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "read_marks_total",
			Help: "Total messages marked read",
		},
	)

	// ArtifactsTotal counts artifact lifecycle events.
	ArtifactsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifacts_total",
			Help: "Artifact lifecycle events",
		},
		[]string{"event"},
	)

	// ImportRowsTotal counts bulk import rows by outcome.
	ImportRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_rows_total",
			Help: "Bulk import rows by outcome",
		},
		[]string{"format", "outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an LLM response.
func RecordLLMStream(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordPoll records a single poller tick.
func RecordPoll(poller, outcome string, duration float64) {
	PollTicksTotal.WithLabelValues(poller, outcome).Inc()
	PollDuration.WithLabelValues(poller).Observe(duration)
}

// RecordNotification records a dispatcher decision.
func RecordNotification(category, outcome string) {
	NotificationsTotal.WithLabelValues(category, outcome).Inc()
}

// RecordGateway records a backend gateway call.
func RecordGateway(operation, entity, status string, duration float64) {
	GatewayRequestDuration.WithLabelValues(operation, entity, status).Observe(duration)
}

// IncrementSessions increments the active session count.
func IncrementSessions(transport string) {
	SessionsActive.WithLabelValues(transport).Inc()
}

// DecrementSessions decrements the active session count.
func DecrementSessions(transport string) {
	SessionsActive.WithLabelValues(transport).Dec()
}
