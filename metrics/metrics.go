// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished runs by outcome (done, interrupted, failed, cancelled).
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convoflow_runs_total",
			Help: "Total executor runs by outcome",
		},
		[]string{"outcome"},
	)

	// RunDuration tracks run wall time.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convoflow_run_duration_seconds",
			Help:    "Executor run duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	// StreamEventsTotal counts delivered stream events by type.
	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convoflow_stream_events_total",
			Help: "Total stream events delivered to callers",
		},
		[]string{"type"},
	)

	// ToolCallsTotal counts tool invocations.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convoflow_tool_calls_total",
			Help: "Total tool invocations",
		},
		[]string{"tool", "status"},
	)

	// DispatchTotal counts side-effect submissions by outcome (sent, skipped, failed).
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convoflow_dispatch_total",
			Help: "Total transcript dispatches",
		},
		[]string{"outcome"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convoflow_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convoflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status"},
	)

	// ActiveRuns tracks runs currently in flight.
	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convoflow_active_runs",
			Help: "Number of executor runs in flight",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRun records the outcome of a finished run.
func RecordRun(outcome string, duration float64) {
	RunsTotal.WithLabelValues(outcome).Inc()
	RunDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordEvent counts a delivered stream event.
func RecordEvent(eventType string) {
	StreamEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordToolCall counts a tool invocation.
func RecordToolCall(tool, status string) {
	ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordDispatch counts a dispatch outcome.
func RecordDispatch(outcome string) {
	DispatchTotal.WithLabelValues(outcome).Inc()
}
