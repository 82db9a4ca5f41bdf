package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting assistant metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Model endpoint calls (create and stream) and their latency
//   - Tool dispatches by tool and outcome
//   - Chat runs by terminal event
//   - Finalizer fallbacks from streaming to a single response
//   - Background enrichment jobs
//
// All methods are safe to call on a nil *Metrics, which records nothing.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordToolExecution("search_notes", "success", time.Since(start).Seconds())
type Metrics struct {
	// ModelRequestCounter counts model endpoint calls.
	// Labels: operation (create|stream), status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ModelRequestDuration measures model endpoint latency in seconds.
	// Labels: operation
	ModelRequestDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool dispatches.
	// Labels: tool_name, status (success|error|not_found|unknown_tool)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool dispatch time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ChatRunCounter counts chat invocations by how they ended.
	// Labels: outcome (final_done|final|error|cancelled)
	ChatRunCounter *prometheus.CounterVec

	// ChatTurns observes the number of model round trips per chat.
	ChatTurns prometheus.Histogram

	// FinalizerFallbackCounter counts streaming failures recovered (or not)
	// by the non-streamed fallback.
	// Labels: result (success|apology|error)
	FinalizerFallbackCounter *prometheus.CounterVec

	// EnrichmentJobCounter counts background jobs.
	// Labels: kind (embedding|tags|backfill), status (success|error|skipped|dropped)
	EnrichmentJobCounter *prometheus.CounterVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
// Passing nil registers with prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ModelRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notesagent_model_requests_total",
				Help: "Total number of model endpoint requests by operation and status",
			},
			[]string{"operation", "status"},
		),

		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notesagent_model_request_duration_seconds",
				Help:    "Duration of model endpoint requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notesagent_tool_executions_total",
				Help: "Total number of tool dispatches by tool and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notesagent_tool_execution_duration_seconds",
				Help:    "Duration of tool dispatches in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),

		ChatRunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notesagent_chat_runs_total",
				Help: "Total number of chat invocations by outcome",
			},
			[]string{"outcome"},
		),

		ChatTurns: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "notesagent_chat_model_turns",
				Help:    "Number of model round trips per chat invocation",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
		),

		FinalizerFallbackCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notesagent_finalizer_fallbacks_total",
				Help: "Total number of streaming failures handled by the non-streamed fallback",
			},
			[]string{"result"},
		),

		EnrichmentJobCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notesagent_enrichment_jobs_total",
				Help: "Total number of background enrichment jobs by kind and status",
			},
			[]string{"kind", "status"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notesagent_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordModelRequest records a model endpoint call.
//
// Example:
//
//	start := time.Now()
//	resp, err := client.Create(ctx, req)
//	metrics.RecordModelRequest("create", statusOf(err), time.Since(start).Seconds())
func (m *Metrics) RecordModelRequest(operation, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ModelRequestCounter.WithLabelValues(operation, status).Inc()
	m.ModelRequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordToolExecution records metrics for a tool dispatch.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordChatRun records how a chat invocation ended and how many model
// round trips it used.
func (m *Metrics) RecordChatRun(outcome string, turns int) {
	if m == nil {
		return
	}
	m.ChatRunCounter.WithLabelValues(outcome).Inc()
	m.ChatTurns.Observe(float64(turns))
}

// RecordFinalizerFallback records the result of a non-streamed fallback.
func (m *Metrics) RecordFinalizerFallback(result string) {
	if m == nil {
		return
	}
	m.FinalizerFallbackCounter.WithLabelValues(result).Inc()
}

// RecordEnrichmentJob records a background job outcome.
func (m *Metrics) RecordEnrichmentJob(kind, status string) {
	if m == nil {
		return
	}
	m.EnrichmentJobCounter.WithLabelValues(kind, status).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
}
