package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.RecordToolExecution("search_notes", "success", 0.02)
	metrics.RecordToolExecution("search_notes", "success", 0.03)
	metrics.RecordToolExecution("foo", "unknown_tool", 0)

	expected := `
		# HELP notesagent_tool_executions_total Total number of tool dispatches by tool and status
		# TYPE notesagent_tool_executions_total counter
		notesagent_tool_executions_total{status="success",tool_name="search_notes"} 2
		notesagent_tool_executions_total{status="unknown_tool",tool_name="foo"} 1
	`
	if err := testutil.CollectAndCompare(metrics.ToolExecutionCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestRecordChatRun(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordChatRun("final_done", 1)
	metrics.RecordChatRun("error", 1)
	metrics.RecordChatRun("final_done", 3)

	if got := testutil.ToFloat64(metrics.ChatRunCounter.WithLabelValues("final_done")); got != 2 {
		t.Errorf("final_done = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(metrics.ChatTurns); got != 1 {
		t.Errorf("histogram series = %d, want 1", got)
	}
}

func TestRecordModelRequestAndFallbacks(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordModelRequest("create", "success", 1.2)
	metrics.RecordModelRequest("stream", "error", 0.4)
	metrics.RecordFinalizerFallback("success")
	metrics.RecordEnrichmentJob("tags", "skipped")
	metrics.RecordHTTPRequest("POST", "/api/v1/chat/stream", "200")

	if got := testutil.ToFloat64(metrics.ModelRequestCounter.WithLabelValues("stream", "error")); got != 1 {
		t.Errorf("stream errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.FinalizerFallbackCounter.WithLabelValues("success")); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.EnrichmentJobCounter.WithLabelValues("tags", "skipped")); got != 1 {
		t.Errorf("enrichment = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	metrics.RecordModelRequest("create", "success", 1)
	metrics.RecordToolExecution("search_notes", "success", 1)
	metrics.RecordChatRun("final", 2)
	metrics.RecordFinalizerFallback("error")
	metrics.RecordEnrichmentJob("embedding", "error")
	metrics.RecordHTTPRequest("GET", "/healthz", "200")
}
