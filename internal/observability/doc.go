// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for notesagent.
//
// # Metrics
//
// Metrics are registered on a caller-supplied registry so tests can use a
// fresh one. Every Record method is safe on a nil *Metrics:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//
//	start := time.Now()
//	// ... call the model ...
//	metrics.RecordModelRequest("create", "success", time.Since(start).Seconds())
//
//	metrics.RecordToolExecution("search_notes", "success", 0.012)
//	metrics.RecordChatRun("streamed", 2)
//
// # Logging
//
// Logging is built on slog. Request, user and conversation ids stored in the
// context are added to every record. API keys, bearer tokens and JWTs are
// redacted from messages and values:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx = observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddUserID(ctx, userID)
//	logger.Info(ctx, "chat started", "resumed", previousID != "")
//
// # Tracing
//
// Without an OTLP endpoint the tracer is a no-op:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:  "notesagent",
//	    Endpoint:     "localhost:4317",
//	    SamplingRate: 0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceChat(ctx, userID, false)
//	defer span.End()
//
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "create_note")
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//	toolSpan.End()
package observability
