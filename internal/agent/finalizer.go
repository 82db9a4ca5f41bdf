package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/notesagent/pkg/models"
)

// Finalizer fallback results reported to metrics.
const (
	fallbackSuccess = "success"
	fallbackApology = "apology"
	fallbackError   = "error"
)

var errConsumerGone = errors.New("event consumer gone")

// finalize produces the answer once no tool calls are pending or the turn
// budget is spent. The answer is streamed as final_delta events and closed by
// final_done. If the stream cannot be opened or breaks, one non-streamed
// request is made and its text sent as a single final event; an empty answer
// is replaced by an apology and marked degraded. If that request fails too the
// run ends with an error event.
//
// Tool choice is none so the answer is text even when the budget ran out with
// calls still pending.
func (a *Agent) finalize(ctx context.Context, emitter *EventEmitter, state *LoopState, instructions string) {
	state.Phase = PhaseFinalizing
	if !emitter.FinalStart(ctx) {
		return
	}
	req := a.request(state, instructions, ToolChoiceNone)

	responseID, err := a.stream(ctx, emitter, req, state.Turn)
	if err == nil {
		if responseID == "" {
			responseID = state.latestResponseID()
		}
		if emitter.FinalDone(ctx, state.Sources.Sorted(), responseID) {
			state.Phase = PhaseFinalized
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	a.logger.Error(ctx, "response stream failed, falling back to a single response",
		"error", &LoopError{Phase: PhaseFinalizing, Turn: state.Turn, Cause: err},
		"deltas_sent", emitter.Count(models.ChatEventFinalDelta),
	)

	resp, err := a.create(ctx, req, state.Turn)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		a.metrics.RecordFinalizerFallback(fallbackError)
		a.logger.Error(ctx, "non-streamed fallback failed",
			"error", &LoopError{Phase: PhaseFinalizing, Turn: state.Turn, Cause: err},
		)
		state.Phase = PhaseAborted
		emitter.Error(ctx, MessageFallbackFailed)
		return
	}

	text := resp.Text()
	degraded := strings.TrimSpace(text) == ""
	if degraded {
		text = MessageModelUnavailable
		a.metrics.RecordFinalizerFallback(fallbackApology)
		a.logger.Warn(ctx, "fallback response had no text, sending apology")
	} else {
		a.metrics.RecordFinalizerFallback(fallbackSuccess)
	}
	if resp.ID != "" {
		state.LastResponseID = resp.ID
	}
	if emitter.Final(ctx, text, state.Sources.Sorted(), state.latestResponseID(), degraded) {
		state.Phase = PhaseFinalized
	}
}

// stream forwards text deltas until the completion event and returns the
// completed response id. Any other ending is an error.
func (a *Agent) stream(ctx context.Context, emitter *EventEmitter, req *ModelRequest, turn int) (responseID string, err error) {
	ctx, span := a.tracer.TraceModelRequest(ctx, "stream", req.Model, turn)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			a.tracer.RecordError(span, err)
		}
		a.metrics.RecordModelRequest("stream", status, time.Since(start).Seconds())
	}()

	stream, err := a.model.Stream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("open stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		event := stream.Event()
		switch event.Type {
		case StreamEventTextDelta:
			if event.Delta == "" {
				continue
			}
			if !emitter.FinalDelta(ctx, event.Delta) {
				return "", errConsumerGone
			}
		case StreamEventCompleted:
			return event.ResponseID, nil
		case StreamEventError, StreamEventFailed:
			msg := event.Message
			if msg == "" {
				msg = "no details"
			}
			return "", fmt.Errorf("stream %s: %s", event.Type, msg)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrStreamIncomplete
}
