package agent

import (
	"context"

	"github.com/haasonsaas/notesagent/pkg/models"
)

// EventEmitter writes the ordered chat event sequence of one run to the
// consumer channel. It is owned by the run goroutine and is not safe for
// concurrent use.
//
// Every send blocks until the consumer receives it or ctx ends, so the run
// never buffers ahead of the transport. Once a terminal event has been
// delivered further events are refused.
type EventEmitter struct {
	out      chan<- models.ChatEvent
	counts   map[models.ChatEventType]int
	terminal models.ChatEventType
}

// NewEventEmitter creates an emitter writing to out.
func NewEventEmitter(out chan<- models.ChatEvent) *EventEmitter {
	return &EventEmitter{
		out:    out,
		counts: make(map[models.ChatEventType]int),
	}
}

// emit delivers event and reports whether the consumer received it.
func (e *EventEmitter) emit(ctx context.Context, event models.ChatEvent) bool {
	if e.terminal != "" || ctx.Err() != nil {
		return false
	}
	select {
	case e.out <- event:
	case <-ctx.Done():
		return false
	}
	e.counts[event.Type]++
	if event.Type.IsTerminal() {
		e.terminal = event.Type
	}
	return true
}

// ToolCall emits a tool_call event.
func (e *EventEmitter) ToolCall(ctx context.Context, name, callID string, arguments map[string]any) bool {
	return e.emit(ctx, models.ChatEvent{
		Type:      models.ChatEventToolCall,
		Name:      name,
		CallID:    callID,
		Arguments: arguments,
	})
}

// ToolResult emits a tool_result event.
func (e *EventEmitter) ToolResult(ctx context.Context, name, callID string) bool {
	return e.emit(ctx, models.ChatEvent{
		Type:   models.ChatEventToolResult,
		Name:   name,
		CallID: callID,
	})
}

// FinalStart emits a final_start event.
func (e *EventEmitter) FinalStart(ctx context.Context) bool {
	return e.emit(ctx, models.ChatEvent{Type: models.ChatEventFinalStart})
}

// FinalDelta emits a final_delta event.
func (e *EventEmitter) FinalDelta(ctx context.Context, delta string) bool {
	return e.emit(ctx, models.ChatEvent{Type: models.ChatEventFinalDelta, Delta: delta})
}

// FinalDone emits the terminal final_done event.
func (e *EventEmitter) FinalDone(ctx context.Context, sources []string, responseID string) bool {
	return e.emit(ctx, models.ChatEvent{
		Type:       models.ChatEventFinalDone,
		Sources:    sources,
		ResponseID: responseID,
	})
}

// Final emits the terminal non-streamed final event.
func (e *EventEmitter) Final(ctx context.Context, response string, sources []string, responseID string, degraded bool) bool {
	return e.emit(ctx, models.ChatEvent{
		Type:       models.ChatEventFinal,
		Response:   response,
		Sources:    sources,
		ResponseID: responseID,
		Degraded:   degraded,
	})
}

// Error emits the terminal error event.
func (e *EventEmitter) Error(ctx context.Context, message string) bool {
	return e.emit(ctx, models.ChatEvent{Type: models.ChatEventError, Message: message})
}

// Terminal returns the terminal event type delivered, or "" if none was.
func (e *EventEmitter) Terminal() models.ChatEventType {
	return e.terminal
}

// Count returns how many events of type t were delivered.
func (e *EventEmitter) Count(t models.ChatEventType) int {
	return e.counts[t]
}
