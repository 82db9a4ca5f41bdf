package agent

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/notesagent/pkg/models"
)

func TestEventEmitter_RefusesAfterTerminal(t *testing.T) {
	out := make(chan models.ChatEvent, 10)
	emitter := NewEventEmitter(out)
	ctx := context.Background()

	if !emitter.FinalStart(ctx) || !emitter.FinalDelta(ctx, "hi") {
		t.Fatal("non-terminal events should be delivered")
	}
	if !emitter.FinalDone(ctx, []string{"n1"}, "resp_1") {
		t.Fatal("terminal event should be delivered")
	}
	if emitter.Error(ctx, "late") || emitter.FinalDelta(ctx, "late") {
		t.Error("events after the terminal one must be refused")
	}
	close(out)

	got := collect(out)
	assertTypes(t, got, models.ChatEventFinalStart, models.ChatEventFinalDelta, models.ChatEventFinalDone)
	if emitter.Terminal() != models.ChatEventFinalDone {
		t.Errorf("Terminal = %q", emitter.Terminal())
	}
	if emitter.Count(models.ChatEventFinalDelta) != 1 || emitter.Count(models.ChatEventError) != 0 {
		t.Error("counts should only include delivered events")
	}
}

func TestEventEmitter_EventFields(t *testing.T) {
	out := make(chan models.ChatEvent, 4)
	emitter := NewEventEmitter(out)
	ctx := context.Background()

	emitter.ToolCall(ctx, ToolSearchNotes, "call_1", map[string]any{"query": "x"})
	emitter.ToolResult(ctx, ToolSearchNotes, "call_1")
	emitter.Final(ctx, "answer", []string{"a"}, "resp_9", true)
	close(out)

	got := collect(out)
	if got[0].Name != ToolSearchNotes || got[0].CallID != "call_1" || got[0].Arguments["query"] != "x" {
		t.Errorf("tool_call = %+v", got[0])
	}
	if got[1].Type != models.ChatEventToolResult || got[1].CallID != "call_1" {
		t.Errorf("tool_result = %+v", got[1])
	}
	final := got[2]
	if final.Response != "answer" || !final.Degraded || final.ResponseID != "resp_9" || len(final.Sources) != 1 {
		t.Errorf("final = %+v", final)
	}
}

func TestEventEmitter_StopsOnCancellation(t *testing.T) {
	out := make(chan models.ChatEvent)
	emitter := NewEventEmitter(out)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() { done <- emitter.FinalStart(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case delivered := <-done:
		if delivered {
			t.Error("event reported delivered with no receiver")
		}
	case <-time.After(time.Second):
		t.Fatal("emit did not return after cancellation")
	}
	if emitter.Error(ctx, "x") {
		t.Error("a cancelled emitter must refuse events")
	}
	if emitter.Terminal() != "" {
		t.Errorf("Terminal = %q, want none", emitter.Terminal())
	}
}
