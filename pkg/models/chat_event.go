package models

import (
	"encoding/json"
	"fmt"
)

// ChatEventType identifies the kind of chat event streamed to a client.
type ChatEventType string

const (
	// Tool activity
	ChatEventToolCall   ChatEventType = "tool_call"
	ChatEventToolResult ChatEventType = "tool_result"

	// Final answer streaming
	ChatEventFinalStart ChatEventType = "final_start"
	ChatEventFinalDelta ChatEventType = "final_delta"
	ChatEventFinalDone  ChatEventType = "final_done"

	// Non-streamed answer, used when the token stream fails
	ChatEventFinal ChatEventType = "final"

	ChatEventError ChatEventType = "error"
)

// IsTerminal reports whether the event type ends a chat event sequence.
func (t ChatEventType) IsTerminal() bool {
	return t == ChatEventFinalDone || t == ChatEventFinal || t == ChatEventError
}

// ChatEvent is one element of the ordered event sequence produced by a chat
// invocation. Only the fields relevant to Type are serialized; see MarshalJSON.
type ChatEvent struct {
	Type ChatEventType

	// tool_call / tool_result
	Name      string
	CallID    string
	Arguments map[string]any

	// final_delta
	Delta string

	// final
	Response string
	Degraded bool

	// final_done / final
	Sources    []string
	ResponseID string

	// error
	Message string
}

// MarshalJSON renders the flat, type-discriminated wire shape of the event.
func (e ChatEvent) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": e.Type}
	switch e.Type {
	case ChatEventToolCall:
		args := e.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out["name"] = e.Name
		out["arguments"] = args
		out["call_id"] = e.CallID
	case ChatEventToolResult:
		out["name"] = e.Name
		out["call_id"] = e.CallID
	case ChatEventFinalStart:
	case ChatEventFinalDelta:
		out["delta"] = e.Delta
	case ChatEventFinalDone:
		out["sources"] = nonNilStrings(e.Sources)
		out["response_id"] = nullableString(e.ResponseID)
	case ChatEventFinal:
		out["response"] = e.Response
		out["sources"] = nonNilStrings(e.Sources)
		out["response_id"] = nullableString(e.ResponseID)
		if e.Degraded {
			out["degraded"] = true
		}
	case ChatEventError:
		out["message"] = e.Message
	default:
		return nil, fmt.Errorf("unknown chat event type %q", e.Type)
	}
	return json.Marshal(out)
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
