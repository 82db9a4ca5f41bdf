package agent

import (
	"context"
	"encoding/json"
	"strings"
)

// ModelClient defines the interface for the model endpoint driven by the chat loop.
//
// Implementations speak a responses-style protocol: each call takes the full
// turn input plus an optional continuation token, and the endpoint keeps the
// earlier conversation server side.
//
// Thread Safety:
// Implementations must be safe for concurrent use. One client is shared by
// every in-flight chat run.
//
// See Also:
//   - providers.OpenAIResponses for the OpenAI Responses API implementation
type ModelClient interface {
	// Create sends a turn and returns the complete response.
	Create(ctx context.Context, req *ModelRequest) (*ModelResponse, error)

	// Stream sends a turn and returns a token-level event stream.
	Stream(ctx context.Context, req *ModelRequest) (ModelStream, error)
}

// ToolChoice controls whether the model may call tools on a turn.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide between tool calls and text.
	ToolChoiceAuto ToolChoice = "auto"

	// ToolChoiceNone forces a text answer.
	ToolChoiceNone ToolChoice = "none"
)

// ModelRequest contains all parameters for one model round trip.
//
// Example:
//
//	req := &ModelRequest{
//	    Model:        "gpt-5",
//	    Instructions: "You are a helpful personal notes assistant.",
//	    Input:        []InputItem{UserMessage("show me my recipe notes")},
//	    Tools:        registry.Definitions(),
//	    ToolChoice:   ToolChoiceAuto,
//	}
type ModelRequest struct {
	// Model identifies the model. If empty, the client's default model is used.
	Model string `json:"model,omitempty"`

	// Instructions is the system-level prompt for the turn.
	Instructions string `json:"instructions,omitempty"`

	// Input is the turn input: the user message on the first turn,
	// function call outputs afterwards.
	Input []InputItem `json:"input"`

	// Tools declares the callable functions.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// ToolChoice is the tool-choice policy. Empty means auto.
	ToolChoice ToolChoice `json:"tool_choice,omitempty"`

	// PreviousResponseID continues the server-side conversation.
	PreviousResponseID string `json:"previous_response_id,omitempty"`

	// ReasoningEffort is passed through to reasoning models (minimal, low, medium, high).
	ReasoningEffort string `json:"reasoning_effort,omitempty"`

	// TextVerbosity is passed through to models that support it (low, medium, high).
	TextVerbosity string `json:"text_verbosity,omitempty"`
}

// InputItemType discriminates turn input items.
type InputItemType string

const (
	InputItemMessage            InputItemType = "message"
	InputItemFunctionCallOutput InputItemType = "function_call_output"
)

// InputItem is one element of a turn input.
type InputItem struct {
	Type InputItemType `json:"type"`

	// message
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// function_call_output
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// UserMessage returns a user message input item.
func UserMessage(content string) InputItem {
	return InputItem{Type: InputItemMessage, Role: "user", Content: content}
}

// FunctionCallOutput returns the input item carrying a tool result back to the model.
func FunctionCallOutput(callID, output string) InputItem {
	return InputItem{Type: InputItemFunctionCallOutput, CallID: callID, Output: output}
}

// OutputItemType discriminates response output items.
type OutputItemType string

const (
	OutputItemMessage      OutputItemType = "message"
	OutputItemFunctionCall OutputItemType = "function_call"
	OutputItemReasoning    OutputItemType = "reasoning"
)

// OutputItem is one element of a model response.
type OutputItem struct {
	Type OutputItemType `json:"type"`

	// message
	Text string `json:"text,omitempty"`

	// function_call
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`
}

// ModelResponse is the result of a non-streamed model call.
type ModelResponse struct {
	// ID is the continuation token for the next turn.
	ID string `json:"id"`

	// OutputText is the aggregated assistant text, if any.
	OutputText string `json:"output_text,omitempty"`

	// Output holds the raw output items in order.
	Output []OutputItem `json:"output,omitempty"`
}

// ToolCalls returns the pending function calls of the response in order.
func (r *ModelResponse) ToolCalls() []ToolCall {
	if r == nil {
		return nil
	}
	var calls []ToolCall
	for _, item := range r.Output {
		if item.Type != OutputItemFunctionCall {
			continue
		}
		calls = append(calls, ToolCall{
			Name:      item.Name,
			Arguments: item.Arguments,
			CallID:    item.CallID,
		})
	}
	return calls
}

// Text returns the assistant text of the response: the aggregated output
// text when present, otherwise the concatenated message item texts.
func (r *ModelResponse) Text() string {
	if r == nil {
		return ""
	}
	if r.OutputText != "" {
		return r.OutputText
	}
	var sb strings.Builder
	for _, item := range r.Output {
		if item.Type == OutputItemMessage {
			sb.WriteString(item.Text)
		}
	}
	return sb.String()
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	Name string `json:"name"`

	// Arguments is the raw JSON argument payload as produced by the model.
	Arguments string `json:"arguments"`

	CallID string `json:"call_id"`
}

// DecodedArguments parses the argument payload. Malformed or non-object
// payloads decode to an empty map so a bad call never aborts the turn.
func (c ToolCall) DecodedArguments() map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(c.Arguments) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// ModelStream is a token-level response stream.
//
// Usage mirrors bufio.Scanner:
//
//	for stream.Next() {
//	    ev := stream.Event()
//	    ...
//	}
//	if err := stream.Err(); err != nil { ... }
type ModelStream interface {
	// Next advances to the next event, returning false at the end of the
	// stream or on error.
	Next() bool

	// Event returns the current event.
	Event() StreamEvent

	// Err returns the error that stopped the stream, if any.
	Err() error

	// Close releases the underlying connection.
	Close() error
}

// StreamEventType discriminates stream events.
type StreamEventType string

const (
	StreamEventTextDelta StreamEventType = "response.output_text.delta"
	StreamEventCompleted StreamEventType = "response.completed"
	StreamEventFailed    StreamEventType = "response.failed"
	StreamEventError     StreamEventType = "error"
)

// StreamEvent is one event of a ModelStream. Event types the loop does not
// act on are surfaced with their raw type and ignored.
type StreamEvent struct {
	Type StreamEventType

	// Delta is the text fragment of a text delta event.
	Delta string

	// ResponseID is set on completion.
	ResponseID string

	// Message describes a failed or error event.
	Message string
}
