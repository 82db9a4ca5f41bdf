package agent

import (
	"errors"
	"fmt"
)

// Common sentinel errors for agent operations
var (
	// ErrUnknownTool indicates the model requested a tool the registry does not declare
	ErrUnknownTool = errors.New("unknown tool")

	// ErrEmptyMessage indicates the chat message was empty or whitespace
	ErrEmptyMessage = errors.New("message must not be empty")

	// ErrMissingUser indicates no caller identity was supplied
	ErrMissingUser = errors.New("user id is required")

	// ErrNoModel indicates no model client is configured
	ErrNoModel = errors.New("no model client configured")

	// ErrNoNotes indicates no note service is configured
	ErrNoNotes = errors.New("no note service configured")

	// ErrStreamIncomplete indicates the token stream ended without a completion event
	ErrStreamIncomplete = errors.New("stream ended without completion")

	// ErrToolPanic indicates a tool panicked during dispatch
	ErrToolPanic = errors.New("tool panicked")
)

// Messages shown to the user when the run cannot produce a model answer.
const (
	// MessageModelUnavailable is sent when the model endpoint rejects a turn.
	// It doubles as the apology text of a degraded final answer.
	MessageModelUnavailable = "I'm unable to complete that request right now. Please try again."

	// MessageFallbackFailed is sent when both the stream and its fallback fail.
	MessageFallbackFailed = "We couldn't complete the request. Please try again."
)

// LoopError represents an error that occurred during a chat run
// with context about which phase and turn the error occurred in.
type LoopError struct {
	// Phase is the loop phase where the error occurred
	Phase LoopPhase

	// Turn is the model round trip (1-based) where the error occurred
	Turn int

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (turn %d): %s", e.Phase, e.Turn, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (turn %d): %v", e.Phase, e.Turn, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (turn %d)", e.Phase, e.Turn)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}

// LoopPhase represents a distinct phase in the chat run lifecycle.
type LoopPhase string

const (
	// PhaseAwaitingModel is waiting on a non-streamed model turn
	PhaseAwaitingModel LoopPhase = "awaiting_model"

	// PhaseToolsPending is dispatching the tool calls of a model turn
	PhaseToolsPending LoopPhase = "tools_pending"

	// PhaseFinalizing is streaming (or falling back to) the final answer
	PhaseFinalizing LoopPhase = "finalizing"

	// PhaseFinalized is the terminal success phase
	PhaseFinalized LoopPhase = "finalized"

	// PhaseAborted is the terminal failure phase
	PhaseAborted LoopPhase = "aborted"
)

// ToolError is the structured failure of one tool dispatch. Its message is
// returned to the model verbatim as {"error": message}.
type ToolError struct {
	// Tool is the requested tool name
	Tool string

	// Message is the text handed back to the model
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "tool " + e.Tool + " failed"
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}
