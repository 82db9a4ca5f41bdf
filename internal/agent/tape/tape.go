// Package tape provides recording and replay of model endpoint traffic.
// This enables exercising the chat loop without making real model API calls.
package tape

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/haasonsaas/notesagent/internal/agent"
)

// TurnKind is the model call a turn recorded.
type TurnKind string

const (
	TurnCreate TurnKind = "create"
	TurnStream TurnKind = "stream"
)

// Tape records every model call of one or more chat runs.
type Tape struct {
	// Version of the tape format
	Version string `json:"version"`

	// CreatedAt is when the tape was recorded
	CreatedAt time.Time `json:"created_at"`

	// Model is the model used, if known
	Model string `json:"model,omitempty"`

	// Turns contains each model call in order
	Turns []Turn `json:"turns"`

	// Metadata holds arbitrary metadata
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Turn represents a single model call.
type Turn struct {
	// Index is the 0-based call number
	Index int `json:"index"`

	Kind TurnKind `json:"kind"`

	// Request is the request sent to the model
	Request *agent.ModelRequest `json:"request"`

	// Response is the result of a create call
	Response *agent.ModelResponse `json:"response,omitempty"`

	// Events are the events of a stream call, in order
	Events []agent.StreamEvent `json:"events,omitempty"`

	// Error is the failure of the call, if any (as string for serialization)
	Error string `json:"error,omitempty"`

	// Duration is how long the call took
	Duration time.Duration `json:"duration"`
}

// NewTape creates a new empty tape.
func NewTape() *Tape {
	return &Tape{
		Version:   "1.0",
		CreatedAt: time.Now(),
		Turns:     []Turn{},
		Metadata:  make(map[string]any),
	}
}

// AddTurn adds a turn to the tape.
func (t *Tape) AddTurn(turn Turn) {
	turn.Index = len(t.Turns)
	t.Turns = append(t.Turns, turn)
}

// GetTurn returns the turn at the given index.
func (t *Tape) GetTurn(index int) (*Turn, bool) {
	if index < 0 || index >= len(t.Turns) {
		return nil, false
	}
	return &t.Turns[index], true
}

// TotalTurns returns the number of turns in the tape.
func (t *Tape) TotalTurns() int {
	return len(t.Turns)
}

// Marshal serializes the tape to JSON.
func (t *Tape) Marshal() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// Unmarshal deserializes a tape from JSON.
func Unmarshal(data []byte) (*Tape, error) {
	var tape Tape
	if err := json.Unmarshal(data, &tape); err != nil {
		return nil, err
	}
	if tape.Turns == nil {
		tape.Turns = []Turn{}
	}
	return &tape, nil
}

// WriteFile saves the tape to path.
func (t *Tape) WriteFile(path string) error {
	data, err := t.Marshal()
	if err != nil {
		return fmt.Errorf("marshal tape: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ReadFile loads a tape saved with WriteFile.
func ReadFile(path string) (*Tape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tape: %w", err)
	}
	tape, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parse tape %s: %w", path, err)
	}
	return tape, nil
}

// Clone creates a deep copy of the tape.
func (t *Tape) Clone() *Tape {
	data, err := t.Marshal()
	if err == nil {
		if clone, err := Unmarshal(data); err == nil {
			return clone
		}
	}
	clone := *t
	if t.Metadata != nil {
		clone.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}
	clone.Turns = append([]Turn(nil), t.Turns...)
	return &clone
}

// Summary returns a brief summary of the tape contents.
func (t *Tape) Summary() TapeSummary {
	s := TapeSummary{
		Version:   t.Version,
		CreatedAt: t.CreatedAt,
		Model:     t.Model,
		TurnCount: len(t.Turns),
	}
	for _, turn := range t.Turns {
		switch turn.Kind {
		case TurnCreate:
			s.CreateCount++
			s.ToolCallCount += len(turn.Response.ToolCalls())
		case TurnStream:
			s.StreamCount++
			for _, ev := range turn.Events {
				if ev.Type == agent.StreamEventTextDelta {
					s.TotalTextLen += len(ev.Delta)
				}
			}
		}
		if turn.Error != "" {
			s.ErrorCount++
		}
	}
	return s
}

// TapeSummary is a brief overview of a tape.
type TapeSummary struct {
	Version       string    `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	Model         string    `json:"model,omitempty"`
	TurnCount     int       `json:"turn_count"`
	CreateCount   int       `json:"create_count"`
	StreamCount   int       `json:"stream_count"`
	ToolCallCount int       `json:"tool_call_count"`
	ErrorCount    int       `json:"error_count"`
	TotalTextLen  int       `json:"total_text_len"`
}
