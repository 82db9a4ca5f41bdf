package tape

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/haasonsaas/notesagent/internal/agent"
)

// ErrTapeExhausted indicates the tape has no more turns to replay.
var ErrTapeExhausted = errors.New("tape exhausted: no more turns to replay")

// ErrTapeMismatch indicates a mismatch between expected and actual requests.
var ErrTapeMismatch = errors.New("tape mismatch: request differs from recorded")

// ReplayMode controls how strictly the replayer matches requests.
type ReplayMode int

const (
	// ReplayStrict records request differences as mismatches
	ReplayStrict ReplayMode = iota

	// ReplayLoose ignores request differences and just returns recorded responses
	ReplayLoose
)

// Replayer replays a recorded tape as an agent.ModelClient.
type Replayer struct {
	tape       *Tape
	mode       ReplayMode
	turnIdx    int
	mu         sync.Mutex
	mismatches []Mismatch
}

var _ agent.ModelClient = (*Replayer)(nil)

// Mismatch records a difference between expected and actual values.
type Mismatch struct {
	TurnIndex int    `json:"turn_index"`
	Field     string `json:"field"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
}

// NewReplayer creates a replayer from a tape.
func NewReplayer(tape *Tape) *Replayer {
	return &Replayer{
		tape: tape.Clone(), // Clone to avoid mutation
		mode: ReplayLoose,
	}
}

// WithMode sets the replay mode.
func (r *Replayer) WithMode(mode ReplayMode) *Replayer {
	r.mode = mode
	return r
}

// next returns the next turn, which must be of the given kind.
func (r *Replayer) next(kind TurnKind, req *agent.ModelRequest) (Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.turnIdx >= len(r.tape.Turns) {
		return Turn{}, ErrTapeExhausted
	}
	turn := r.tape.Turns[r.turnIdx]
	r.turnIdx++

	if turn.Kind != kind {
		return Turn{}, fmt.Errorf("%w: turn %d is a %s call, got %s", ErrTapeMismatch, turn.Index, turn.Kind, kind)
	}
	if r.mode == ReplayStrict && turn.Request != nil {
		r.checkMismatches(turn.Index, req, turn.Request)
	}
	return turn, nil
}

// Create implements agent.ModelClient, returning the recorded response.
func (r *Replayer) Create(ctx context.Context, req *agent.ModelRequest) (*agent.ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	turn, err := r.next(TurnCreate, req)
	if err != nil {
		return nil, err
	}
	if turn.Error != "" {
		return nil, errors.New(turn.Error)
	}
	return turn.Response, nil
}

// Stream implements agent.ModelClient, returning the recorded events.
// A recorded failure with no events fails the open; otherwise it ends the stream.
func (r *Replayer) Stream(ctx context.Context, req *agent.ModelRequest) (agent.ModelStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	turn, err := r.next(TurnStream, req)
	if err != nil {
		return nil, err
	}
	if turn.Error != "" && len(turn.Events) == 0 {
		return nil, errors.New(turn.Error)
	}
	stream := &replayStream{ctx: ctx, events: turn.Events}
	if turn.Error != "" {
		stream.endErr = errors.New(turn.Error)
	}
	return stream, nil
}

// checkMismatches compares requests and records any differences.
// The caller holds r.mu.
func (r *Replayer) checkMismatches(turnIndex int, actual, expected *agent.ModelRequest) {
	add := func(field, want, got string) {
		if want != got {
			r.mismatches = append(r.mismatches, Mismatch{
				TurnIndex: turnIndex,
				Field:     field,
				Expected:  want,
				Actual:    got,
			})
		}
	}
	if expected.Model != "" {
		add("model", expected.Model, actual.Model)
	}
	add("tool_choice", string(expected.ToolChoice), string(actual.ToolChoice))
	add("previous_response_id", expected.PreviousResponseID, actual.PreviousResponseID)
	add("input_count", fmt.Sprintf("%d", len(expected.Input)), fmt.Sprintf("%d", len(actual.Input)))
}

// Mismatches returns any recorded mismatches from strict mode.
func (r *Replayer) Mismatches() []Mismatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mismatch{}, r.mismatches...)
}

// Reset resets the replayer to the beginning.
func (r *Replayer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turnIdx = 0
	r.mismatches = nil
}

// CurrentTurn returns the current turn index.
func (r *Replayer) CurrentTurn() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turnIdx
}

type replayStream struct {
	ctx     context.Context
	events  []agent.StreamEvent
	idx     int
	current agent.StreamEvent
	endErr  error
	err     error
}

func (s *replayStream) Next() bool {
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	if s.idx >= len(s.events) {
		s.err = s.endErr
		return false
	}
	s.current = s.events[s.idx]
	s.idx++
	return true
}

func (s *replayStream) Event() agent.StreamEvent { return s.current }
func (s *replayStream) Err() error               { return s.err }
func (s *replayStream) Close() error             { return nil }
