package tape

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/notesagent/internal/agent"
)

// Recorder wraps a model client to record all interactions.
// A stream turn is added to the tape when the stream is closed.
type Recorder struct {
	client agent.ModelClient
	tape   *Tape
	mu     sync.Mutex
}

var _ agent.ModelClient = (*Recorder)(nil)

// NewRecorder creates a new recorder wrapping the given client.
func NewRecorder(client agent.ModelClient) *Recorder {
	return &Recorder{
		client: client,
		tape:   NewTape(),
	}
}

// WithModel sets the model in the tape.
func (r *Recorder) WithModel(model string) *Recorder {
	r.tape.Model = model
	return r
}

// Create implements agent.ModelClient, recording the call.
func (r *Recorder) Create(ctx context.Context, req *agent.ModelRequest) (*agent.ModelResponse, error) {
	start := time.Now()
	resp, err := r.client.Create(ctx, req)

	turn := Turn{
		Kind:     TurnCreate,
		Request:  req,
		Response: resp,
		Duration: time.Since(start),
	}
	if err != nil {
		turn.Error = err.Error()
	}
	r.add(turn)
	return resp, err
}

// Stream implements agent.ModelClient, recording the events the consumer reads.
func (r *Recorder) Stream(ctx context.Context, req *agent.ModelRequest) (agent.ModelStream, error) {
	start := time.Now()
	stream, err := r.client.Stream(ctx, req)
	if err != nil {
		r.add(Turn{
			Kind:     TurnStream,
			Request:  req,
			Error:    err.Error(),
			Duration: time.Since(start),
		})
		return nil, err
	}
	return &recordingStream{
		ModelStream: stream,
		recorder:    r,
		turn:        Turn{Kind: TurnStream, Request: req},
		start:       start,
	}, nil
}

func (r *Recorder) add(turn Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tape.AddTurn(turn)
}

// Tape returns a copy of the recorded tape.
func (r *Recorder) Tape() *Tape {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tape.Clone()
}

// Reset clears the recording and starts fresh.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	model := r.tape.Model
	r.tape = NewTape()
	r.tape.Model = model
}

type recordingStream struct {
	agent.ModelStream
	recorder *Recorder
	turn     Turn
	start    time.Time
	once     sync.Once
}

func (s *recordingStream) Next() bool {
	if !s.ModelStream.Next() {
		return false
	}
	s.turn.Events = append(s.turn.Events, s.ModelStream.Event())
	return true
}

func (s *recordingStream) Close() error {
	s.once.Do(func() {
		if err := s.ModelStream.Err(); err != nil {
			s.turn.Error = err.Error()
		}
		s.turn.Duration = time.Since(s.start)
		s.recorder.add(s.turn)
	})
	return s.ModelStream.Close()
}
