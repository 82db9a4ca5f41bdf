package agent

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/notesagent/internal/observability"
	"github.com/haasonsaas/notesagent/pkg/models"
)

// MaxModelTurns bounds the non-streamed model round trips of one chat run.
// A run that still has tool calls pending after this many turns is finalized
// with whatever tool output it has.
const MaxModelTurns = 3

// TaxonomySource provides the tag vocabulary advertised in the instructions.
type TaxonomySource interface {
	TagVocabulary(ctx context.Context, userID string) ([]string, error)
}

// Config configures the chat loop.
type Config struct {
	// Model is the model identifier sent with every request.
	// Default: gpt-5
	Model string

	// ReasoningEffort is forwarded to reasoning models.
	// Default: medium
	ReasoningEffort string

	// TextVerbosity is forwarded to models that support it.
	// Default: low
	TextVerbosity string

	// Taxonomy supplies the user's known tags. Nil advertises none.
	Taxonomy TaxonomySource

	// Now is the clock used for the date line of the instructions.
	// Default: time.Now
	Now func() time.Time

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:           "gpt-5",
		ReasoningEffort: "medium",
		TextVerbosity:   "low",
		Now:             time.Now,
	}
}

func sanitizeConfig(config *Config) *Config {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Now == nil {
		cfg.Now = defaults.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	return &cfg
}

// Agent runs chat turns against the model endpoint and the note tools.
//
// A chat run is a small state machine:
//
//	AwaitingModel ──tool calls──▶ ToolsPending ──outputs──▶ AwaitingModel
//	      │                                                     │
//	      │ no tool calls                          turn budget spent
//	      ▼                                                     ▼
//	  Finalizing ◀──────────────────────────────────────────────┘
//	      │
//	      ▼
//	  Finalized | Aborted
//
// An Agent holds no per-run state and is safe for concurrent use.
type Agent struct {
	model      ModelClient
	registry   *ToolRegistry
	dispatcher *Dispatcher
	config     *Config
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// NewAgent creates an agent. If config is nil, DefaultConfig is used.
func NewAgent(model ModelClient, registry *ToolRegistry, dispatcher *Dispatcher, config *Config) (*Agent, error) {
	if model == nil {
		return nil, ErrNoModel
	}
	if registry == nil {
		return nil, errors.New("tool registry is nil")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is nil")
	}
	config = sanitizeConfig(config)
	return &Agent{
		model:      model,
		registry:   registry,
		dispatcher: dispatcher,
		config:     config,
		logger:     config.Logger,
		metrics:    config.Metrics,
		tracer:     config.Tracer,
	}, nil
}

// ChatRequest is one user message.
type ChatRequest struct {
	UserID  string
	Message string

	// PreviousResponseID resumes an earlier conversation.
	PreviousResponseID string
}

// LoopState tracks one chat run.
type LoopState struct {
	Phase     LoopPhase
	Turn      int
	ToolCalls int

	// Input is the next turn's input.
	Input []InputItem

	// ContinuationToken is sent with the next request.
	ContinuationToken string

	// LastResponseID is the id of the most recent model response.
	LastResponseID string

	Sources *SourceSet
}

func (s *LoopState) latestResponseID() string {
	if s.LastResponseID != "" {
		return s.LastResponseID
	}
	return s.ContinuationToken
}

// Chat starts a run and returns its event stream.
//
// The channel is unbuffered and closed after the terminal event. Cancel ctx to
// abandon the run; no further model calls are made and no events are sent
// after cancellation. A consumer that stops reading must cancel ctx.
func (a *Agent) Chat(ctx context.Context, req ChatRequest) (<-chan models.ChatEvent, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrMissingUser
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	events := make(chan models.ChatEvent)
	go func() {
		defer close(events)
		a.run(ctx, req, NewEventEmitter(events))
	}()
	return events, nil
}

func (a *Agent) run(ctx context.Context, req ChatRequest, emitter *EventEmitter) {
	start := time.Now()
	ctx = observability.AddUserID(ctx, req.UserID)
	if req.PreviousResponseID != "" {
		ctx = observability.AddConversationID(ctx, req.PreviousResponseID)
	}
	ctx, span := a.tracer.TraceChat(ctx, req.UserID, req.PreviousResponseID != "")
	defer span.End()

	state := &LoopState{
		Phase:             PhaseAwaitingModel,
		Input:             []InputItem{UserMessage(req.Message)},
		ContinuationToken: req.PreviousResponseID,
		Sources:           NewSourceSet(),
	}

	defer func() {
		outcome := string(emitter.Terminal())
		if outcome == "" {
			outcome = "cancelled"
		}
		a.metrics.RecordChatRun(outcome, state.Turn)
		a.tracer.SetAttributes(span, "outcome", outcome, "turns", state.Turn, "tool_calls", state.ToolCalls)
		a.logger.Info(ctx, "chat run finished",
			"outcome", outcome,
			"phase", state.Phase,
			"turns", state.Turn,
			"tool_calls", state.ToolCalls,
			"source_count", state.Sources.Len(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	a.logger.Info(ctx, "starting chat run",
		"message_length", utf8.RuneCountInString(req.Message),
		"resumed", req.PreviousResponseID != "",
	)
	instructions := a.instructions(ctx, req.UserID)

	for state.Turn < MaxModelTurns {
		if ctx.Err() != nil {
			return
		}
		state.Turn++
		state.Phase = PhaseAwaitingModel
		a.logger.Debug(ctx, "agent turn", "turn", state.Turn)

		resp, err := a.create(ctx, a.request(state, instructions, ToolChoiceAuto), state.Turn)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			state.Phase = PhaseAborted
			loopErr := &LoopError{Phase: PhaseAwaitingModel, Turn: state.Turn, Cause: err}
			a.tracer.RecordError(span, loopErr)
			a.logger.Error(ctx, "model request failed", "error", loopErr)
			emitter.Error(ctx, MessageModelUnavailable)
			return
		}
		if resp.ID != "" {
			state.LastResponseID = resp.ID
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			a.logger.Info(ctx, "finalizing with streamed output",
				"turns", state.Turn,
				"source_count", state.Sources.Len(),
			)
			a.finalize(ctx, emitter, state, instructions)
			return
		}

		state.Phase = PhaseToolsPending
		a.logger.Info(ctx, "executing tool calls", "turn", state.Turn, "tool_count", len(calls))
		next, ok := a.executeTools(ctx, emitter, req.UserID, state, calls)
		if !ok {
			return
		}
		state.Input = next
		if resp.ID != "" {
			state.ContinuationToken = resp.ID
			ctx = observability.AddConversationID(ctx, resp.ID)
		}
	}

	a.logger.Warn(ctx, "turn budget exhausted, forcing final answer", "turns", state.Turn)
	a.finalize(ctx, emitter, state, instructions)
}

// executeTools dispatches a batch in order, keeping each call's tool_call and
// tool_result events adjacent. It returns false once the consumer is gone.
func (a *Agent) executeTools(ctx context.Context, emitter *EventEmitter, userID string, state *LoopState, calls []ToolCall) ([]InputItem, bool) {
	next := make([]InputItem, 0, len(calls))
	for _, call := range calls {
		if !emitter.ToolCall(ctx, call.Name, call.CallID, call.DecodedArguments()) {
			return nil, false
		}
		result := a.dispatcher.Dispatch(ctx, userID, call, state.Sources)
		state.ToolCalls++
		if !emitter.ToolResult(ctx, call.Name, call.CallID) {
			return nil, false
		}
		next = append(next, FunctionCallOutput(call.CallID, result.JSON()))

		a.logger.Info(ctx, "tool call completed",
			"tool_name", call.Name,
			"call_id", call.CallID,
			"status", result.Status,
			"result_summary", result.Summary(),
		)
	}
	return next, true
}

func (a *Agent) request(state *LoopState, instructions string, choice ToolChoice) *ModelRequest {
	return &ModelRequest{
		Model:              a.config.Model,
		Instructions:       instructions,
		Input:              state.Input,
		Tools:              a.registry.Definitions(),
		ToolChoice:         choice,
		PreviousResponseID: state.ContinuationToken,
		ReasoningEffort:    a.config.ReasoningEffort,
		TextVerbosity:      a.config.TextVerbosity,
	}
}

// create performs one non-streamed model call.
func (a *Agent) create(ctx context.Context, req *ModelRequest, turn int) (*ModelResponse, error) {
	ctx, span := a.tracer.TraceModelRequest(ctx, "create", req.Model, turn)
	defer span.End()

	start := time.Now()
	resp, err := a.model.Create(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("model returned no response")
	}
	status := "success"
	if err != nil {
		status = "error"
		a.tracer.RecordError(span, err)
	}
	a.metrics.RecordModelRequest("create", status, time.Since(start).Seconds())
	return resp, err
}

func (a *Agent) instructions(ctx context.Context, userID string) string {
	var tags []string
	if a.config.Taxonomy != nil {
		vocab, err := a.config.Taxonomy.TagVocabulary(ctx, userID)
		if err != nil {
			a.logger.Warn(ctx, "failed to retrieve user taxonomy", "error", err)
		} else {
			tags = vocab
		}
	}
	return BuildInstructions(tags, a.config.Now())
}
