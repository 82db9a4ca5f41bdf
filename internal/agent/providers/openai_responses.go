package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/haasonsaas/notesagent/internal/agent"
	"github.com/haasonsaas/notesagent/internal/backoff"
)

// OpenAIResponsesConfig configures the Responses API adapter.
type OpenAIResponsesConfig struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a proxy or tests.
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	// Default: gpt-5
	DefaultModel string

	// MaxRetries is the number of retries of a failed non-streamed call.
	// Streams are never retried; the chat loop has its own fallback.
	// Default: 0
	MaxRetries int

	// Backoff spaces out retries.
	Backoff backoff.Policy

	// RequestTimeout bounds each HTTP request. Zero means no timeout.
	RequestTimeout time.Duration
}

// OpenAIResponses implements agent.ModelClient on the OpenAI Responses API.
//
// Conversation state lives server side: every request is stored and later
// turns reference the previous response by id, so only the newest input
// items travel over the wire.
//
// Thread Safety:
// OpenAIResponses is safe for concurrent use. Each call creates an
// independent request or stream.
//
// Example:
//
//	client, err := NewOpenAIResponses(OpenAIResponsesConfig{APIKey: os.Getenv("OPENAI_API_KEY")})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := client.Create(ctx, &agent.ModelRequest{
//	    Input: []agent.InputItem{agent.UserMessage("what did I plan for friday?")},
//	})
type OpenAIResponses struct {
	BaseProvider
	client       openai.Client
	defaultModel string
}

var _ agent.ModelClient = (*OpenAIResponses)(nil)

// NewOpenAIResponses creates the adapter.
func NewOpenAIResponses(config OpenAIResponsesConfig) (*OpenAIResponses, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.RequestTimeout))
	}
	model := config.DefaultModel
	if model == "" {
		model = "gpt-5"
	}
	return &OpenAIResponses{
		BaseProvider: NewBaseProvider("openai", config.MaxRetries, config.Backoff),
		client:       openai.NewClient(opts...),
		defaultModel: model,
	}, nil
}

// Create sends a non-streamed request, retrying transient failures.
func (p *OpenAIResponses) Create(ctx context.Context, req *agent.ModelRequest) (*agent.ModelResponse, error) {
	params := p.buildParams(req)
	model := string(params.Model)

	resp, err := retry(ctx, &p.BaseProvider, func(ctx context.Context) (*responses.Response, error) {
		resp, err := p.client.Responses.New(ctx, params)
		if err != nil {
			return nil, NewProviderError(p.Name(), model, err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return convertResponse(resp), nil
}

// Stream opens a streamed request. Connection and HTTP errors surface from
// the first call to Next, through Err.
func (p *OpenAIResponses) Stream(ctx context.Context, req *agent.ModelRequest) (agent.ModelStream, error) {
	params := p.buildParams(req)
	stream := p.client.Responses.NewStreaming(ctx, params)
	if stream == nil {
		return nil, NewProviderError(p.Name(), string(params.Model), errors.New("stream not created"))
	}
	return &responsesStream{stream: stream, provider: p.Name(), model: string(params.Model)}, nil
}

func (p *OpenAIResponses) buildParams(req *agent.ModelRequest) responses.ResponseNewParams {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params := responses.ResponseNewParams{
		Model:      shared.ResponsesModel(model),
		Input:      responses.ResponseNewParamsInputUnion{OfInputItemList: convertInput(req.Input)},
		Store:      openai.Bool(true),
		Truncation: responses.ResponseNewParamsTruncationAuto,
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}
	if req.PreviousResponseID != "" {
		params.PreviousResponseID = openai.String(req.PreviousResponseID)
	}
	if req.ReasoningEffort != "" {
		params.Reasoning = shared.ReasoningParam{Effort: shared.ReasoningEffort(req.ReasoningEffort)}
	}
	// The SDK has no typed verbosity field yet.
	if req.TextVerbosity != "" {
		params.Text.SetExtraFields(map[string]any{"verbosity": req.TextVerbosity})
	}
	// A none tool choice is expressed by not declaring tools at all.
	if req.ToolChoice != agent.ToolChoiceNone && len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		params.ParallelToolCalls = openai.Bool(true)
	}
	return params
}

func convertInput(items []agent.InputItem) responses.ResponseInputParam {
	input := make(responses.ResponseInputParam, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case agent.InputItemFunctionCallOutput:
			input = append(input, responses.ResponseInputItemParamOfFunctionCallOutput(item.CallID, item.Output))
		default:
			role := responses.EasyInputMessageRoleUser
			switch item.Role {
			case "assistant":
				role = responses.EasyInputMessageRoleAssistant
			case "developer":
				role = responses.EasyInputMessageRoleDeveloper
			case "system":
				role = responses.EasyInputMessageRoleSystem
			}
			input = append(input, responses.ResponseInputItemParamOfMessage(item.Content, role))
		}
	}
	return input
}

func convertTools(defs []agent.ToolDefinition) []responses.ToolUnionParam {
	tools := make([]responses.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		tool := responses.ToolParamOfFunction(def.Name, def.Parameters, def.Strict)
		if def.Description != "" && tool.OfFunction != nil {
			tool.OfFunction.Description = openai.String(def.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func convertResponse(resp *responses.Response) *agent.ModelResponse {
	if resp == nil {
		return &agent.ModelResponse{}
	}
	out := &agent.ModelResponse{
		ID:         resp.ID,
		OutputText: resp.OutputText(),
	}
	for _, item := range resp.Output {
		switch item.Type {
		case "function_call":
			out.Output = append(out.Output, agent.OutputItem{
				Type:      agent.OutputItemFunctionCall,
				Name:      item.Name,
				Arguments: item.Arguments,
				CallID:    item.CallID,
			})
		case "message":
			var sb strings.Builder
			for _, content := range item.Content {
				if content.Type == "output_text" {
					sb.WriteString(content.Text)
				}
			}
			out.Output = append(out.Output, agent.OutputItem{Type: agent.OutputItemMessage, Text: sb.String()})
		case "reasoning":
			out.Output = append(out.Output, agent.OutputItem{Type: agent.OutputItemReasoning})
		}
	}
	return out
}

// responsesStream adapts the SDK event stream to agent.ModelStream.
type responsesStream struct {
	stream   *ssestream.Stream[responses.ResponseStreamEventUnion]
	provider string
	model    string
	current  agent.StreamEvent
}

func (s *responsesStream) Next() bool {
	if !s.stream.Next() {
		return false
	}
	event := s.stream.Current()
	s.current = agent.StreamEvent{Type: agent.StreamEventType(event.Type)}
	switch agent.StreamEventType(event.Type) {
	case agent.StreamEventTextDelta:
		s.current.Delta = event.AsResponseOutputTextDelta().Delta
	case agent.StreamEventCompleted:
		s.current.ResponseID = event.AsResponseCompleted().Response.ID
	case agent.StreamEventFailed:
		failed := event.AsResponseFailed().Response
		s.current.ResponseID = failed.ID
		s.current.Message = failed.Error.Message
	case agent.StreamEventError:
		s.current.Message = event.AsError().Message
	}
	return true
}

func (s *responsesStream) Event() agent.StreamEvent {
	return s.current
}

func (s *responsesStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return NewProviderError(s.provider, s.model, err)
	}
	return nil
}

func (s *responsesStream) Close() error {
	return s.stream.Close()
}
