// Package enrichment runs the background work that follows a note write:
// embedding the note for semantic search and suggesting organizational tags.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/notesagent/internal/backoff"
	"github.com/haasonsaas/notesagent/internal/observability"
	"github.com/haasonsaas/notesagent/pkg/models"
)

// DefaultTagModel is the model used for tag suggestions when none is configured.
const DefaultTagModel = "gpt-5-nano"

const tagInstructions = "You are extracting concise organizational tags from a personal note. " +
	"Return JSON only, matching the provided schema.\n" +
	"- Prefer reusing existing tags from tag_vocab; only propose a new tag if no suitable existing tag fits.\n" +
	"- Reuse or refine the note's existing_tags when appropriate. Keep tags lowercase, max 5.\n" +
	"- Tags should be compact hints (dates, people, places, tasks, priority, sources)."

// TagSuggestion is the structured answer of the tagging model.
type TagSuggestion struct {
	Tags []string `json:"tags" jsonschema:"description=List of tags for the note; maximum 5 tags,maxItems=5"`
}

var (
	suggestionSchemaOnce sync.Once
	suggestionSchema     *jsonschema.Schema
)

// SuggestionSchema returns the JSON schema sent as the response format.
func SuggestionSchema() *jsonschema.Schema {
	suggestionSchemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference: true,
			ExpandedStruct: true,
		}
		suggestionSchema = r.Reflect(&TagSuggestion{})
		suggestionSchema.Version = ""
	})
	return suggestionSchema
}

// TaggerConfig configures a Tagger.
type TaggerConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	ReasoningEffort string

	MaxRetries int
	Backoff    backoff.Policy
	Logger     *observability.Logger
}

// Tagger asks a chat model for tags that fit a note.
type Tagger struct {
	client          *openai.Client
	model           string
	reasoningEffort string
	maxRetries      int
	policy          backoff.Policy
	logger          *observability.Logger
}

// NewTagger creates a Tagger.
func NewTagger(cfg TaggerConfig) (*Tagger, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultTagModel
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = backoff.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &Tagger{
		client:          openai.NewClientWithConfig(config),
		model:           cfg.Model,
		reasoningEffort: cfg.ReasoningEffort,
		maxRetries:      max(cfg.MaxRetries, 0),
		policy:          cfg.Backoff,
		logger:          cfg.Logger,
	}, nil
}

// SuggestTags returns up to five tags for the note, preferring entries of
// vocab and existing. A note without text or a refused request yields no tags.
func (t *Tagger) SuggestTags(ctx context.Context, title, content *string, vocab, existing []string) ([]string, error) {
	text := models.EmbeddingText(title, content)
	if text == "" {
		t.logger.Warn(ctx, "no text content available for enrichment")
		return nil, nil
	}

	noteContext, err := json.Marshal(map[string][]string{
		"tag_vocab":     nonNil(vocab),
		"existing_tags": nonNil(existing),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tag context: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: tagInstructions},
			{Role: openai.ChatMessageRoleUser, Content: "NOTE:\n" + text + "\n\nCONTEXT:\n" + string(noteContext)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "note_enrichment",
				Schema: SuggestionSchema(),
				Strict: true,
			},
		},
		ReasoningEffort: t.reasoningEffort,
	}

	resp, err := backoff.Retry(ctx, t.policy, t.maxRetries+1, isRetryable,
		func(ctx context.Context, _ int) (openai.ChatCompletionResponse, error) {
			return t.client.CreateChatCompletion(ctx, req)
		})
	if err != nil {
		return nil, fmt.Errorf("tag completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("tag completion returned no choices")
	}

	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		t.logger.Warn(ctx, "model refused to tag note", "refusal", msg.Refusal)
		return nil, nil
	}

	var suggestion TagSuggestion
	if err := json.Unmarshal([]byte(strings.TrimSpace(msg.Content)), &suggestion); err != nil {
		return nil, fmt.Errorf("parse tag suggestion: %w", err)
	}
	if len(suggestion.Tags) > models.MaxTags {
		suggestion.Tags = suggestion.Tags[:models.MaxTags]
	}
	return suggestion.Tags, nil
}

// MergeTags puts suggested tags ahead of the existing ones, trimmed,
// lowercased and deduplicated, then applies note tag normalization.
func MergeTags(suggested, existing []string) []string {
	merged := make([]string, 0, len(suggested)+len(existing))
	seen := make(map[string]struct{}, len(suggested)+len(existing))
	for _, tag := range append(append([]string{}, suggested...), existing...) {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		merged = append(merged, t)
	}
	return models.NormalizeTags(merged)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isRetryable retries rate limits and server errors.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return false
}
