package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/notesagent/internal/notes"
	"github.com/haasonsaas/notesagent/internal/observability"
	"github.com/haasonsaas/notesagent/pkg/models"
)

// NoteService is the note domain consumed by tool dispatch.
type NoteService interface {
	Search(ctx context.Context, userID string, params notes.SearchParams) ([]notes.SearchResult, error)
	Create(ctx context.Context, userID string, in notes.CreateInput) (*models.Note, error)
	// Update returns nil, nil when the note does not exist.
	Update(ctx context.Context, userID, noteID string, in notes.UpdateInput) (*models.Note, error)
	Delete(ctx context.Context, userID, noteID string) (bool, error)
}

// Embedder turns a search query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Enricher schedules background enrichment (embedding and tags) for a note
// that was just written. It must not block, and the work it starts must
// outlive ctx.
type Enricher interface {
	NoteChanged(ctx context.Context, userID string, note *models.Note)
}

// Tool dispatch statuses reported to metrics.
const (
	ToolStatusSuccess     = "success"
	ToolStatusNotFound    = "not_found"
	ToolStatusError       = "error"
	ToolStatusUnknownTool = "unknown_tool"
	ToolStatusInvalidArgs = "invalid_arguments"
	ToolStatusPanic       = "panic"
)

// ToolResult is the outcome of one dispatch. Exactly one of Output and Err is set.
type ToolResult struct {
	CallID string
	Name   string
	Status string
	Output any
	Err    error
}

// Payload returns the value handed back to the model.
func (r ToolResult) Payload() any {
	if r.Err != nil {
		return map[string]string{"error": r.Err.Error()}
	}
	return r.Output
}

// JSON encodes the payload for a function call output item.
func (r ToolResult) JSON() string {
	data, err := json.Marshal(r.Payload())
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return string(data)
}

// Summary returns a compact description of the result for logs.
func (r ToolResult) Summary() map[string]any {
	if r.Err != nil {
		return map[string]any{"error": r.Err.Error()}
	}
	switch out := r.Output.(type) {
	case SearchOutput:
		ids := make([]string, 0, 5)
		titles := make([]*string, 0, 3)
		for i, hit := range out.Results {
			if i < 5 {
				ids = append(ids, hit.ID)
			}
			if i < 3 {
				titles = append(titles, hit.Title)
			}
		}
		return map[string]any{"count": len(out.Results), "ids_sample": ids, "titles_sample": titles}
	case MutationOutput:
		return map[string]any{"status": out.Status, "id": out.ID}
	}
	return nil
}

// SearchOutput is the search_notes payload.
type SearchOutput struct {
	Results []SearchHit `json:"results"`
}

// SearchHit is one search_notes result.
type SearchHit struct {
	ID        string          `json:"id"`
	Title     *string         `json:"title"`
	Content   *string         `json:"content"`
	NoteType  models.NoteType `json:"note_type"`
	Tags      []string        `json:"tags"`
	Rank      float64         `json:"rank"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt *string         `json:"updated_at"`
}

// MutationOutput is the payload of create_note, update_note and delete_note.
type MutationOutput struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

// DispatcherConfig holds the optional collaborators of a Dispatcher.
type DispatcherConfig struct {
	// Embedder vectorizes search queries. Nil means lexical-only search.
	Embedder Embedder

	// Enricher receives created and updated notes. Nil disables enrichment.
	Enricher Enricher

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Dispatcher executes tool calls against the note domain.
// It never returns an error: every failure is folded into the ToolResult.
type Dispatcher struct {
	registry *ToolRegistry
	notes    NoteService
	embedder Embedder
	enricher Enricher
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewDispatcher creates a dispatcher for the registry's tools.
func NewDispatcher(registry *ToolRegistry, noteService NoteService, config DispatcherConfig) (*Dispatcher, error) {
	if registry == nil {
		return nil, errors.New("tool registry is nil")
	}
	if noteService == nil {
		return nil, ErrNoNotes
	}
	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Dispatcher{
		registry: registry,
		notes:    noteService,
		embedder: config.Embedder,
		enricher: config.Enricher,
		logger:   logger,
		metrics:  config.Metrics,
		tracer:   config.Tracer,
	}, nil
}

// Dispatch runs one tool call for userID, adding any note ids surfaced by a
// search to sources.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, call ToolCall, sources *SourceSet) (result ToolResult) {
	start := time.Now()
	ctx, span := d.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(ctx, "tool panicked",
				"tool_name", call.Name,
				"call_id", call.CallID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			result = d.failure(call, ToolStatusPanic, &ToolError{
				Tool:    call.Name,
				Message: fmt.Sprintf("tool %s failed unexpectedly", call.Name),
				Cause:   ErrToolPanic,
			})
		}
		if result.Err != nil {
			d.tracer.RecordError(span, result.Err)
		}
		d.tracer.SetAttributes(span, "status", result.Status)
		d.metrics.RecordToolExecution(call.Name, result.Status, time.Since(start).Seconds())
	}()

	raw := call.DecodedArguments()
	d.logger.Debug(ctx, "dispatching tool",
		"tool_name", call.Name,
		"call_id", call.CallID,
		"arguments", SanitizeArguments(raw),
	)

	if !d.registry.Has(call.Name) {
		d.logger.Warn(ctx, "unknown tool requested", "tool_name", call.Name)
		return d.failure(call, ToolStatusUnknownTool, &ToolError{
			Tool:    call.Name,
			Message: "Unknown tool: " + call.Name,
			Cause:   ErrUnknownTool,
		})
	}
	if err := d.registry.Validate(call.Name, raw); err != nil {
		d.logger.Debug(ctx, "tool arguments narrowed to declaration",
			"tool_name", call.Name,
			"validation", err.Error(),
		)
	}

	narrowed, dropped := d.registry.Narrow(call.Name, raw)
	if len(dropped) > 0 {
		d.logger.Debug(ctx, "undeclared tool arguments dropped",
			"tool_name", call.Name,
			"keys", dropped,
		)
	}

	args, err := ParseToolArgs(call.Name, narrowed)
	if err != nil {
		return d.failure(call, ToolStatusInvalidArgs, &ToolError{Tool: call.Name, Message: err.Error(), Cause: err})
	}

	var (
		output any
		status string
	)
	switch a := args.(type) {
	case SearchArgs:
		output, status, err = d.search(ctx, userID, a, sources)
	case CreateArgs:
		output, status, err = d.create(ctx, userID, a)
	case UpdateArgs:
		output, status, err = d.update(ctx, userID, a)
	case DeleteArgs:
		output, status, err = d.delete(ctx, userID, a)
	}
	if err != nil {
		d.logger.Error(ctx, "tool execution failed",
			"tool_name", call.Name,
			"call_id", call.CallID,
			"error", err,
		)
		return d.failure(call, ToolStatusError, &ToolError{Tool: call.Name, Message: err.Error(), Cause: err})
	}
	return ToolResult{CallID: call.CallID, Name: call.Name, Status: status, Output: output}
}

func (d *Dispatcher) failure(call ToolCall, status string, err error) ToolResult {
	return ToolResult{CallID: call.CallID, Name: call.Name, Status: status, Err: err}
}

func (d *Dispatcher) search(ctx context.Context, userID string, args SearchArgs, sources *SourceSet) (any, string, error) {
	d.logger.Info(ctx, "searching notes",
		"has_query", args.Query != nil,
		"query", truncateQuery(args.Query),
		"tags", args.Tags,
		"match_all_tags", args.MatchAllTags,
		"note_type", args.NoteType,
		"is_archived", args.IsArchived,
		"limit", args.Limit,
		"alpha", args.Alpha,
		"created_from", args.CreatedFrom,
		"created_to", args.CreatedTo,
		"updated_from", args.UpdatedFrom,
		"updated_to", args.UpdatedTo,
	)

	var embedding []float32
	if args.Query != nil && d.embedder != nil {
		vec, err := d.embedder.Embed(ctx, *args.Query)
		switch {
		case err == nil:
			embedding = vec
		case ctx.Err() != nil:
			return nil, "", ctx.Err()
		default:
			d.logger.Warn(ctx, "query embedding failed, falling back to lexical search", "error", err)
		}
	}

	results, err := d.notes.Search(ctx, userID, notes.SearchParams{
		Query:          args.Query,
		QueryEmbedding: embedding,
		Tags:           args.Tags,
		MatchAllTags:   args.MatchAllTags,
		NoteType:       args.NoteType,
		IsArchived:     args.IsArchived,
		Limit:          ClampLimit(args.Limit),
		Alpha:          ClampAlpha(args.Alpha),
		CreatedFrom:    args.CreatedFrom,
		CreatedTo:      args.CreatedTo,
		UpdatedFrom:    args.UpdatedFrom,
		UpdatedTo:      args.UpdatedTo,
	})
	if err != nil {
		return nil, "", fmt.Errorf("search notes: %w", err)
	}

	out := SearchOutput{Results: make([]SearchHit, 0, len(results))}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		out.Results = append(out.Results, newSearchHit(r))
		ids = append(ids, r.Note.ID)
	}
	added := 0
	if sources != nil {
		added = sources.Add(ids...)
	}

	summary := ToolResult{Output: out}.Summary()
	d.logger.Info(ctx, "search completed",
		"result_count", len(out.Results),
		"source_ids_added", added,
		"result_ids_sample", summary["ids_sample"],
		"top_titles_sample", summary["titles_sample"],
	)
	return out, ToolStatusSuccess, nil
}

func newSearchHit(r notes.SearchResult) SearchHit {
	tags := r.Note.Tags
	if tags == nil {
		tags = []string{}
	}
	hit := SearchHit{
		ID:        r.Note.ID,
		Title:     r.Note.Title,
		Content:   r.Note.Content,
		NoteType:  r.Note.NoteType,
		Tags:      tags,
		Rank:      r.Rank,
		CreatedAt: r.Note.CreatedAt.Format(time.RFC3339Nano),
	}
	if !r.Note.UpdatedAt.IsZero() {
		updated := r.Note.UpdatedAt.Format(time.RFC3339Nano)
		hit.UpdatedAt = &updated
	}
	return hit
}

func (d *Dispatcher) create(ctx context.Context, userID string, args CreateArgs) (any, string, error) {
	in := notes.CreateInput{
		Title:    models.NormalizeText(args.Title),
		Content:  models.NormalizeText(args.Content),
		NoteType: args.NoteType,
	}
	d.logger.Info(ctx, "creating note",
		"note_type", in.NoteType,
		"has_title", in.Title != nil,
		"content_length", textLength(in.Content),
	)
	if in.Title == nil && in.Content == nil {
		return nil, "", models.ErrEmptyNote
	}

	note, err := d.notes.Create(ctx, userID, in)
	if err != nil {
		return nil, "", fmt.Errorf("create note: %w", err)
	}
	d.logger.Info(ctx, "note created", "note_id", note.ID)
	d.enrich(ctx, userID, note)
	return MutationOutput{Status: ToolStatusSuccess, ID: note.ID}, ToolStatusSuccess, nil
}

func (d *Dispatcher) update(ctx context.Context, userID string, args UpdateArgs) (any, string, error) {
	in := notes.UpdateInput{
		Title:      models.NormalizeText(args.Title),
		Content:    models.NormalizeText(args.Content),
		NoteType:   args.NoteType,
		IsArchived: args.IsArchived,
	}
	d.logger.Info(ctx, "updating note", "note_id", args.ID, "fields_updated", updatedFields(in))

	note, err := d.notes.Update(ctx, userID, args.ID, in)
	if err != nil {
		return nil, "", fmt.Errorf("update note: %w", err)
	}
	if note == nil {
		d.logger.Warn(ctx, "note not found for update", "note_id", args.ID)
		return MutationOutput{Status: ToolStatusNotFound}, ToolStatusNotFound, nil
	}
	d.enrich(ctx, userID, note)
	d.logger.Info(ctx, "note updated", "note_id", note.ID)
	return MutationOutput{Status: ToolStatusSuccess, ID: note.ID}, ToolStatusSuccess, nil
}

func (d *Dispatcher) delete(ctx context.Context, userID string, args DeleteArgs) (any, string, error) {
	d.logger.Info(ctx, "deleting note", "note_id", args.ID)

	ok, err := d.notes.Delete(ctx, userID, args.ID)
	if err != nil {
		return nil, "", fmt.Errorf("delete note: %w", err)
	}
	if !ok {
		d.logger.Warn(ctx, "note not found for deletion", "note_id", args.ID)
		return MutationOutput{Status: ToolStatusNotFound}, ToolStatusNotFound, nil
	}
	d.logger.Info(ctx, "note deleted", "note_id", args.ID)
	return MutationOutput{Status: ToolStatusSuccess}, ToolStatusSuccess, nil
}

func (d *Dispatcher) enrich(ctx context.Context, userID string, note *models.Note) {
	if d.enricher == nil || note == nil {
		return
	}
	d.enricher.NoteChanged(ctx, userID, note)
}

func updatedFields(in notes.UpdateInput) []string {
	var fields []string
	if in.Title != nil {
		fields = append(fields, "title")
	}
	if in.Content != nil {
		fields = append(fields, "content")
	}
	if in.NoteType != nil {
		fields = append(fields, "note_type")
	}
	if in.IsArchived != nil {
		fields = append(fields, "is_archived")
	}
	return fields
}

const logTextLimit = 200

// SanitizeArguments returns a copy of tool arguments safe to log: long
// content is cut to its first 200 characters plus the original length.
func SanitizeArguments(args map[string]any) map[string]any {
	safe := make(map[string]any, len(args))
	for key, value := range args {
		if s, ok := value.(string); ok && key == "content" {
			if n := utf8.RuneCountInString(s); n > logTextLimit {
				safe[key] = fmt.Sprintf("%s... (%d chars)", truncateRunes(s, logTextLimit), n)
				continue
			}
		}
		safe[key] = value
	}
	return safe
}

func truncateQuery(q *string) any {
	if q == nil {
		return nil
	}
	if utf8.RuneCountInString(*q) > logTextLimit {
		return truncateRunes(*q, logTextLimit) + "..."
	}
	return *q
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func textLength(s *string) int {
	if s == nil {
		return 0
	}
	return utf8.RuneCountInString(*s)
}
