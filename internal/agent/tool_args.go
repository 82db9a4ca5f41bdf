package agent

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/notesagent/pkg/models"
)

// ToolArgs is the narrowed, bounds-checked argument set of one tool call.
// The concrete type is one of SearchArgs, CreateArgs, UpdateArgs or DeleteArgs.
type ToolArgs interface {
	ToolName() string
	isToolArgs()
}

// SearchArgs are the arguments of search_notes.
type SearchArgs struct {
	Query        *string
	Tags         []string
	MatchAllTags bool
	NoteType     *models.NoteType
	IsArchived   *bool
	Limit        int
	Alpha        float64
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	UpdatedFrom  *time.Time
	UpdatedTo    *time.Time
}

// CreateArgs are the arguments of create_note.
type CreateArgs struct {
	Title    *string
	Content  *string
	NoteType models.NoteType
}

// UpdateArgs are the arguments of update_note. Nil fields are left unchanged.
type UpdateArgs struct {
	ID         string
	Title      *string
	Content    *string
	NoteType   *models.NoteType
	IsArchived *bool
}

// DeleteArgs are the arguments of delete_note.
type DeleteArgs struct {
	ID string
}

func (SearchArgs) ToolName() string { return ToolSearchNotes }
func (CreateArgs) ToolName() string { return ToolCreateNote }
func (UpdateArgs) ToolName() string { return ToolUpdateNote }
func (DeleteArgs) ToolName() string { return ToolDeleteNote }

func (SearchArgs) isToolArgs() {}
func (CreateArgs) isToolArgs() {}
func (UpdateArgs) isToolArgs() {}
func (DeleteArgs) isToolArgs() {}

// ParseToolArgs converts arguments, already narrowed to the declared keys by
// ToolRegistry.Narrow, into the typed variant for name. Out-of-range numbers are clamped and
// unparseable optional values are treated as absent; the only errors are an
// unknown tool and a missing note id.
func ParseToolArgs(name string, raw map[string]any) (ToolArgs, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	switch name {
	case ToolSearchNotes:
		return parseSearchArgs(raw), nil
	case ToolCreateNote:
		args := CreateArgs{
			Title:    stringArg(raw, "title"),
			Content:  stringArg(raw, "content"),
			NoteType: models.NoteTypeNote,
		}
		if nt := noteTypeArg(raw, "note_type"); nt != nil {
			args.NoteType = *nt
		}
		return args, nil
	case ToolUpdateNote:
		id := idArg(raw)
		if id == "" {
			return nil, fmt.Errorf("%s: missing required argument: id", name)
		}
		return UpdateArgs{
			ID:         id,
			Title:      stringArg(raw, "title"),
			Content:    stringArg(raw, "content"),
			NoteType:   noteTypeArg(raw, "note_type"),
			IsArchived: boolArg(raw, "is_archived"),
		}, nil
	case ToolDeleteNote:
		id := idArg(raw)
		if id == "" {
			return nil, fmt.Errorf("%s: missing required argument: id", name)
		}
		return DeleteArgs{ID: id}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

func parseSearchArgs(raw map[string]any) SearchArgs {
	args := SearchArgs{
		Tags:        stringSliceArg(raw, "tags"),
		NoteType:    noteTypeArg(raw, "note_type"),
		IsArchived:  boolArg(raw, "is_archived"),
		Limit:       DefaultSearchLimit,
		Alpha:       DefaultSearchAlpha,
		CreatedFrom: timeArg(raw, "created_from"),
		CreatedTo:   timeArg(raw, "created_to"),
		UpdatedFrom: timeArg(raw, "updated_from"),
		UpdatedTo:   timeArg(raw, "updated_to"),
	}
	if q := stringArg(raw, "query"); q != nil && strings.TrimSpace(*q) != "" {
		args.Query = q
	}
	if m := boolArg(raw, "match_all_tags"); m != nil {
		args.MatchAllTags = *m
	}
	if limit, ok := numberArg(raw, "limit"); ok {
		limit = math.Max(MinSearchLimit, math.Min(math.Trunc(limit), MaxSearchLimit))
		args.Limit = int(limit)
	}
	if alpha, ok := numberArg(raw, "alpha"); ok {
		args.Alpha = ClampAlpha(alpha)
	}
	return args
}

// ClampLimit bounds a search limit to [MinSearchLimit, MaxSearchLimit].
func ClampLimit(limit int) int {
	return max(MinSearchLimit, min(limit, MaxSearchLimit))
}

// ClampAlpha bounds the semantic weighting to [0, 1].
func ClampAlpha(alpha float64) float64 {
	if math.IsNaN(alpha) {
		return DefaultSearchAlpha
	}
	return math.Max(0, math.Min(alpha, 1))
}

// ParseDateTime parses an ISO 8601 timestamp permissively. A trailing "Z",
// an explicit offset, a missing zone (read as UTC) and a bare date are
// accepted. It returns false for anything else.
func ParseDateTime(value string) (time.Time, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		time.DateOnly,
	} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func idArg(raw map[string]any) string {
	if id := stringArg(raw, "id"); id != nil {
		return strings.TrimSpace(*id)
	}
	return ""
}

func stringArg(raw map[string]any, key string) *string {
	s, ok := raw[key].(string)
	if !ok {
		return nil
	}
	return &s
}

func boolArg(raw map[string]any, key string) *bool {
	switch v := raw[key].(type) {
	case bool:
		return &v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return &b
		}
	}
	return nil
}

func numberArg(raw map[string]any, key string) (float64, bool) {
	switch v := raw[key].(type) {
	case float64:
		return v, !math.IsNaN(v)
	case int:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && !math.IsNaN(f) {
			return f, true
		}
	}
	return 0, false
}

func stringSliceArg(raw map[string]any, key string) []string {
	items, ok := raw[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func noteTypeArg(raw map[string]any, key string) *models.NoteType {
	s := stringArg(raw, key)
	if s == nil {
		return nil
	}
	nt, ok := models.ParseNoteType(*s)
	if !ok {
		return nil
	}
	return &nt
}

func timeArg(raw map[string]any, key string) *time.Time {
	s := stringArg(raw, key)
	if s == nil {
		return nil
	}
	t, ok := ParseDateTime(*s)
	if !ok {
		return nil
	}
	return &t
}
