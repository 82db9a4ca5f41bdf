package agent

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/haasonsaas/notesagent/pkg/models"
)

func TestParseToolArgs_SearchBounds(t *testing.T) {
	tests := []struct {
		name      string
		raw       map[string]any
		wantLimit int
		wantAlpha float64
	}{
		{"defaults", map[string]any{}, DefaultSearchLimit, DefaultSearchAlpha},
		{"nulls", map[string]any{"limit": nil, "alpha": nil}, DefaultSearchLimit, DefaultSearchAlpha},
		{"limit above max", map[string]any{"limit": 500.0}, MaxSearchLimit, DefaultSearchAlpha},
		{"limit zero", map[string]any{"limit": 0.0}, MinSearchLimit, DefaultSearchAlpha},
		{"negative limit", map[string]any{"limit": -3.0}, MinSearchLimit, DefaultSearchAlpha},
		{"fractional limit", map[string]any{"limit": 30.9}, 30, DefaultSearchAlpha},
		{"huge limit", map[string]any{"limit": 1e300}, MaxSearchLimit, DefaultSearchAlpha},
		{"numeric string limit", map[string]any{"limit": "15"}, 15, DefaultSearchAlpha},
		{"garbage limit", map[string]any{"limit": "lots"}, DefaultSearchLimit, DefaultSearchAlpha},
		{"alpha above one", map[string]any{"alpha": 1.7}, DefaultSearchLimit, 1},
		{"alpha below zero", map[string]any{"alpha": -0.2}, DefaultSearchLimit, 0},
		{"alpha in range", map[string]any{"alpha": 0.8}, DefaultSearchLimit, 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseToolArgs(ToolSearchNotes, tt.raw)
			if err != nil {
				t.Fatalf("ParseToolArgs: %v", err)
			}
			search, ok := args.(SearchArgs)
			if !ok {
				t.Fatalf("got %T, want SearchArgs", args)
			}
			if search.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", search.Limit, tt.wantLimit)
			}
			if search.Alpha != tt.wantAlpha {
				t.Errorf("Alpha = %v, want %v", search.Alpha, tt.wantAlpha)
			}
		})
	}
}

func TestParseToolArgs_SearchFilters(t *testing.T) {
	raw := map[string]any{
		"query":          "  banana bread ",
		"tags":           []any{"baking", "", 7, "family"},
		"match_all_tags": true,
		"note_type":      "Recipe",
		"is_archived":    "false",
		"created_from":   "2025-01-01",
		"created_to":     "2025-01-31T23:59:59Z",
		"updated_from":   "not a date",
		"updated_to":     "2025-02-01T10:00:00+02:00",
		"hallucinated":   "ignored",
	}
	args, err := ParseToolArgs(ToolSearchNotes, raw)
	if err != nil {
		t.Fatalf("ParseToolArgs: %v", err)
	}
	search := args.(SearchArgs)

	if search.Query == nil || *search.Query != "  banana bread " {
		t.Errorf("Query = %v", search.Query)
	}
	if !reflect.DeepEqual(search.Tags, []string{"baking", "family"}) {
		t.Errorf("Tags = %v", search.Tags)
	}
	if !search.MatchAllTags {
		t.Error("MatchAllTags should be true")
	}
	if search.NoteType == nil || *search.NoteType != models.NoteTypeRecipe {
		t.Errorf("NoteType = %v", search.NoteType)
	}
	if search.IsArchived == nil || *search.IsArchived {
		t.Errorf("IsArchived = %v, want false", search.IsArchived)
	}
	if search.CreatedFrom == nil || !search.CreatedFrom.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedFrom = %v", search.CreatedFrom)
	}
	if search.CreatedTo == nil || !search.CreatedTo.Equal(time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC)) {
		t.Errorf("CreatedTo = %v", search.CreatedTo)
	}
	if search.UpdatedFrom != nil {
		t.Errorf("unparseable date should be absent, got %v", search.UpdatedFrom)
	}
	if search.UpdatedTo == nil || !search.UpdatedTo.Equal(time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("UpdatedTo = %v", search.UpdatedTo)
	}
}

func TestParseToolArgs_BlankQueryIsAbsent(t *testing.T) {
	args, _ := ParseToolArgs(ToolSearchNotes, map[string]any{"query": "   "})
	if q := args.(SearchArgs).Query; q != nil {
		t.Errorf("Query = %q, want nil", *q)
	}
}

func TestParseToolArgs_InvalidNoteType(t *testing.T) {
	search, _ := ParseToolArgs(ToolSearchNotes, map[string]any{"note_type": "memo"})
	if search.(SearchArgs).NoteType != nil {
		t.Error("unknown note type should be absent for search")
	}
	create, _ := ParseToolArgs(ToolCreateNote, map[string]any{"title": "x", "note_type": "memo"})
	if got := create.(CreateArgs).NoteType; got != models.NoteTypeNote {
		t.Errorf("create note type = %q, want note", got)
	}
	update, _ := ParseToolArgs(ToolUpdateNote, map[string]any{"id": "n1", "note_type": 42.0})
	if update.(UpdateArgs).NoteType != nil {
		t.Error("non-string note type should be absent for update")
	}
}

func TestParseToolArgs_Mutations(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		args, err := ParseToolArgs(ToolCreateNote, map[string]any{"title": "Groceries", "content": nil, "note_type": "task"})
		if err != nil {
			t.Fatalf("ParseToolArgs: %v", err)
		}
		create := args.(CreateArgs)
		if create.Title == nil || *create.Title != "Groceries" || create.Content != nil || create.NoteType != models.NoteTypeTask {
			t.Errorf("CreateArgs = %+v", create)
		}
		if create.ToolName() != ToolCreateNote {
			t.Errorf("ToolName = %q", create.ToolName())
		}
	})

	t.Run("update", func(t *testing.T) {
		args, err := ParseToolArgs(ToolUpdateNote, map[string]any{"id": " n1 ", "is_archived": true, "title": nil})
		if err != nil {
			t.Fatalf("ParseToolArgs: %v", err)
		}
		update := args.(UpdateArgs)
		if update.ID != "n1" || update.IsArchived == nil || !*update.IsArchived || update.Title != nil {
			t.Errorf("UpdateArgs = %+v", update)
		}
	})

	t.Run("delete", func(t *testing.T) {
		args, err := ParseToolArgs(ToolDeleteNote, map[string]any{"id": "n2"})
		if err != nil {
			t.Fatalf("ParseToolArgs: %v", err)
		}
		if args.(DeleteArgs).ID != "n2" {
			t.Errorf("DeleteArgs = %+v", args)
		}
	})

	for _, name := range []string{ToolUpdateNote, ToolDeleteNote} {
		t.Run(name+" without id", func(t *testing.T) {
			if _, err := ParseToolArgs(name, map[string]any{"id": "  "}); err == nil {
				t.Error("expected missing id error")
			}
			if _, err := ParseToolArgs(name, nil); err == nil {
				t.Error("expected missing id error for nil arguments")
			}
		})
	}
}

func TestParseToolArgs_UnknownTool(t *testing.T) {
	_, err := ParseToolArgs("foo", map[string]any{})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
}

func TestClampHelpers(t *testing.T) {
	if got := ClampLimit(0); got != 1 {
		t.Errorf("ClampLimit(0) = %d", got)
	}
	if got := ClampLimit(500); got != 200 {
		t.Errorf("ClampLimit(500) = %d", got)
	}
	if got := ClampLimit(42); got != 42 {
		t.Errorf("ClampLimit(42) = %d", got)
	}
	if got := ClampAlpha(math.NaN()); got != DefaultSearchAlpha {
		t.Errorf("ClampAlpha(NaN) = %v", got)
	}
	if got := ClampAlpha(2); got != 1 {
		t.Errorf("ClampAlpha(2) = %v", got)
	}
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2025-03-01T10:15:30Z", time.Date(2025, 3, 1, 10, 15, 30, 0, time.UTC), true},
		{"2025-03-01T10:15:30.250Z", time.Date(2025, 3, 1, 10, 15, 30, 250_000_000, time.UTC), true},
		{"2025-03-01T10:15:30-05:00", time.Date(2025, 3, 1, 15, 15, 30, 0, time.UTC), true},
		{"2025-03-01T10:15:30", time.Date(2025, 3, 1, 10, 15, 30, 0, time.UTC), true},
		{"2025-03-01T10:15", time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC), true},
		{"2025-03-01 10:15:30", time.Date(2025, 3, 1, 10, 15, 30, 0, time.UTC), true},
		{" 2025-03-01 ", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"yesterday", time.Time{}, false},
		{"2025-13-01", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDateTime(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
