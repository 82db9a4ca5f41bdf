package agent

import (
	"errors"
	"reflect"
	"sort"
	"testing"
)

func TestToolRegistry_Definitions(t *testing.T) {
	registry, err := NewToolRegistry()
	if err != nil {
		t.Fatalf("NewToolRegistry: %v", err)
	}

	want := []string{ToolSearchNotes, ToolCreateNote, ToolUpdateNote, ToolDeleteNote}
	var names []string
	for _, def := range registry.Definitions() {
		names = append(names, def.Name)
	}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("definition order = %v, want %v", names, want)
	}
	for _, def := range registry.Definitions() {
		if !def.Strict {
			t.Errorf("%s should be strict", def.Name)
		}
		if def.Description == "" {
			t.Errorf("%s has no description", def.Name)
		}
		if def.Parameters["additionalProperties"] != false {
			t.Errorf("%s must forbid additional properties", def.Name)
		}
		props, _ := def.Parameters["properties"].(map[string]any)
		required, _ := def.Parameters["required"].([]string)
		if len(props) != len(required) {
			t.Errorf("%s: %d properties but %d required", def.Name, len(props), len(required))
		}
	}
	if registry.Has("foo") || !registry.Has(ToolDeleteNote) {
		t.Error("Has reports the wrong membership")
	}
}

func TestToolRegistry_AllowedKeys(t *testing.T) {
	registry := MustToolRegistry()

	keys := registry.AllowedKeys(ToolSearchNotes)
	sort.Strings(keys)
	want := []string{
		"alpha", "created_from", "created_to", "is_archived", "limit", "match_all_tags",
		"note_type", "query", "tags", "updated_from", "updated_to",
	}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("search keys = %v", keys)
	}
	if got := registry.AllowedKeys(ToolDeleteNote); !reflect.DeepEqual(got, []string{"id"}) {
		t.Errorf("delete keys = %v", got)
	}
	if registry.AllowedKeys("foo") != nil {
		t.Error("unknown tool should have no keys")
	}
}

func TestPropertyKeys_IncludesOptional(t *testing.T) {
	params := map[string]any{
		"properties": map[string]any{"id": map[string]any{}, "title": map[string]any{}, "color": map[string]any{}},
		"required":   []string{"title", "id", "missing"},
	}
	want := []string{"title", "id", "color"}
	if got := propertyKeys(params); !reflect.DeepEqual(got, want) {
		t.Fatalf("propertyKeys = %v, want %v", got, want)
	}
}

func TestToolRegistry_Narrow(t *testing.T) {
	registry := MustToolRegistry()

	raw := map[string]any{"id": "n1", "user_id": "someone-else", "title": nil, "zzz": 1.0}
	narrowed, dropped := registry.Narrow(ToolUpdateNote, raw)
	if !reflect.DeepEqual(narrowed, map[string]any{"id": "n1", "title": nil}) {
		t.Errorf("narrowed = %v", narrowed)
	}
	if !reflect.DeepEqual(dropped, []string{"user_id", "zzz"}) {
		t.Errorf("dropped = %v", dropped)
	}
	if _, ok := raw["user_id"]; !ok {
		t.Error("Narrow must not modify its input")
	}

	narrowed, dropped = registry.Narrow("foo", map[string]any{"id": "n1"})
	if len(narrowed) != 0 || !reflect.DeepEqual(dropped, []string{"id"}) {
		t.Errorf("unknown tool: narrowed = %v, dropped = %v", narrowed, dropped)
	}
}

func TestToolRegistry_Validate(t *testing.T) {
	registry := MustToolRegistry()

	fullSearch := func(overrides map[string]any) map[string]any {
		args := map[string]any{
			"query": "recipes", "tags": nil, "match_all_tags": nil, "note_type": nil,
			"is_archived": nil, "limit": 30.0, "alpha": 0.5, "created_from": nil,
			"created_to": nil, "updated_from": nil, "updated_to": nil,
		}
		for k, v := range overrides {
			args[k] = v
		}
		return args
	}

	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		wantErr bool
	}{
		{"valid search", ToolSearchNotes, fullSearch(nil), false},
		{"typed note type", ToolSearchNotes, fullSearch(map[string]any{"note_type": "recipe"}), false},
		{"limit out of bounds", ToolSearchNotes, fullSearch(map[string]any{"limit": 500.0}), true},
		{"alpha out of bounds", ToolSearchNotes, fullSearch(map[string]any{"alpha": 1.5}), true},
		{"unknown note type", ToolSearchNotes, fullSearch(map[string]any{"note_type": "memo"}), true},
		{"extra key", ToolSearchNotes, fullSearch(map[string]any{"sort": "asc"}), true},
		{"missing keys", ToolSearchNotes, map[string]any{"query": "x"}, true},
		{"valid delete", ToolDeleteNote, map[string]any{"id": "n1"}, false},
		{"delete without id", ToolDeleteNote, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Validate(tt.tool, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := registry.Validate("foo", nil); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("unknown tool err = %v", err)
	}
}
