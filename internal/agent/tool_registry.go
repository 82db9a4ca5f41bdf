package agent

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/notesagent/pkg/models"
)

// Tool names declared to the model.
const (
	ToolSearchNotes = "search_notes"
	ToolCreateNote  = "create_note"
	ToolUpdateNote  = "update_note"
	ToolDeleteNote  = "delete_note"
)

// Search argument bounds and defaults.
const (
	DefaultSearchLimit = 20
	MinSearchLimit     = 1
	MaxSearchLimit     = 200
	DefaultSearchAlpha = 0.5
)

// ToolDefinition is a function declaration advertised to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Strict      bool           `json:"strict"`
}

type registeredTool struct {
	def    ToolDefinition
	keys   []string
	schema *jsonschema.Schema
}

// ToolRegistry is the fixed set of tools the assistant may call.
// It is immutable after construction and safe for concurrent reads.
type ToolRegistry struct {
	order []string
	tools map[string]*registeredTool
}

// NewToolRegistry builds the note tools and compiles their parameter schemas.
// A declaration that does not compile is a programming error and fails here
// rather than on the first model call.
func NewToolRegistry() (*ToolRegistry, error) {
	r := &ToolRegistry{tools: make(map[string]*registeredTool)}
	for _, def := range noteToolDefinitions() {
		raw, err := json.Marshal(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal %s parameters: %w", def.Name, err)
		}
		schema, err := jsonschema.CompileString("tool_"+def.Name, string(raw))
		if err != nil {
			return nil, fmt.Errorf("compile %s parameters: %w", def.Name, err)
		}
		r.order = append(r.order, def.Name)
		r.tools[def.Name] = &registeredTool{
			def:    def,
			keys:   propertyKeys(def.Parameters),
			schema: schema,
		}
	}
	return r, nil
}

// MustToolRegistry is like NewToolRegistry but panics on error. The
// declarations are static, so an error is a build defect.
func MustToolRegistry() *ToolRegistry {
	r, err := NewToolRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// Definitions returns the tool declarations in registration order.
// The returned slice is a copy; parameter maps are shared and must not be mutated.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Has reports whether name is a declared tool.
func (r *ToolRegistry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// AllowedKeys returns the argument keys declared for a tool: required keys
// in declaration order, then any optional ones sorted.
func (r *ToolRegistry) AllowedKeys(name string) []string {
	tool, ok := r.tools[name]
	if !ok {
		return nil
	}
	return append([]string(nil), tool.keys...)
}

// Narrow returns the declared subset of raw and the sorted keys it dropped.
// An unknown tool keeps nothing.
func (r *ToolRegistry) Narrow(name string, raw map[string]any) (map[string]any, []string) {
	keys := r.AllowedKeys(name)
	narrowed := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			narrowed[k] = v
		}
	}
	var dropped []string
	for k := range raw {
		if !slices.Contains(keys, k) {
			dropped = append(dropped, k)
		}
	}
	sort.Strings(dropped)
	return narrowed, dropped
}

// Validate checks raw arguments against the strict declaration. Dispatch does
// not require a valid payload; arguments are narrowed and clamped instead, and
// the validation result is only reported.
func (r *ToolRegistry) Validate(name string, args map[string]any) error {
	tool, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return tool.schema.Validate(args)
}

func propertyKeys(params map[string]any) []string {
	props, _ := params["properties"].(map[string]any)
	required, _ := params["required"].([]string)
	keys := make([]string, 0, len(props))
	seen := make(map[string]bool, len(props))
	for _, k := range required {
		if _, ok := props[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var optional []string
	for k := range props {
		if !seen[k] {
			optional = append(optional, k)
		}
	}
	sort.Strings(optional)
	return append(keys, optional...)
}

func noteTypeNames() []any {
	types := models.NoteTypes()
	out := make([]any, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}

func nullable(kind string) []string {
	return []string{kind, "null"}
}

func nullableDateTime() map[string]any {
	return map[string]any{"type": nullable("string"), "format": "date-time"}
}

// noteToolDefinitions declares the tools in strict mode: every property is
// listed in required and optional values are expressed as nullable types.
func noteToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        ToolSearchNotes,
			Description: "Search user's notes by natural language and optional filters, returning matched notes sorted by relevance.",
			Strict:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":          map[string]any{"type": nullable("string"), "description": "Free text query to match in notes"},
					"tags":           map[string]any{"type": nullable("array"), "items": map[string]any{"type": "string"}},
					"match_all_tags": map[string]any{"type": nullable("boolean"), "description": "If true, require all tags to match"},
					"note_type":      map[string]any{"type": nullable("string"), "enum": append([]any{nil}, noteTypeNames()...)},
					"is_archived":    map[string]any{"type": nullable("boolean")},
					"limit":          map[string]any{"type": nullable("integer"), "minimum": MinSearchLimit, "maximum": MaxSearchLimit},
					"alpha":          map[string]any{"type": nullable("number"), "minimum": 0, "maximum": 1},
					"created_from":   nullableDateTime(),
					"created_to":     nullableDateTime(),
					"updated_from":   nullableDateTime(),
					"updated_to":     nullableDateTime(),
				},
				"required": []string{
					"query", "tags", "match_all_tags", "note_type", "is_archived",
					"limit", "alpha", "created_from", "created_to", "updated_from", "updated_to",
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolCreateNote,
			Description: "Create a new note for the user.",
			Strict:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":     map[string]any{"type": "string", "maxLength": models.MaxTitleLength},
					"content":   map[string]any{"type": nullable("string"), "maxLength": models.MaxContentLength},
					"note_type": map[string]any{"type": "string", "enum": noteTypeNames()},
				},
				"required":             []string{"title", "content", "note_type"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolUpdateNote,
			Description: "Update fields on an existing note by ID.",
			Strict:      true,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":          map[string]any{"type": "string"},
					"title":       map[string]any{"type": nullable("string"), "maxLength": models.MaxTitleLength},
					"content":     map[string]any{"type": nullable("string"), "maxLength": models.MaxContentLength},
					"note_type":   map[string]any{"type": "string", "enum": noteTypeNames()},
					"is_archived": map[string]any{"type": "boolean"},
				},
				"required":             []string{"id", "title", "content", "note_type", "is_archived"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolDeleteNote,
			Description: "Delete a note by ID.",
			Strict:      true,
			Parameters: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{"id": map[string]any{"type": "string"}},
				"required":             []string{"id"},
				"additionalProperties": false,
			},
		},
	}
}
