// Package models provides domain types shared by the notes service, the
// assistant runtime and the HTTP transport.
package models

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NoteType categorizes a note.
type NoteType string

const (
	NoteTypeNote       NoteType = "note"
	NoteTypeTask       NoteType = "task"
	NoteTypeEvent      NoteType = "event"
	NoteTypeRecipe     NoteType = "recipe"
	NoteTypeVocabulary NoteType = "vocabulary"
)

// NoteTypes lists every note type in display order.
func NoteTypes() []NoteType {
	return []NoteType{NoteTypeNote, NoteTypeTask, NoteTypeEvent, NoteTypeRecipe, NoteTypeVocabulary}
}

// Valid reports whether t is a known note type.
func (t NoteType) Valid() bool {
	switch t {
	case NoteTypeNote, NoteTypeTask, NoteTypeEvent, NoteTypeRecipe, NoteTypeVocabulary:
		return true
	default:
		return false
	}
}

// ParseNoteType returns the note type for s, or false when s is not a known type.
func ParseNoteType(s string) (NoteType, bool) {
	t := NoteType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Note field limits.
const (
	MaxTitleLength   = 500
	MaxContentLength = 10000
	MaxTagLength     = 50
	MaxTags          = 5
)

// ErrEmptyNote is returned when a note has neither a title nor content.
var ErrEmptyNote = errors.New("either title or content must be provided and non-empty")

// Note is a user's note. Title and Content are nil when absent.
type Note struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Title      *string   `json:"title"`
	Content    *string   `json:"content"`
	NoteType   NoteType  `json:"note_type"`
	Tags       []string  `json:"tags"`
	IsArchived bool      `json:"is_archived"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EmbeddingText is the text a note is embedded and enriched from:
// title and content separated by a blank line, either part optional.
func EmbeddingText(title, content *string) string {
	var parts []string
	if title != nil && strings.TrimSpace(*title) != "" {
		parts = append(parts, strings.TrimSpace(*title))
	}
	if content != nil && strings.TrimSpace(*content) != "" {
		parts = append(parts, strings.TrimSpace(*content))
	}
	return strings.Join(parts, "\n\n")
}

// NormalizeText trims s and maps an empty result to nil.
func NormalizeText(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// NormalizeTag returns the canonical form of a tag: NFKC, trimmed,
// lowercased and cut to MaxTagLength runes.
func NormalizeTag(tag string) string {
	t := strings.ToLower(strings.TrimSpace(norm.NFKC.String(tag)))
	if utf8.RuneCountInString(t) > MaxTagLength {
		t = string([]rune(t)[:MaxTagLength])
	}
	return strings.TrimSpace(t)
}

// NormalizeTags normalizes each tag, drops empties and duplicates, and keeps
// at most MaxTags entries in first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		t := NormalizeTag(tag)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}
