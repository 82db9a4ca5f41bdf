package notes

import (
	"time"

	"github.com/haasonsaas/notesagent/pkg/models"
)

// SearchParams selects and ranks a user's notes.
//
// Rank blends a lexical score with vector similarity:
// alpha*semantic + (1-alpha)*lexical. Without QueryEmbedding the rank is
// lexical only; without Query every matching note ranks equally and the most
// recently updated come first.
type SearchParams struct {
	Query          *string
	QueryEmbedding []float32
	Tags           []string
	MatchAllTags   bool
	NoteType       *models.NoteType
	IsArchived     *bool
	Limit          int
	Alpha          float64
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	UpdatedFrom    *time.Time
	UpdatedTo      *time.Time
}

// SearchResult is a note with its relevance score.
type SearchResult struct {
	Note models.Note
	Rank float64
}

// CreateInput holds the fields of a new note.
type CreateInput struct {
	Title      *string
	Content    *string
	NoteType   models.NoteType
	Tags       []string
	IsArchived bool
}

// UpdateInput holds a partial update. Nil fields are left unchanged.
type UpdateInput struct {
	Title      *string
	Content    *string
	NoteType   *models.NoteType
	Tags       []string
	SetTags    bool
	IsArchived *bool
}

// Empty reports whether the update changes nothing.
func (u UpdateInput) Empty() bool {
	return u.Title == nil && u.Content == nil && u.NoteType == nil && !u.SetTags && u.IsArchived == nil
}

// MigrationState reports whether a schema migration has been applied.
type MigrationState struct {
	ID        string
	Applied   bool
	AppliedAt *time.Time
}
