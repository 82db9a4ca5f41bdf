// Package notes implements the user-scoped note domain: validation and
// normalization of writes, hybrid search and the per-user tag vocabulary.
// Persistence is delegated to a Store (see store/pgvector and store/sqlite).
package notes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/haasonsaas/notesagent/internal/observability"
	"github.com/haasonsaas/notesagent/pkg/models"
)

var (
	// ErrNotFound is returned when a note does not exist or belongs to another user.
	ErrNotFound = errors.New("note not found")

	// ErrInvalidNote is returned when a write breaks a field constraint.
	ErrInvalidNote = errors.New("invalid note")
)

// Search limits.
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 200
)

// TagPageSize is how many rows TagVocabulary reads per store call.
const TagPageSize = 1000

// Store persists notes. Every read and write is scoped to a user except the
// background embedding calls, which address notes by id.
type Store interface {
	Search(ctx context.Context, userID string, params SearchParams) ([]SearchResult, error)

	// Get returns ErrNotFound when the note is missing or owned by someone else.
	Get(ctx context.Context, userID, noteID string) (*models.Note, error)

	Insert(ctx context.Context, note *models.Note) (*models.Note, error)

	// Save writes the mutable fields of an existing note.
	// Returns ErrNotFound when no row matches the id and user.
	Save(ctx context.Context, note *models.Note) (*models.Note, error)

	Delete(ctx context.Context, userID, noteID string) (bool, error)

	// ListTags returns the tag arrays of a user's notes, one entry per note,
	// ordered by note id.
	ListTags(ctx context.Context, userID string, offset, limit int) ([][]string, error)

	SetEmbedding(ctx context.Context, noteID string, embedding []float32) error
	SetTags(ctx context.Context, userID, noteID string, tags []string) error

	// MissingEmbeddings returns up to limit notes with content and no
	// embedding, oldest first.
	MissingEmbeddings(ctx context.Context, limit int) ([]models.Note, error)

	Close() error
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Logger *observability.Logger
	Tracer *observability.Tracer

	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// Service validates and normalizes note operations before they reach the store.
type Service struct {
	store  Store
	logger *observability.Logger
	tracer *observability.Tracer
	now    func() time.Time
}

// NewService creates a note service over store.
func NewService(store Store, cfg ServiceConfig) (*Service, error) {
	if store == nil {
		return nil, errors.New("notes: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:  store,
		logger: cfg.Logger,
		tracer: cfg.Tracer,
		now:    cfg.Now,
	}, nil
}

// Search runs a hybrid search over the user's notes.
func (s *Service) Search(ctx context.Context, userID string, params SearchParams) ([]SearchResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidNote)
	}
	params = normalizeSearch(params)

	ctx, span := s.tracer.TraceDatabaseQuery(ctx, "search", "notes")
	defer span.End()

	results, err := s.store.Search(ctx, userID, params)
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, fmt.Errorf("search notes: %w", err)
	}
	s.tracer.SetAttributes(span, "result_count", len(results), "semantic", len(params.QueryEmbedding) > 0)
	return results, nil
}

// Get returns one of the user's notes, or nil when it does not exist.
func (s *Service) Get(ctx context.Context, userID, noteID string) (*models.Note, error) {
	if _, err := uuid.Parse(noteID); err != nil {
		return nil, nil
	}
	note, err := s.store.Get(ctx, userID, noteID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return note, nil
}

// Create validates and stores a new note.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*models.Note, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidNote)
	}
	title := models.NormalizeText(in.Title)
	content := models.NormalizeText(in.Content)
	if title == nil && content == nil {
		return nil, models.ErrEmptyNote
	}
	if err := checkLengths(title, content); err != nil {
		return nil, err
	}
	noteType := in.NoteType
	if noteType == "" {
		noteType = models.NoteTypeNote
	}
	if !noteType.Valid() {
		return nil, fmt.Errorf("%w: unknown note type %q", ErrInvalidNote, noteType)
	}

	now := s.now().UTC()
	note := &models.Note{
		ID:         uuid.NewString(),
		UserID:     userID,
		Title:      title,
		Content:    content,
		NoteType:   noteType,
		Tags:       models.NormalizeTags(in.Tags),
		IsArchived: in.IsArchived,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	ctx, span := s.tracer.TraceDatabaseQuery(ctx, "insert", "notes")
	defer span.End()

	created, err := s.store.Insert(ctx, note)
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, fmt.Errorf("insert note: %w", err)
	}
	s.logger.Debug(ctx, "note created", "note_id", created.ID, "note_type", created.NoteType)
	return created, nil
}

// Update applies a partial update and returns the updated note, or nil when
// the note does not exist. A nil or blank title or content leaves that field
// unchanged, so an update can never empty a note.
func (s *Service) Update(ctx context.Context, userID, noteID string, in UpdateInput) (*models.Note, error) {
	existing, err := s.Get(ctx, userID, noteID)
	if err != nil || existing == nil {
		return nil, err
	}
	if in.Empty() {
		return existing, nil
	}

	next := *existing
	if title := models.NormalizeText(in.Title); title != nil {
		next.Title = title
	}
	if content := models.NormalizeText(in.Content); content != nil {
		next.Content = content
	}
	if err := checkLengths(next.Title, next.Content); err != nil {
		return nil, err
	}
	if in.NoteType != nil {
		if !in.NoteType.Valid() {
			return nil, fmt.Errorf("%w: unknown note type %q", ErrInvalidNote, *in.NoteType)
		}
		next.NoteType = *in.NoteType
	}
	if in.SetTags {
		next.Tags = models.NormalizeTags(in.Tags)
	}
	if in.IsArchived != nil {
		next.IsArchived = *in.IsArchived
	}
	next.UpdatedAt = s.now().UTC()

	ctx, span := s.tracer.TraceDatabaseQuery(ctx, "update", "notes")
	defer span.End()

	saved, err := s.store.Save(ctx, &next)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, fmt.Errorf("save note: %w", err)
	}
	return saved, nil
}

// Delete removes one of the user's notes and reports whether it existed.
func (s *Service) Delete(ctx context.Context, userID, noteID string) (bool, error) {
	if _, err := uuid.Parse(noteID); err != nil {
		return false, nil
	}

	ctx, span := s.tracer.TraceDatabaseQuery(ctx, "delete", "notes")
	defer span.End()

	deleted, err := s.store.Delete(ctx, userID, noteID)
	if err != nil {
		s.tracer.RecordError(span, err)
		return false, fmt.Errorf("delete note: %w", err)
	}
	return deleted, nil
}

// TagVocabulary returns every tag the user has applied, lowercased,
// deduplicated and sorted.
func (s *Service) TagVocabulary(ctx context.Context, userID string) ([]string, error) {
	seen := make(map[string]struct{})
	for offset := 0; ; offset += TagPageSize {
		page, err := s.store.ListTags(ctx, userID, offset, TagPageSize)
		if err != nil {
			return nil, fmt.Errorf("list tags: %w", err)
		}
		for _, tags := range page {
			for _, tag := range tags {
				t := strings.ToLower(strings.TrimSpace(tag))
				if t != "" {
					seen[t] = struct{}{}
				}
			}
		}
		if len(page) < TagPageSize {
			break
		}
	}

	vocab := make([]string, 0, len(seen))
	for tag := range seen {
		vocab = append(vocab, tag)
	}
	sort.Strings(vocab)
	return vocab, nil
}

// SetTags replaces the tags of a note after normalizing them.
func (s *Service) SetTags(ctx context.Context, userID, noteID string, tags []string) error {
	if err := s.store.SetTags(ctx, userID, noteID, models.NormalizeTags(tags)); err != nil {
		return fmt.Errorf("set tags: %w", err)
	}
	return nil
}

// SetEmbedding stores the vector of a note.
func (s *Service) SetEmbedding(ctx context.Context, noteID string, embedding []float32) error {
	if err := s.store.SetEmbedding(ctx, noteID, embedding); err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	return nil
}

// MissingEmbeddings lists notes that still need an embedding.
func (s *Service) MissingEmbeddings(ctx context.Context, limit int) ([]models.Note, error) {
	if limit <= 0 {
		limit = 50
	}
	list, err := s.store.MissingEmbeddings(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list notes missing embeddings: %w", err)
	}
	return list, nil
}

func checkLengths(title, content *string) error {
	if title != nil && utf8.RuneCountInString(*title) > models.MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidNote, models.MaxTitleLength)
	}
	if content != nil && utf8.RuneCountInString(*content) > models.MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrInvalidNote, models.MaxContentLength)
	}
	return nil
}

func normalizeSearch(p SearchParams) SearchParams {
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultSearchLimit
	case p.Limit > MaxSearchLimit:
		p.Limit = MaxSearchLimit
	}
	switch {
	case p.Alpha < 0:
		p.Alpha = 0
	case p.Alpha > 1:
		p.Alpha = 1
	}
	if p.Query != nil && strings.TrimSpace(*p.Query) == "" {
		p.Query = nil
	}
	if len(p.Tags) > 0 {
		tags := make([]string, 0, len(p.Tags))
		for _, tag := range p.Tags {
			if t := models.NormalizeTag(tag); t != "" {
				tags = append(tags, t)
			}
		}
		p.Tags = tags
	}
	return p
}
