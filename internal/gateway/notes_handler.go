package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/notesagent/internal/agent"
	"github.com/haasonsaas/notesagent/internal/auth"
	"github.com/haasonsaas/notesagent/internal/notes"
	"github.com/haasonsaas/notesagent/internal/observability"
	"github.com/haasonsaas/notesagent/pkg/models"
)

// MessageNoteNotFound is the detail of every 404 from the notes resources.
const MessageNoteNotFound = "Note not found"

// Page sizes of the notes resources. Requested sizes are clamped to
// [1, notes.MaxSearchLimit].
const (
	DefaultListLimit   = 50
	DefaultSearchLimit = 20
)

var (
	compiledCreateNoteSchema = jsonschema.MustCompileString("note_create.json", `{
  "type": "object",
  "properties": {
    "title": {"type": ["string", "null"]},
    "content": {"type": ["string", "null"]},
    "note_type": {"enum": ["note", "task", "event", "recipe", "vocabulary"]},
    "tags": {"type": ["array", "null"], "items": {"type": "string"}},
    "is_archived": {"type": "boolean"}
  }
}`)

	compiledUpdateNoteSchema = jsonschema.MustCompileString("note_update.json", `{
  "type": "object",
  "properties": {
    "title": {"type": ["string", "null"]},
    "content": {"type": ["string", "null"]},
    "note_type": {"enum": ["note", "task", "event", "recipe", "vocabulary", null]},
    "tags": {"type": ["array", "null"], "items": {"type": "string"}},
    "is_archived": {"type": ["boolean", "null"]}
  }
}`)

	compiledSearchNotesSchema = jsonschema.MustCompileString("note_search.json", `{
  "type": "object",
  "properties": {
    "query": {"type": ["string", "null"]},
    "tags": {"type": ["array", "null"], "items": {"type": "string"}},
    "match_all_tags": {"type": "boolean"},
    "note_type": {"enum": ["note", "task", "event", "recipe", "vocabulary", null]},
    "is_archived": {"type": ["boolean", "null"]},
    "limit": {"type": "integer"}
  }
}`)
)

// NoteService is the note domain behind the REST resources.
type NoteService interface {
	Search(ctx context.Context, userID string, params notes.SearchParams) ([]notes.SearchResult, error)
	Get(ctx context.Context, userID, noteID string) (*models.Note, error)
	Create(ctx context.Context, userID string, in notes.CreateInput) (*models.Note, error)
	Update(ctx context.Context, userID, noteID string, in notes.UpdateInput) (*models.Note, error)
	Delete(ctx context.Context, userID, noteID string) (bool, error)
	TagVocabulary(ctx context.Context, userID string) ([]string, error)
}

// CreateNoteRequest is the body of POST {prefix}/notes.
type CreateNoteRequest struct {
	Title      *string         `json:"title"`
	Content    *string         `json:"content"`
	NoteType   models.NoteType `json:"note_type"`
	Tags       []string        `json:"tags"`
	IsArchived bool            `json:"is_archived"`
}

// UpdateNoteRequest is the body of PATCH {prefix}/notes/{id}. Absent, null
// and blank fields are left unchanged.
type UpdateNoteRequest struct {
	Title      *string          `json:"title"`
	Content    *string          `json:"content"`
	NoteType   *models.NoteType `json:"note_type"`
	Tags       *[]string        `json:"tags"`
	IsArchived *bool            `json:"is_archived"`
}

// SearchNotesRequest is the body of POST {prefix}/notes/search.
type SearchNotesRequest struct {
	Query        *string          `json:"query"`
	Tags         []string         `json:"tags"`
	MatchAllTags bool             `json:"match_all_tags"`
	NoteType     *models.NoteType `json:"note_type"`
	IsArchived   *bool            `json:"is_archived"`
	Limit        *int             `json:"limit"`
}

// NoteResponse is a note as the REST resources render it.
type NoteResponse struct {
	ID         string          `json:"id"`
	Title      *string         `json:"title"`
	Content    *string         `json:"content"`
	NoteType   models.NoteType `json:"note_type"`
	Tags       []string        `json:"tags"`
	UserID     string          `json:"user_id"`
	IsArchived bool            `json:"is_archived"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// SearchHitResponse is a ranked search result.
type SearchHitResponse struct {
	NoteResponse
	Rank float64 `json:"rank"`
}

// TaxonomyResponse is the body of GET {prefix}/metadata/taxonomy.
type TaxonomyResponse struct {
	TagVocab []string `json:"tag_vocab"`
}

func newNoteResponse(n *models.Note) NoteResponse {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	return NoteResponse{
		ID:         n.ID,
		Title:      n.Title,
		Content:    n.Content,
		NoteType:   n.NoteType,
		Tags:       tags,
		UserID:     n.UserID,
		IsArchived: n.IsArchived,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
}

// NotesHandler serves the notes CRUD, search and metadata resources.
// Writes are handed to the enricher for embedding and tagging.
type NotesHandler struct {
	notes    NoteService
	enricher agent.Enricher
	logger   *observability.Logger
}

// NewNotesHandler creates a NotesHandler. A nil enricher disables
// background enrichment.
func NewNotesHandler(service NoteService, enricher agent.Enricher, logger *observability.Logger) *NotesHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &NotesHandler{notes: service, enricher: enricher, logger: logger}
}

// Register mounts the resources on mux under prefix. protect wraps every
// user-scoped route.
func (h *NotesHandler) Register(mux *http.ServeMux, prefix string, protect func(http.Handler) http.Handler) {
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, protect(fn))
	}
	handle("POST "+prefix+"/notes", h.create)
	handle("GET "+prefix+"/notes", h.list)
	handle("POST "+prefix+"/notes/search", h.search)
	handle("GET "+prefix+"/notes/{id}", h.get)
	handle("PATCH "+prefix+"/notes/{id}", h.update)
	handle("DELETE "+prefix+"/notes/{id}", h.delete)
	handle("GET "+prefix+"/metadata/taxonomy", h.taxonomy)
	mux.HandleFunc("GET "+prefix+"/metadata/note-types", h.noteTypes)
}

func (h *NotesHandler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req CreateNoteRequest
	if status, err := decodeJSON(w, r, compiledCreateNoteSchema, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}

	note, err := h.notes.Create(ctx, userID, notes.CreateInput{
		Title:      req.Title,
		Content:    req.Content,
		NoteType:   req.NoteType,
		Tags:       req.Tags,
		IsArchived: req.IsArchived,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "create note", err)
		return
	}
	h.enrich(ctx, userID, note)
	writeJSON(w, http.StatusCreated, newNoteResponse(note))
}

func (h *NotesHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit := DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "limit must be an integer")
			return
		}
		limit = n
	}

	results, err := h.notes.Search(ctx, userID, notes.SearchParams{Limit: clampLimit(limit)})
	if err != nil {
		h.writeServiceError(ctx, w, "list notes", err)
		return
	}
	out := make([]NoteResponse, 0, len(results))
	for i := range results {
		out = append(out, newNoteResponse(&results[i].Note))
	}
	writeJSON(w, http.StatusOK, out)
}

// search is lexical only; semantic ranking is reserved for the assistant.
func (h *NotesHandler) search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req SearchNotesRequest
	if status, err := decodeJSON(w, r, compiledSearchNotesSchema, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}
	limit := DefaultSearchLimit
	if req.Limit != nil {
		limit = *req.Limit
	}

	results, err := h.notes.Search(ctx, userID, notes.SearchParams{
		Query:        req.Query,
		Tags:         req.Tags,
		MatchAllTags: req.MatchAllTags,
		NoteType:     req.NoteType,
		IsArchived:   req.IsArchived,
		Limit:        clampLimit(limit),
		Alpha:        agent.DefaultSearchAlpha,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "search notes", err)
		return
	}
	out := make([]SearchHitResponse, 0, len(results))
	for i := range results {
		out = append(out, SearchHitResponse{NoteResponse: newNoteResponse(&results[i].Note), Rank: results[i].Rank})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *NotesHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	note, err := h.notes.Get(ctx, userID, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(ctx, w, "get note", err)
		return
	}
	if note == nil {
		writeError(w, http.StatusNotFound, MessageNoteNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newNoteResponse(note))
}

func (h *NotesHandler) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req UpdateNoteRequest
	if status, err := decodeJSON(w, r, compiledUpdateNoteSchema, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}

	in := notes.UpdateInput{
		Title:      req.Title,
		Content:    req.Content,
		NoteType:   req.NoteType,
		IsArchived: req.IsArchived,
	}
	if req.Tags != nil {
		in.Tags, in.SetTags = *req.Tags, true
	}
	note, err := h.notes.Update(ctx, userID, r.PathValue("id"), in)
	if err != nil {
		h.writeServiceError(ctx, w, "update note", err)
		return
	}
	if note == nil {
		writeError(w, http.StatusNotFound, MessageNoteNotFound)
		return
	}
	h.enrich(ctx, userID, note)
	writeJSON(w, http.StatusOK, newNoteResponse(note))
}

func (h *NotesHandler) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	deleted, err := h.notes.Delete(ctx, userID, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(ctx, w, "delete note", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, MessageNoteNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotesHandler) taxonomy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	vocab, err := h.notes.TagVocabulary(ctx, userID)
	if err != nil {
		h.writeServiceError(ctx, w, "tag vocabulary", err)
		return
	}
	if vocab == nil {
		vocab = []string{}
	}
	writeJSON(w, http.StatusOK, TaxonomyResponse{TagVocab: vocab})
}

func (h *NotesHandler) noteTypes(w http.ResponseWriter, _ *http.Request) {
	types := models.NoteTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *NotesHandler) enrich(ctx context.Context, userID string, note *models.Note) {
	if h.enricher == nil || note == nil {
		return
	}
	h.enricher.NoteChanged(ctx, userID, note)
}

// writeServiceError maps validation failures to 422 and hides everything
// else behind a 500.
func (h *NotesHandler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if errors.Is(err, models.ErrEmptyNote) || errors.Is(err, notes.ErrInvalidNote) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.logger.Error(ctx, op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "notes unavailable")
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
	}
	return userID, ok
}

func clampLimit(limit int) int {
	return max(1, min(limit, notes.MaxSearchLimit))
}
