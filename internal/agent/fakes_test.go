package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/notesagent/internal/notes"
	"github.com/haasonsaas/notesagent/pkg/models"
)

// scriptedModel replays canned responses in call order. A call past the end
// of its script fails the request.
type scriptedModel struct {
	mu sync.Mutex

	creates []createStep
	streams []streamStep

	createReqs []*ModelRequest
	streamReqs []*ModelRequest
	closed     int
}

type createStep struct {
	resp *ModelResponse
	err  error
}

type streamStep struct {
	events  []StreamEvent
	openErr error
	err     error
	// block holds the stream open after the scripted events until ctx ends.
	block bool
}

func (m *scriptedModel) Create(ctx context.Context, req *ModelRequest) (*ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createReqs = append(m.createReqs, req)
	idx := len(m.createReqs) - 1
	if idx >= len(m.creates) {
		return nil, fmt.Errorf("unexpected create call %d", idx+1)
	}
	step := m.creates[idx]
	return step.resp, step.err
}

func (m *scriptedModel) Stream(ctx context.Context, req *ModelRequest) (ModelStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamReqs = append(m.streamReqs, req)
	idx := len(m.streamReqs) - 1
	if idx >= len(m.streams) {
		return nil, fmt.Errorf("unexpected stream call %d", idx+1)
	}
	step := m.streams[idx]
	if step.openErr != nil {
		return nil, step.openErr
	}
	return &scriptedStream{ctx: ctx, step: step, onClose: m.markClosed}, nil
}

func (m *scriptedModel) markClosed() {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
}

func (m *scriptedModel) createCalls() []*ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ModelRequest(nil), m.createReqs...)
}

func (m *scriptedModel) streamCalls() []*ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ModelRequest(nil), m.streamReqs...)
}

func (m *scriptedModel) closedStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type scriptedStream struct {
	ctx     context.Context
	step    streamStep
	idx     int
	current StreamEvent
	err     error
	onClose func()
	once    sync.Once
}

func (s *scriptedStream) Next() bool {
	if s.idx < len(s.step.events) {
		s.current = s.step.events[s.idx]
		s.idx++
		return true
	}
	if s.step.block {
		<-s.ctx.Done()
		s.err = s.ctx.Err()
		return false
	}
	s.err = s.step.err
	return false
}

func (s *scriptedStream) Event() StreamEvent { return s.current }
func (s *scriptedStream) Err() error         { return s.err }

func (s *scriptedStream) Close() error {
	s.once.Do(s.onClose)
	return nil
}

func textStream(id string, deltas ...string) streamStep {
	events := make([]StreamEvent, 0, len(deltas)+1)
	for _, d := range deltas {
		events = append(events, StreamEvent{Type: StreamEventTextDelta, Delta: d})
	}
	events = append(events, StreamEvent{Type: StreamEventCompleted, ResponseID: id})
	return streamStep{events: events}
}

func toolCallResponse(id string, calls ...ToolCall) *ModelResponse {
	resp := &ModelResponse{ID: id}
	for _, c := range calls {
		resp.Output = append(resp.Output, OutputItem{
			Type:      OutputItemFunctionCall,
			Name:      c.Name,
			Arguments: c.Arguments,
			CallID:    c.CallID,
		})
	}
	return resp
}

func textResponse(id, text string) *ModelResponse {
	return &ModelResponse{
		ID:     id,
		Output: []OutputItem{{Type: OutputItemMessage, Text: text}},
	}
}

// memoryNotes is an in-memory NoteService. Search matches the query as a
// case-insensitive substring of title or content.
type memoryNotes struct {
	mu     sync.Mutex
	notes  []*models.Note
	nextID int

	searches  []notes.SearchParams
	creates   []notes.CreateInput
	updates   []notes.UpdateInput
	searchErr error
	panicMsg  string
	// blockSearch makes Search wait for ctx to end.
	blockSearch bool
}

func newMemoryNotes(seed ...*models.Note) *memoryNotes {
	return &memoryNotes{notes: seed}
}

func (s *memoryNotes) Search(ctx context.Context, userID string, params notes.SearchParams) ([]notes.SearchResult, error) {
	if s.blockSearch {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	s.searches = append(s.searches, params)
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	var out []notes.SearchResult
	for _, n := range s.notes {
		if n.UserID != userID {
			continue
		}
		if params.NoteType != nil && n.NoteType != *params.NoteType {
			continue
		}
		if params.Query != nil {
			q := strings.ToLower(*params.Query)
			if !strings.Contains(strings.ToLower(models.EmbeddingText(n.Title, n.Content)), q) {
				continue
			}
		}
		out = append(out, notes.SearchResult{Note: *n, Rank: 1})
		if params.Limit > 0 && len(out) == params.Limit {
			break
		}
	}
	return out, nil
}

func (s *memoryNotes) Create(ctx context.Context, userID string, in notes.CreateInput) (*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates = append(s.creates, in)
	s.nextID++
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	note := &models.Note{
		ID:        fmt.Sprintf("note-%d", s.nextID),
		UserID:    userID,
		Title:     in.Title,
		Content:   in.Content,
		NoteType:  in.NoteType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.notes = append(s.notes, note)
	return note, nil
}

func (s *memoryNotes) Update(ctx context.Context, userID, noteID string, in notes.UpdateInput) (*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, in)
	for _, n := range s.notes {
		if n.ID != noteID || n.UserID != userID {
			continue
		}
		if in.Title != nil {
			n.Title = in.Title
		}
		if in.Content != nil {
			n.Content = in.Content
		}
		if in.NoteType != nil {
			n.NoteType = *in.NoteType
		}
		if in.IsArchived != nil {
			n.IsArchived = *in.IsArchived
		}
		updated := *n
		return &updated, nil
	}
	return nil, nil
}

func (s *memoryNotes) Delete(ctx context.Context, userID, noteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notes {
		if n.ID == noteID && n.UserID == userID {
			s.notes = append(s.notes[:i], s.notes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryNotes) lastSearch() (notes.SearchParams, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.searches) == 0 {
		return notes.SearchParams{}, false
	}
	return s.searches[len(s.searches)-1], true
}

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

type recordingEnricher struct {
	mu    sync.Mutex
	notes []string
}

func (e *recordingEnricher) NoteChanged(ctx context.Context, userID string, note *models.Note) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notes = append(e.notes, note.ID)
}

func (e *recordingEnricher) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.notes...)
}

type stubTaxonomy struct {
	tags []string
	err  error
}

func (t stubTaxonomy) TagVocabulary(ctx context.Context, userID string) ([]string, error) {
	return t.tags, t.err
}

var errUpstream = errors.New("upstream unavailable")

func strPtr(s string) *string { return &s }

func testNote(id, userID, title string, noteType models.NoteType) *models.Note {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return &models.Note{
		ID:        id,
		UserID:    userID,
		Title:     strPtr(title),
		Content:   strPtr(title + " body"),
		NoteType:  noteType,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func collect(events <-chan models.ChatEvent) []models.ChatEvent {
	var out []models.ChatEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []models.ChatEvent) []models.ChatEventType {
	types := make([]models.ChatEventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}
