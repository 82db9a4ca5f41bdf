// Package sqlite provides a single-file note store for local development and
// tests. Ranking runs in Go: term frequency for lexical relevance and cosine
// similarity over stored embeddings for semantic relevance.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/notesagent/internal/notes"
	"github.com/haasonsaas/notesagent/pkg/models"
)

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const noteColumns = `id, user_id, title, content, note_type, tags, is_archived, created_at, updated_at`

// Store implements notes.Store on SQLite.
type Store struct {
	db        *sql.DB
	dimension int
}

var _ notes.Store = (*Store)(nil)

// Config contains configuration for the SQLite store.
type Config struct {
	Path      string // Path to the database file; empty means in-memory
	Dimension int    // Embedding dimension

	// RunMigrations applies pending migrations in New.
	RunMigrations bool
}

// New opens a SQLite store.
func New(cfg Config) (*Store, error) {
	if cfg.Dimension == 0 {
		cfg.Dimension = 1536 // OpenAI text-embedding-3-small
	}

	dsn := ":memory:"
	if cfg.Path != "" && cfg.Path != ":memory:" {
		dsn = "file:" + cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps an in-memory
	// database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dimension: cfg.Dimension}
	if cfg.RunMigrations {
		if err := s.Migrate(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return s, nil
}

type migration struct {
	id  string
	sql []string
}

var migrations = []migration{
	{
		id: "0001_notes",
		sql: []string{
			`CREATE TABLE IF NOT EXISTS notes (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				title TEXT,
				content TEXT,
				note_type TEXT NOT NULL DEFAULT 'note',
				tags TEXT NOT NULL DEFAULT '[]',
				is_archived INTEGER NOT NULL DEFAULT 0,
				embedding BLOB,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			"CREATE INDEX IF NOT EXISTS idx_notes_user_updated ON notes(user_id, updated_at)",
			"CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at)",
		},
	},
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS notes_schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create notes_schema_migrations: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if _, ok := applied[m.id]; ok {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.id, err)
		}
		for _, stmt := range m.sql {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("apply migration %s: %w", m.id, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notes_schema_migrations (id, applied_at) VALUES (?, ?)`,
			m.id, formatTime(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.id, err)
		}
	}
	return nil
}

// MigrationStatus lists every migration and whether it is applied.
func (s *Store) MigrationStatus(ctx context.Context) ([]notes.MigrationState, error) {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS notes_schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("create notes_schema_migrations: %w", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]notes.MigrationState, 0, len(migrations))
	for _, m := range migrations {
		state := notes.MigrationState{ID: m.id}
		if at, ok := applied[m.id]; ok {
			at := at
			state.Applied = true
			state.AppliedAt = &at
		}
		out = append(out, state)
	}
	return out, nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, applied_at FROM notes_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query notes_schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]time.Time{}
	for rows.Next() {
		var id, at string
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan notes_schema_migrations: %w", err)
		}
		applied[id] = parseTime(at)
	}
	return applied, rows.Err()
}

// Search filters in SQL and ranks in Go by alpha*semantic + (1-alpha)*lexical.
func (s *Store) Search(ctx context.Context, userID string, params notes.SearchParams) ([]notes.SearchResult, error) {
	query := `SELECT ` + noteColumns + `, embedding FROM notes WHERE user_id = ?`
	args := []any{userID}

	if params.NoteType != nil {
		query += " AND note_type = ?"
		args = append(args, string(*params.NoteType))
	}
	if params.IsArchived != nil {
		query += " AND is_archived = ?"
		args = append(args, *params.IsArchived)
	}
	if params.CreatedFrom != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*params.CreatedFrom))
	}
	if params.CreatedTo != nil {
		query += " AND created_at <= ?"
		args = append(args, formatTime(*params.CreatedTo))
	}
	if params.UpdatedFrom != nil {
		query += " AND updated_at >= ?"
		args = append(args, formatTime(*params.UpdatedFrom))
	}
	if params.UpdatedTo != nil {
		query += " AND updated_at <= ?"
		args = append(args, formatTime(*params.UpdatedTo))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var terms []string
	if params.Query != nil {
		terms = tokenize(*params.Query)
	}
	semantic := len(params.QueryEmbedding) > 0

	var results []notes.SearchResult
	for rows.Next() {
		var blob []byte
		note, err := scanNote(rows, &blob)
		if err != nil {
			return nil, err
		}
		if !matchTags(note.Tags, params.Tags, params.MatchAllTags) {
			continue
		}

		lexical := 0.0
		if len(terms) > 0 {
			lexical = termScore(terms, models.EmbeddingText(note.Title, note.Content))
		}
		embedding := decodeEmbedding(blob)

		var rank float64
		switch {
		case semantic:
			if embedding == nil && lexical == 0 {
				continue
			}
			sim := float64(cosineSimilarity(params.QueryEmbedding, embedding))
			rank = params.Alpha*sim + (1-params.Alpha)*lexical
		case len(terms) > 0:
			if lexical == 0 {
				continue
			}
			rank = lexical
		}
		results = append(results, notes.SearchResult{Note: *note, Rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Rank != results[j].Rank {
			return results[i].Rank > results[j].Rank
		}
		return results[i].Note.UpdatedAt.After(results[j].Note.UpdatedAt)
	})
	limit := params.Limit
	if limit <= 0 {
		limit = notes.DefaultSearchLimit
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Get returns a single note owned by userID.
func (s *Store) Get(ctx context.Context, userID, noteID string) (*models.Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = ? AND user_id = ?`, noteID, userID)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notes.ErrNotFound
	}
	return note, err
}

// Insert stores a new note.
func (s *Store) Insert(ctx context.Context, note *models.Note) (*models.Note, error) {
	tags, err := encodeTags(note.Tags)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (id, user_id, title, content, note_type, tags, is_archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		note.ID,
		note.UserID,
		nullString(note.Title),
		nullString(note.Content),
		string(note.NoteType),
		tags,
		note.IsArchived,
		formatTime(note.CreatedAt),
		formatTime(note.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert note: %w", err)
	}
	return s.Get(ctx, note.UserID, note.ID)
}

// Save writes the mutable fields of an existing note.
func (s *Store) Save(ctx context.Context, note *models.Note) (*models.Note, error) {
	tags, err := encodeTags(note.Tags)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE notes
		SET title = ?, content = ?, note_type = ?, tags = ?, is_archived = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`,
		nullString(note.Title),
		nullString(note.Content),
		string(note.NoteType),
		tags,
		note.IsArchived,
		formatTime(note.UpdatedAt),
		note.ID,
		note.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update note: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, notes.ErrNotFound
	}
	return s.Get(ctx, note.UserID, note.ID)
}

// Delete removes a note owned by userID.
func (s *Store) Delete(ctx context.Context, userID, noteID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND user_id = ?`, noteID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListTags pages through the tag arrays of a user's notes.
func (s *Store) ListTags(ctx context.Context, userID string, offset, limit int) ([][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tags FROM notes WHERE user_id = ? ORDER BY id LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan tags: %w", err)
		}
		out = append(out, decodeTags(raw))
	}
	return out, rows.Err()
}

// SetEmbedding stores the vector of a note. It does not touch updated_at.
func (s *Store) SetEmbedding(ctx context.Context, noteID string, embedding []float32) error {
	if len(embedding) != s.dimension {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(embedding), s.dimension)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE notes SET embedding = ? WHERE id = ?`, encodeEmbedding(embedding), noteID); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// SetTags replaces the tags of a note owned by userID.
func (s *Store) SetTags(ctx context.Context, userID, noteID string, tags []string) error {
	encoded, err := encodeTags(tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE notes SET tags = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		encoded, formatTime(time.Now()), noteID, userID)
	if err != nil {
		return fmt.Errorf("failed to store tags: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notes.ErrNotFound
	}
	return nil
}

// MissingEmbeddings returns notes that have not been embedded yet, oldest first.
func (s *Store) MissingEmbeddings(ctx context.Context, limit int) ([]models.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE embedding IS NULL ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var out []models.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *note)
	}
	return out, rows.Err()
}

// Close releases resources.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner, extra ...any) (*models.Note, error) {
	var note models.Note
	var title, content sql.NullString
	var noteType, tags, createdAt, updatedAt string

	dest := []any{&note.ID, &note.UserID, &title, &content, &noteType, &tags, &note.IsArchived, &createdAt, &updatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	if title.Valid {
		note.Title = &title.String
	}
	if content.Valid {
		note.Content = &content.String
	}
	note.NoteType = models.NoteType(noteType)
	note.Tags = decodeTags(tags)
	note.CreatedAt = parseTime(createdAt)
	note.UpdatedAt = parseTime(updatedAt)
	return &note, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(raw string) []string {
	tags := []string{}
	if raw == "" {
		return tags
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return []string{}
	}
	return tags
}

func matchTags(have, want []string, all bool) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		_, ok := set[t]
		if all && !ok {
			return false
		}
		if !all && ok {
			return true
		}
	}
	return all
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// termScore is the share of query terms found in text, damped by how often
// each occurs. It is 0 when no term matches and approaches 1 as every term
// repeats.
func termScore(terms []string, text string) float64 {
	counts := make(map[string]int)
	for _, tok := range tokenize(text) {
		counts[tok]++
	}
	var score float64
	for _, term := range terms {
		if tf := counts[term]; tf > 0 {
			score += 1 - 1/float64(tf+1)
		}
	}
	return score / float64(len(terms))
}

// encodeEmbedding stores 4 little-endian bytes per float32.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
