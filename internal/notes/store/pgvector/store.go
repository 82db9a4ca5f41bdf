// Package pgvector provides a note store on PostgreSQL with the pgvector
// extension. Lexical relevance comes from a generated tsvector column and
// semantic relevance from cosine distance over the embedding column.
package pgvector

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	pq "github.com/lib/pq" // PostgreSQL driver

	"github.com/haasonsaas/notesagent/internal/notes"
	"github.com/haasonsaas/notesagent/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const noteColumns = `id, user_id, title, content, note_type, tags, is_archived, created_at, updated_at`

// Store implements notes.Store using pgvector.
type Store struct {
	db        *sql.DB
	dimension int
	ownsDB    bool // whether this store owns the db connection and should close it
}

var _ notes.Store = (*Store)(nil)

// Config contains configuration for the pgvector store.
type Config struct {
	// DSN is the PostgreSQL connection string.
	// If empty, DB must be provided.
	DSN string

	// DB is an existing database connection to reuse.
	// If provided, DSN is ignored and the store will not close the connection.
	DB *sql.DB

	// Dimension is the embedding dimension (1536 for text-embedding-3-small).
	Dimension int

	MaxConnections  int
	ConnMaxLifetime time.Duration

	// RunMigrations applies pending migrations in New.
	RunMigrations bool
}

// New creates a new pgvector store.
func New(cfg Config) (*Store, error) {
	if cfg.Dimension == 0 {
		cfg.Dimension = 1536
	}

	var db *sql.DB
	var ownsDB bool

	switch {
	case cfg.DB != nil:
		db = cfg.DB
	case cfg.DSN != "":
		var err error
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		ownsDB = true
		if cfg.MaxConnections > 0 {
			db.SetMaxOpenConns(cfg.MaxConnections)
			db.SetMaxIdleConns(cfg.MaxConnections)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	default:
		return nil, errors.New("either DSN or DB must be provided")
	}

	s := &Store{db: db, dimension: cfg.Dimension, ownsDB: ownsDB}
	if cfg.RunMigrations {
		if err := s.Migrate(context.Background()); err != nil {
			if ownsDB {
				db.Close()
			}
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return s, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies pending schema migrations, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}
	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if _, ok := applied[m.ID]; ok {
			continue
		}
		if strings.TrimSpace(m.UpSQL) == "" {
			return fmt.Errorf("missing up migration for %s", m.ID)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO notes_schema_migrations (id) VALUES ($1)`, m.ID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.ID, err)
		}
	}
	return nil
}

// MigrationStatus lists every embedded migration and whether it is applied.
func (s *Store) MigrationStatus(ctx context.Context) ([]notes.MigrationState, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	migrations, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]notes.MigrationState, 0, len(migrations))
	for _, m := range migrations {
		state := notes.MigrationState{ID: m.ID}
		if at, ok := applied[m.ID]; ok {
			at := at
			state.Applied = true
			state.AppliedAt = &at
		}
		out = append(out, state)
	}
	return out, nil
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS notes_schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create notes_schema_migrations: %w", err)
	}
	return nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, applied_at FROM notes_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query notes_schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]time.Time{}
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan notes_schema_migrations: %w", err)
		}
		applied[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notes_schema_migrations: %w", err)
	}
	return applied, nil
}

// Search ranks the user's notes by alpha*semantic + (1-alpha)*lexical.
func (s *Store) Search(ctx context.Context, userID string, params notes.SearchParams) ([]notes.SearchResult, error) {
	query, args := buildSearchQuery(userID, params)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var results []notes.SearchResult
	for rows.Next() {
		var rank float64
		note, err := scanNote(rows, &rank)
		if err != nil {
			return nil, err
		}
		results = append(results, notes.SearchResult{Note: *note, Rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return results, nil
}

// buildSearchQuery renders the hybrid search statement. Without a query
// embedding the rank is the lexical score alone and only lexical matches are
// returned.
func buildSearchQuery(userID string, p notes.SearchParams) (string, []any) {
	args := []any{userID}
	bind := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	lexical := "0::float8"
	tsquery := ""
	if p.Query != nil {
		tsquery = fmt.Sprintf("plainto_tsquery('english', %s)", bind(*p.Query))
		lexical = fmt.Sprintf("ts_rank(lexeme, %s)::float8", tsquery)
	}

	where := []string{"user_id = $1"}
	rank := lexical
	if len(p.QueryEmbedding) > 0 {
		vec := bind(encodeEmbedding(p.QueryEmbedding).String)
		alpha := bind(p.Alpha)
		rank = fmt.Sprintf("%s::float8 * COALESCE(1 - (embedding <=> %s::vector), 0) + (1 - %s::float8) * %s",
			alpha, vec, alpha, lexical)
		if tsquery != "" {
			where = append(where, fmt.Sprintf("(embedding IS NOT NULL OR lexeme @@ %s)", tsquery))
		} else {
			where = append(where, "embedding IS NOT NULL")
		}
	} else if tsquery != "" {
		where = append(where, "lexeme @@ "+tsquery)
	}

	if len(p.Tags) > 0 {
		op := "&&"
		if p.MatchAllTags {
			op = "@>"
		}
		where = append(where, fmt.Sprintf("tags %s %s::text[]", op, bind(pq.Array(p.Tags))))
	}
	if p.NoteType != nil {
		where = append(where, "note_type = "+bind(string(*p.NoteType)))
	}
	if p.IsArchived != nil {
		where = append(where, "is_archived = "+bind(*p.IsArchived))
	}
	if p.CreatedFrom != nil {
		where = append(where, "created_at >= "+bind(*p.CreatedFrom))
	}
	if p.CreatedTo != nil {
		where = append(where, "created_at <= "+bind(*p.CreatedTo))
	}
	if p.UpdatedFrom != nil {
		where = append(where, "updated_at >= "+bind(*p.UpdatedFrom))
	}
	if p.UpdatedTo != nil {
		where = append(where, "updated_at <= "+bind(*p.UpdatedTo))
	}

	limit := p.Limit
	if limit <= 0 {
		limit = notes.DefaultSearchLimit
	}

	query := "SELECT " + noteColumns + ", " + rank + " AS rank FROM notes WHERE " +
		strings.Join(where, " AND ") +
		" ORDER BY rank DESC, updated_at DESC LIMIT " + bind(limit)
	return query, args
}

// Get returns a single note owned by userID.
func (s *Store) Get(ctx context.Context, userID, noteID string) (*models.Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = $1 AND user_id = $2`, noteID, userID)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notes.ErrNotFound
	}
	return note, err
}

// Insert stores a new note.
func (s *Store) Insert(ctx context.Context, note *models.Note) (*models.Note, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO notes (id, user_id, title, content, note_type, tags, is_archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+noteColumns,
		note.ID,
		note.UserID,
		nullString(note.Title),
		nullString(note.Content),
		string(note.NoteType),
		pq.Array(tagsOrEmpty(note.Tags)),
		note.IsArchived,
		note.CreatedAt,
		note.UpdatedAt,
	)
	created, err := scanNote(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert note: %w", err)
	}
	return created, nil
}

// Save writes the mutable fields of an existing note.
func (s *Store) Save(ctx context.Context, note *models.Note) (*models.Note, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE notes
		SET title = $3, content = $4, note_type = $5, tags = $6, is_archived = $7, updated_at = $8
		WHERE id = $1 AND user_id = $2
		RETURNING `+noteColumns,
		note.ID,
		note.UserID,
		nullString(note.Title),
		nullString(note.Content),
		string(note.NoteType),
		pq.Array(tagsOrEmpty(note.Tags)),
		note.IsArchived,
		note.UpdatedAt,
	)
	saved, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notes.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update note: %w", err)
	}
	return saved, nil
}

// Delete removes a note owned by userID.
func (s *Store) Delete(ctx context.Context, userID, noteID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = $1 AND user_id = $2`, noteID, userID)
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
		`SELECT tags FROM notes WHERE user_id = $1 ORDER BY id LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var tags pq.StringArray
		if err := rows.Scan(&tags); err != nil {
			return nil, fmt.Errorf("failed to scan tags: %w", err)
		}
		out = append(out, []string(tags))
	}
	return out, rows.Err()
}

// SetEmbedding stores the vector of a note. It does not touch updated_at.
func (s *Store) SetEmbedding(ctx context.Context, noteID string, embedding []float32) error {
	if len(embedding) != s.dimension {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(embedding), s.dimension)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE notes SET embedding = $2::vector WHERE id = $1`, noteID, encodeEmbedding(embedding))
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// SetTags replaces the tags of a note owned by userID.
func (s *Store) SetTags(ctx context.Context, userID, noteID string, tags []string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notes SET tags = $3, updated_at = now() WHERE id = $1 AND user_id = $2`,
		noteID, userID, pq.Array(tagsOrEmpty(tags)))
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
		`SELECT `+noteColumns+` FROM notes WHERE embedding IS NULL ORDER BY created_at LIMIT $1`, limit)
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
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner, extra ...any) (*models.Note, error) {
	var note models.Note
	var title, content sql.NullString
	var noteType string
	var tags pq.StringArray

	dest := []any{
		&note.ID,
		&note.UserID,
		&title,
		&content,
		&noteType,
		&tags,
		&note.IsArchived,
		&note.CreatedAt,
		&note.UpdatedAt,
	}
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
	note.Tags = tagsOrEmpty(tags)
	return &note, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// encodeEmbedding converts []float32 to pgvector string format: [0.1,0.2,...]
func encodeEmbedding(embedding []float32) sql.NullString {
	if len(embedding) == 0 {
		return sql.NullString{}
	}

	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')

	return sql.NullString{String: sb.String(), Valid: true}
}

// Migration represents an embedded migration.
type Migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

func loadMigrations() ([]Migration, error) {
	paths, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	entries := map[string]*Migration{}
	for _, path := range paths {
		base := strings.TrimPrefix(path, "migrations/")
		var suffix string
		switch {
		case strings.HasSuffix(base, ".up.sql"):
			suffix = ".up.sql"
		case strings.HasSuffix(base, ".down.sql"):
			suffix = ".down.sql"
		default:
			continue
		}
		id := strings.TrimSuffix(base, suffix)
		entry := entries[id]
		if entry == nil {
			entry = &Migration{ID: id}
			entries[id] = entry
		}
		data, err := migrationsFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", path, err)
		}
		if suffix == ".up.sql" {
			entry.UpSQL = string(data)
		} else {
			entry.DownSQL = string(data)
		}
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	migrations := make([]Migration, 0, len(ids))
	for _, id := range ids {
		migrations = append(migrations, *entries[id])
	}
	return migrations, nil
}
