package enrichment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/haasonsaas/notesagent/internal/observability"
	"github.com/haasonsaas/notesagent/pkg/models"
)

// JobKind identifies a background enrichment task.
type JobKind string

const (
	JobEmbed JobKind = "embed"
	JobTag   JobKind = "tag"
)

// Job statuses reported to metrics.
const (
	StatusSuccess   = "success"
	StatusSkipped   = "skipped"
	StatusUnchanged = "unchanged"
	StatusError     = "error"
	StatusDropped   = "dropped"
)

// ErrRunnerStopped is returned when enqueueing after Stop.
var ErrRunnerStopped = errors.New("enrichment runner stopped")

// Job is one unit of background work for a note snapshot.
type Job struct {
	Kind   JobKind
	UserID string
	Note   models.Note

	// ctx carries request-scoped log values. It is never used for cancellation.
	ctx context.Context
}

// Embedder turns note text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TagSuggester proposes tags for a note.
type TagSuggester interface {
	SuggestTags(ctx context.Context, title, content *string, vocab, existing []string) ([]string, error)
}

// NoteStore is the slice of the note service used by enrichment jobs.
type NoteStore interface {
	Get(ctx context.Context, userID, noteID string) (*models.Note, error)
	TagVocabulary(ctx context.Context, userID string) ([]string, error)
	SetTags(ctx context.Context, userID, noteID string, tags []string) error
	SetEmbedding(ctx context.Context, noteID string, embedding []float32) error
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Workers is the number of concurrent jobs. Default: 4
	Workers int

	// QueueSize bounds pending jobs; enqueueing into a full queue drops the job.
	// Default: 64
	QueueSize int

	// Timeout bounds each job. Default: 60s
	Timeout time.Duration

	// Embedder and Tagger are optional; a nil collaborator disables its job kind.
	Embedder Embedder
	Tagger   TagSuggester

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Runner executes enrichment jobs on a bounded worker pool. Jobs outlive the
// request that scheduled them.
type Runner struct {
	notes  NoteStore
	config RunnerConfig
	logger *observability.Logger

	queue chan Job
	wg    sync.WaitGroup

	mu      sync.RWMutex
	running bool
	stopped bool
}

// NewRunner creates a runner. Call Start before enqueueing.
func NewRunner(notes NoteStore, config RunnerConfig) (*Runner, error) {
	if notes == nil {
		return nil, errors.New("enrichment: note store is required")
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	return &Runner{
		notes:  notes,
		config: config,
		logger: config.Logger.WithFields("component", "enrichment"),
		queue:  make(chan Job, config.QueueSize),
	}, nil
}

// Start launches the workers.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.stopped {
		return
	}
	r.running = true
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Stop stops accepting jobs and waits for queued ones to drain.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	wasRunning := r.running
	r.running = false
	close(r.queue)
	r.mu.Unlock()

	if !wasRunning {
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoteChanged schedules embedding and tagging for a note that was just
// created or updated. It never blocks.
func (r *Runner) NoteChanged(ctx context.Context, userID string, note *models.Note) {
	if note == nil {
		return
	}
	if r.config.Embedder != nil {
		r.tryEnqueue(ctx, Job{Kind: JobEmbed, UserID: userID, Note: *note})
	}
	if r.config.Tagger != nil {
		r.tryEnqueue(ctx, Job{Kind: JobTag, UserID: userID, Note: *note})
	}
}

// Enqueue schedules a job, returning an error when the queue is full or the
// runner is stopped.
func (r *Runner) Enqueue(ctx context.Context, job Job) error {
	job.ctx = context.WithoutCancel(ctx)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrRunnerStopped
	}
	select {
	case r.queue <- job:
		return nil
	default:
		return fmt.Errorf("enrichment queue full (%d jobs)", cap(r.queue))
	}
}

func (r *Runner) tryEnqueue(ctx context.Context, job Job) {
	if err := r.Enqueue(ctx, job); err != nil {
		r.logger.Warn(ctx, "dropping enrichment job", "kind", job.Kind, "note_id", job.Note.ID, "error", err)
		r.config.Metrics.RecordEnrichmentJob(string(job.Kind), StatusDropped)
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for job := range r.queue {
		r.run(job)
	}
}

func (r *Runner) run(job Job) {
	base := job.ctx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, r.config.Timeout)
	defer cancel()

	start := time.Now()
	status, err := r.execute(ctx, job)
	if err != nil {
		r.logger.Error(ctx, "enrichment job failed",
			"kind", job.Kind,
			"note_id", job.Note.ID,
			"error", err,
		)
	} else {
		r.logger.Debug(ctx, "enrichment job finished",
			"kind", job.Kind,
			"note_id", job.Note.ID,
			"status", status,
			"duration", time.Since(start),
		)
	}
	r.config.Metrics.RecordEnrichmentJob(string(job.Kind), status)
}

func (r *Runner) execute(ctx context.Context, job Job) (status string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			status, err = StatusError, fmt.Errorf("panic: %v", rec)
		}
	}()

	switch job.Kind {
	case JobEmbed:
		return r.embed(ctx, job)
	case JobTag:
		return r.tag(ctx, job)
	default:
		return StatusError, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (r *Runner) embed(ctx context.Context, job Job) (string, error) {
	if r.config.Embedder == nil {
		return StatusSkipped, nil
	}
	text := models.EmbeddingText(job.Note.Title, job.Note.Content)
	if text == "" {
		return StatusSkipped, nil
	}
	vector, err := r.config.Embedder.Embed(ctx, text)
	if err != nil {
		return StatusError, fmt.Errorf("embed note: %w", err)
	}
	if len(vector) == 0 {
		return StatusSkipped, nil
	}
	if err := r.notes.SetEmbedding(ctx, job.Note.ID, vector); err != nil {
		return StatusError, err
	}
	return StatusSuccess, nil
}

func (r *Runner) tag(ctx context.Context, job Job) (string, error) {
	if r.config.Tagger == nil {
		return StatusSkipped, nil
	}
	current, err := r.notes.Get(ctx, job.UserID, job.Note.ID)
	if err != nil {
		return StatusError, fmt.Errorf("load note: %w", err)
	}
	if current == nil {
		return StatusSkipped, nil
	}

	vocab, err := r.notes.TagVocabulary(ctx, job.UserID)
	if err != nil {
		r.logger.Warn(ctx, "tag vocabulary unavailable", "error", err)
		vocab = nil
	}

	suggested, err := r.config.Tagger.SuggestTags(ctx, job.Note.Title, job.Note.Content, vocab, current.Tags)
	if err != nil {
		return StatusError, err
	}
	if len(suggested) == 0 {
		return StatusSkipped, nil
	}

	merged := MergeTags(suggested, current.Tags)
	if slices.Equal(merged, current.Tags) {
		return StatusUnchanged, nil
	}
	if err := r.notes.SetTags(ctx, job.UserID, job.Note.ID, merged); err != nil {
		return StatusError, err
	}
	return StatusSuccess, nil
}
