package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/notesagent/internal/observability"
	"github.com/haasonsaas/notesagent/pkg/models"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// MissingSource lists notes that still need an embedding.
type MissingSource interface {
	MissingEmbeddings(ctx context.Context, limit int) ([]models.Note, error)
}

// BackfillConfig configures a Backfill.
type BackfillConfig struct {
	// Schedule is a cron expression or descriptor. Default: @every 15m
	Schedule string

	// Batch is the number of notes enqueued per run. Default: 50
	Batch int

	Logger *observability.Logger
}

// Backfill periodically re-enqueues embedding jobs for notes that have none,
// healing work lost when a job was dropped or failed.
type Backfill struct {
	runner *Runner
	source MissingSource
	batch  int
	logger *observability.Logger

	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
	inFlight sync.Mutex
}

// NewBackfill validates the schedule and creates a stopped backfill.
func NewBackfill(runner *Runner, source MissingSource, config BackfillConfig) (*Backfill, error) {
	if runner == nil || source == nil {
		return nil, errors.New("backfill: runner and source are required")
	}
	if strings.TrimSpace(config.Schedule) == "" {
		config.Schedule = "@every 15m"
	}
	if config.Batch <= 0 {
		config.Batch = 50
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	schedule, err := cronParser.Parse(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid backfill schedule: %w", err)
	}

	b := &Backfill{
		runner: runner,
		source: source,
		batch:  config.Batch,
		logger: config.Logger.WithFields("component", "embedding-backfill"),
		cron:   cron.New(cron.WithParser(cronParser)),
	}
	b.cron.Schedule(schedule, cron.FuncJob(func() {
		if _, err := b.RunOnce(context.Background()); err != nil {
			b.logger.Error(context.Background(), "embedding backfill failed", "error", err)
		}
	}))
	return b, nil
}

// Start begins running on schedule.
func (b *Backfill) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.cron.Start()
}

// Stop halts the schedule and waits for a running pass to finish.
func (b *Backfill) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	done := b.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce enqueues one batch of notes missing embeddings and reports how many
// were enqueued. Overlapping passes are skipped.
func (b *Backfill) RunOnce(ctx context.Context) (int, error) {
	if !b.inFlight.TryLock() {
		return 0, nil
	}
	defer b.inFlight.Unlock()

	missing, err := b.source.MissingEmbeddings(ctx, b.batch)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, note := range missing {
		if err := b.runner.Enqueue(ctx, Job{Kind: JobEmbed, UserID: note.UserID, Note: note}); err != nil {
			b.logger.Warn(ctx, "backfill stopped early", "enqueued", enqueued, "error", err)
			break
		}
		enqueued++
	}
	if enqueued > 0 {
		b.logger.Info(ctx, "enqueued embedding backfill", "count", enqueued)
	}
	return enqueued, nil
}
