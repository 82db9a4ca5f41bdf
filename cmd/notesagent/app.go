package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/notesagent/internal/agent"
	"github.com/haasonsaas/notesagent/internal/agent/providers"
	"github.com/haasonsaas/notesagent/internal/config"
	embeddingsopenai "github.com/haasonsaas/notesagent/internal/embeddings/openai"
	"github.com/haasonsaas/notesagent/internal/enrichment"
	"github.com/haasonsaas/notesagent/internal/notes"
	"github.com/haasonsaas/notesagent/internal/notes/store/pgvector"
	"github.com/haasonsaas/notesagent/internal/notes/store/sqlite"
	"github.com/haasonsaas/notesagent/internal/observability"
)

// noteStore is a notes.Store that manages its own schema.
type noteStore interface {
	notes.Store
	Migrate(ctx context.Context) error
	MigrationStatus(ctx context.Context) ([]notes.MigrationState, error)
	Ping(ctx context.Context) error
}

// openStore opens the configured note store without migrating it.
func openStore(cfg *config.Config) (noteStore, error) {
	switch cfg.Database.Driver {
	case "postgres":
		store, err := pgvector.New(pgvector.Config{
			DSN:             cfg.Database.URL,
			Dimension:       cfg.Database.EmbeddingDimension,
			MaxConnections:  cfg.Database.MaxConnections,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.New(sqlite.Config{
			Path:      sqlitePath(cfg.Database.URL),
			Dimension: cfg.Database.EmbeddingDimension,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// sqlitePath accepts a bare path or a sqlite:// or file: URL. Empty means
// notesagent.db in the working directory.
func sqlitePath(url string) string {
	path := strings.TrimSpace(url)
	path = strings.TrimPrefix(path, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "notesagent.db"
	}
	return path
}

func newLogger(cfg *config.Config, debug bool) *observability.Logger {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(logger.Slog())
	return logger
}

// appOptions adjusts how the application is assembled.
type appOptions struct {
	debug bool

	// model replaces the OpenAI client, e.g. with a tape replayer.
	model agent.ModelClient

	// wrapModel wraps the model client, e.g. with a tape recorder.
	wrapModel func(agent.ModelClient) agent.ModelClient

	// background starts the enrichment runner and backfill schedule.
	background bool
}

// app holds the process-wide collaborators shared by every chat run.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	tracer   *observability.Tracer
	registry *prometheus.Registry
	metrics  *observability.Metrics

	store    noteStore
	notes    *notes.Service
	runner   *enrichment.Runner
	backfill *enrichment.Backfill
	agent    *agent.Agent

	shutdownTracer func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg, logger: newLogger(cfg, opts.debug)}

	a.tracer, a.shutdownTracer = observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.registry)

	defer func() {
		if err != nil {
			a.close(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	a.store, err = openStore(cfg)
	if err != nil {
		return a, fmt.Errorf("open note store: %w", err)
	}
	if cfg.Database.MigrateOnStart() {
		if err := a.store.Migrate(ctx); err != nil {
			return a, fmt.Errorf("migrate note store: %w", err)
		}
	}

	a.notes, err = notes.NewService(a.store, notes.ServiceConfig{Logger: a.logger, Tracer: a.tracer})
	if err != nil {
		return a, err
	}

	var embedder agent.Embedder
	var runnerEmbedder enrichment.Embedder
	if cfg.Embeddings.APIKey != "" {
		provider, err := embeddingsopenai.New(embeddingsopenai.Config{
			APIKey:     cfg.Embeddings.APIKey,
			BaseURL:    cfg.Embeddings.BaseURL,
			Model:      cfg.Embeddings.Model,
			Dimension:  cfg.Embeddings.Dimension,
			MaxRetries: cfg.LLM.MaxRetries,
		})
		if err != nil {
			return a, fmt.Errorf("embeddings: %w", err)
		}
		embedder, runnerEmbedder = provider, provider
	} else {
		a.logger.Warn(ctx, "no embeddings api key; search is lexical only and notes are not embedded")
	}

	if cfg.Enrichment.IsEnabled() && cfg.LLM.APIKey != "" {
		runnerCfg := enrichment.RunnerConfig{
			Workers:   cfg.Enrichment.Workers,
			QueueSize: cfg.Enrichment.QueueSize,
			Timeout:   cfg.Enrichment.Timeout,
			Embedder:  runnerEmbedder,
			Logger:    a.logger,
			Metrics:   a.metrics,
		}
		tagger, err := enrichment.NewTagger(enrichment.TaggerConfig{
			APIKey:          cfg.LLM.APIKey,
			BaseURL:         cfg.LLM.BaseURL,
			Model:           cfg.Enrichment.Model,
			ReasoningEffort: cfg.Enrichment.ReasoningEffort,
			MaxRetries:      cfg.LLM.MaxRetries,
			Logger:          a.logger,
		})
		if err != nil {
			return a, fmt.Errorf("tagger: %w", err)
		}
		runnerCfg.Tagger = tagger

		a.runner, err = enrichment.NewRunner(a.notes, runnerCfg)
		if err != nil {
			return a, err
		}
		if runnerEmbedder != nil {
			a.backfill, err = enrichment.NewBackfill(a.runner, a.notes, enrichment.BackfillConfig{
				Schedule: cfg.Enrichment.BackfillSchedule,
				Batch:    cfg.Enrichment.BackfillBatch,
				Logger:   a.logger,
			})
			if err != nil {
				return a, err
			}
		}
	}

	model := opts.model
	if model == nil {
		client, err := providers.NewOpenAIResponses(providers.OpenAIResponsesConfig{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			DefaultModel:   cfg.LLM.AgentModel,
			MaxRetries:     cfg.LLM.MaxRetries,
			RequestTimeout: cfg.LLM.RequestTimeout,
		})
		if err != nil {
			return a, fmt.Errorf("model client: %w", err)
		}
		model = client
	}
	if opts.wrapModel != nil {
		model = opts.wrapModel(model)
	}

	tools := agent.MustToolRegistry()
	dispatcherCfg := agent.DispatcherConfig{
		Embedder: embedder,
		Logger:   a.logger,
		Metrics:  a.metrics,
		Tracer:   a.tracer,
	}
	if a.runner != nil {
		dispatcherCfg.Enricher = a.runner
	}
	dispatcher, err := agent.NewDispatcher(tools, a.notes, dispatcherCfg)
	if err != nil {
		return a, err
	}
	a.agent, err = agent.NewAgent(model, tools, dispatcher, &agent.Config{
		Model:           cfg.LLM.AgentModel,
		ReasoningEffort: cfg.LLM.ReasoningEffort,
		TextVerbosity:   cfg.LLM.TextVerbosity,
		Taxonomy:        a.notes,
		Logger:          a.logger,
		Metrics:         a.metrics,
		Tracer:          a.tracer,
	})
	if err != nil {
		return a, err
	}

	if a.runner != nil {
		a.runner.Start()
		if opts.background && a.backfill != nil {
			a.backfill.Start()
		}
	}
	return a, nil
}

// close stops background work, drains queued enrichment jobs and releases
// the store and tracer.
func (a *app) close(ctx context.Context) {
	var errs []error
	if a.backfill != nil {
		errs = append(errs, a.backfill.Stop(ctx))
	}
	if a.runner != nil {
		errs = append(errs, a.runner.Stop(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.shutdownTracer != nil {
		errs = append(errs, a.shutdownTracer(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn(ctx, "shutdown incomplete", "error", err)
	}
}
