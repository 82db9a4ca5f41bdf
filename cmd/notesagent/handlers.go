package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/notesagent/internal/agent"
	"github.com/haasonsaas/notesagent/internal/agent/tape"
	"github.com/haasonsaas/notesagent/internal/auth"
	"github.com/haasonsaas/notesagent/internal/config"
	"github.com/haasonsaas/notesagent/internal/gateway"
	"github.com/haasonsaas/notesagent/pkg/models"
)

const shutdownGrace = 30 * time.Second

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if path == "" {
			return nil, fmt.Errorf("load config from environment: %w", err)
		}
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func newAuthService(cfg *config.Config) *auth.Service {
	return auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		Issuer:      cfg.Auth.Issuer,
		TokenExpiry: cfg.Auth.TokenExpiry,
	})
}

// =============================================================================
// serve
// =============================================================================

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	authService := newAuthService(cfg)
	if !authService.Enabled() {
		return errors.New("auth.jwt_secret (or APP_JWT_SECRET) is required to serve")
	}

	a, err := newApp(ctx, cfg, appOptions{debug: debug, background: true})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		a.close(closeCtx)
	}()

	var gatherer prometheus.Gatherer
	if cfg.Observability.MetricsOn() {
		gatherer = a.registry
	}
	gatewayCfg := gateway.Config{
		Addr:              cfg.Server.Addr(),
		APIPrefix:         cfg.Server.APIPrefix,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		MetricsPath:       cfg.Observability.MetricsPath,
		Gatherer:          gatherer,
		Health:            a.store.Ping,
		Version:           version,
		Auth:              authService,
		Chat:              a.agent,
		Notes:             a.notes,
		Logger:            a.logger,
		Metrics:           a.metrics,
	}
	if a.runner != nil {
		gatewayCfg.Enricher = a.runner
	}
	server, err := gateway.New(gatewayCfg)
	if err != nil {
		return err
	}

	a.logger.Info(ctx, "starting notesagent",
		"version", version,
		"addr", cfg.Server.Addr(),
		"driver", cfg.Database.Driver,
		"model", cfg.LLM.AgentModel,
		"enrichment", a.runner != nil,
	)
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	a.logger.Info(context.WithoutCancel(ctx), "notesagent stopped")
	return nil
}

// =============================================================================
// migrate
// =============================================================================

func runMigrateUp(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(out, "migrations applied")
	return nil
}

func runMigrateStatus(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	states, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tAPPLIED AT")
	for _, state := range states {
		status, appliedAt := "pending", "-"
		if state.Applied {
			status = "applied"
			if state.AppliedAt != nil {
				appliedAt = state.AppliedAt.UTC().Format(time.RFC3339)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", state.ID, status, appliedAt)
	}
	return tw.Flush()
}

// =============================================================================
// token
// =============================================================================

func runToken(out io.Writer, configPath, userID string, expiry time.Duration) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if expiry > 0 {
		cfg.Auth.TokenExpiry = expiry
	}
	token, err := newAuthService(cfg).GenerateToken(userID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

// =============================================================================
// chat
// =============================================================================

type chatOptions struct {
	userID             string
	previousResponseID string
	recordPath         string
	replayPath         string
	message            string
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runChat(ctx context.Context, out io.Writer, configPath string, opts chatOptions) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var appOpts appOptions
	var recorder *tape.Recorder
	switch {
	case opts.replayPath != "":
		recorded, err := tape.ReadFile(opts.replayPath)
		if err != nil {
			return err
		}
		appOpts.model = tape.NewReplayer(recorded).WithMode(tape.ReplayLoose)
	case opts.recordPath != "":
		appOpts.wrapModel = func(client agent.ModelClient) agent.ModelClient {
			recorder = tape.NewRecorder(client).WithModel(cfg.LLM.AgentModel)
			return recorder
		}
	}

	a, err := newApp(ctx, cfg, appOpts)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		a.close(closeCtx)
	}()

	events, err := a.agent.Chat(ctx, agent.ChatRequest{
		UserID:             opts.userID,
		Message:            opts.message,
		PreviousResponseID: opts.previousResponseID,
	})
	if err != nil {
		return err
	}

	var failure error
	for ev := range events {
		if err := gateway.WriteEvent(out, ev); err != nil {
			failure = err
		}
		if ev.Type == models.ChatEventError {
			failure = fmt.Errorf("chat failed: %s", ev.Message)
		}
	}

	if recorder != nil {
		if err := recorder.Tape().WriteFile(opts.recordPath); err != nil {
			return errors.Join(failure, fmt.Errorf("write tape: %w", err))
		}
	}
	return failure
}

// =============================================================================
// config
// =============================================================================

func runConfigValidate(out io.Writer, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	source := configPath
	if source == "" {
		source = "environment"
	}
	fmt.Fprintf(out, "config ok (%s): driver=%s model=%s addr=%s\n",
		source, cfg.Database.Driver, cfg.LLM.AgentModel, cfg.Server.Addr())
	return nil
}

func runConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = out.Write(append(schema, '\n'))
	return err
}
