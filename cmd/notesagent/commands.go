package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

func buildServeCmd(configPath func() string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the notesagent HTTP server.

The server will:
1. Load configuration and open the note store (postgres or sqlite)
2. Apply pending migrations unless database.run_migrations is false
3. Start the enrichment workers and the embedding backfill schedule
4. Serve POST {api_prefix}/chat/stream, /healthz and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with ./notesagent.yaml
  notesagent serve

  # Start with a custom config and debug logging
  notesagent serve --config /etc/notesagent/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath(), debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// =============================================================================
// Migration Commands
// =============================================================================

func buildMigrateCmd(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd.Context(), cmd.OutOrStdout(), configPath())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context(), cmd.OutOrStdout(), configPath())
		},
	})
	return cmd
}

// =============================================================================
// Token Command
// =============================================================================

func buildTokenCmd(configPath func() string) *cobra.Command {
	var expiry time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for a user",
		Long: `Mint an HS256 bearer token whose subject is the given user id.

The token is signed with auth.jwt_secret (or APP_JWT_SECRET) and is intended
for development and scripted access.`,
		Example: `  notesagent token 3f1c2a9e-6b0d-4f43-9a55-0b7d3c1e8f21 --expiry 1h`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd.OutOrStdout(), configPath(), args[0], expiry)
		},
	}
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "Token lifetime (default: auth.token_expiry)")
	return cmd
}

// =============================================================================
// Chat Command
// =============================================================================

func buildChatCmd(configPath func() string) *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one message and print the event stream",
		Long: `Run a single chat turn from the terminal and print its events in the
same frame format as the HTTP endpoint.

--record saves every model interaction to a tape file; --replay answers from
a recorded tape instead of calling the model.`,
		Example: `  notesagent chat --user user-1 "add milk to my grocery list"
  notesagent chat --user user-1 --previous-response-id resp_123 "and eggs"
  notesagent chat --user user-1 --record session.tape.json "what's due friday?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.message = joinArgs(args)
			return runChat(cmd.Context(), cmd.OutOrStdout(), configPath(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.userID, "user", "", "User id owning the notes (required)")
	cmd.Flags().StringVar(&opts.previousResponseID, "previous-response-id", "", "Continue an earlier conversation")
	cmd.Flags().StringVar(&opts.recordPath, "record", "", "Record model interactions to this tape file")
	cmd.Flags().StringVar(&opts.replayPath, "replay", "", "Replay model interactions from this tape file")
	cmd.MarkFlagsMutuallyExclusive("record", "replay")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd.OutOrStdout(), configPath())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd.OutOrStdout())
		},
	})
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "notesagent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
