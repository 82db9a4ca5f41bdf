// Package main provides the CLI entry point for notesagent, a personal notes
// assistant that answers questions and edits notes through tool calls.
//
// # Basic Usage
//
// Start the server:
//
//	notesagent serve --config notesagent.yaml
//
// Manage database migrations:
//
//	notesagent migrate up
//	notesagent migrate status
//
// Mint a development token and chat from the terminal:
//
//	notesagent token user-123
//	notesagent chat --user user-123 "what's on my grocery list?"
//
// # Environment Variables
//
//   - NOTESAGENT_CONFIG: Path to configuration file (default: notesagent.yaml when present)
//   - APP_OPENAI_API_KEY, APP_AGENT_MODEL, APP_DATABASE_URL, APP_DATABASE_DRIVER,
//     APP_JWT_SECRET, APP_LOG_LEVEL, APP_HTTP_PORT: override config values
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "notesagent.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "notesagent",
		Short: "notesagent - personal notes assistant",
		Long: `notesagent answers questions about your notes and keeps them organized.

It drives an OpenAI model through note tools (search, create, update, delete),
streams answers over server-sent events, and enriches notes in the background
with embeddings and tags.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML or JSON5 configuration file (or set NOTESAGENT_CONFIG)")

	resolve := func() string { return resolveConfigPath(configPath) }
	rootCmd.AddCommand(
		buildServeCmd(resolve),
		buildMigrateCmd(resolve),
		buildTokenCmd(resolve),
		buildChatCmd(resolve),
		buildConfigCmd(resolve),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath picks the flag, then NOTESAGENT_CONFIG, then
// ./notesagent.yaml when it exists. An empty result means environment only.
func resolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("NOTESAGENT_CONFIG")); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}
	return ""
}
