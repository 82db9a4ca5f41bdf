package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "notesagent.yaml", `
server:
  host: 0.0.0.0
  extra: true
database:
  driver: sqlite
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "notesagent.yaml", `
database:
  driver: sqlite
llm:
  api_key: sk-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:8000" || cfg.Server.APIPrefix != "/api/v1" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.LLM.AgentModel != "gpt-5" || cfg.LLM.ReasoningEffort != "medium" || cfg.LLM.TextVerbosity != "low" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
	if cfg.Embeddings.Model != "text-embedding-3-small" || cfg.Embeddings.Dimension != 1536 {
		t.Fatalf("embeddings = %+v", cfg.Embeddings)
	}
	if cfg.Embeddings.APIKey != "sk-test" {
		t.Fatalf("embeddings api key should fall back to llm key")
	}
	if !cfg.Enrichment.IsEnabled() || cfg.Enrichment.Model != "gpt-5-nano" || cfg.Enrichment.BackfillSchedule != "@every 15m" {
		t.Fatalf("enrichment = %+v", cfg.Enrichment)
	}
	if !cfg.Database.MigrateOnStart() || !cfg.Observability.MetricsOn() {
		t.Fatal("expected migrations and metrics on by default")
	}
	if cfg.Version != CurrentVersion {
		t.Fatalf("version = %d", cfg.Version)
	}
}

func TestLoadExpandsEnvAndOverrides(t *testing.T) {
	t.Setenv("NOTES_DB", "postgres://localhost/notes")
	t.Setenv("APP_AGENT_MODEL", "gpt-5-mini")
	t.Setenv("APP_JWT_SECRET", "from-env")
	t.Setenv("APP_HTTP_PORT", "9001")

	path := writeConfig(t, "notesagent.yaml", `
server:
  api_prefix: api/v2/
  shutdown_timeout: 3s
database:
  url: ${NOTES_DB}
auth:
  jwt_secret: from-file
llm:
  agent_model: gpt-5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.URL != "postgres://localhost/notes" {
		t.Fatalf("database url = %q", cfg.Database.URL)
	}
	if cfg.LLM.AgentModel != "gpt-5-mini" || cfg.Auth.JWTSecret != "from-env" || cfg.Server.HTTPPort != 9001 {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.LLM, cfg.Auth)
	}
	if cfg.Server.APIPrefix != "/api/v2" || cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Fatalf("server = %+v", cfg.Server)
	}
}

func TestLoadEnvFallbacks(t *testing.T) {
	t.Setenv("NOTES_DB_PATH", "")
	t.Setenv("NOTES_LOG_LEVEL", "warn")

	path := writeConfig(t, "notesagent.yaml", `
database:
  driver: sqlite
  url: ${NOTES_DB_PATH:-notes.db}
logging:
  level: ${NOTES_LOG_LEVEL:-debug}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.URL != "notes.db" {
		t.Errorf("empty variable should take the fallback, got %q", cfg.Database.URL)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("set variable should win over the fallback, got %q", cfg.Logging.Level)
	}
}

func TestLoadParseErrorNamesFile(t *testing.T) {
	path := writeConfig(t, "notesagent.yaml", "database: [unclosed\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "notesagent.yaml") {
		t.Fatalf("expected the file name in the error, got %v", err)
	}
}

func TestLoadBadEnvOverride(t *testing.T) {
	t.Setenv("APP_HTTP_PORT", "eighty")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "APP_HTTP_PORT") {
		t.Fatalf("expected APP_HTTP_PORT error, got %v", err)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte("database:\n  driver: sqlite\n  url: base.db\nlogging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	path := filepath.Join(dir, "notesagent.yaml")
	if err := os.WriteFile(path, []byte("$include: base.yaml\ndatabase:\n  url: override.db\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.URL != "override.db" || cfg.Logging.Level != "debug" {
		t.Fatalf("merged config = %+v %+v", cfg.Database, cfg.Logging)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	_ = os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644)
	_ = os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644)

	if _, err := Load(a); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, "notesagent.json5", `{
  // local development
  database: {driver: "sqlite", url: "notes.db"},
  enrichment: {enabled: false, workers: 2},
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.URL != "notes.db" || cfg.Enrichment.IsEnabled() || cfg.Enrichment.Workers != 2 {
		t.Fatalf("config = %+v %+v", cfg.Database, cfg.Enrichment)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"postgres needs url", "database:\n  driver: postgres\n", "database.url"},
		{"unknown driver", "database:\n  driver: mysql\n", "database.driver"},
		{"dimension mismatch", "database:\n  driver: sqlite\nembeddings:\n  dimension: 768\n", "embeddings.dimension"},
		{"reasoning effort", "database:\n  driver: sqlite\nllm:\n  reasoning_effort: extreme\n", "llm.reasoning_effort"},
		{"verbosity", "database:\n  driver: sqlite\nllm:\n  text_verbosity: loud\n", "llm.text_verbosity"},
		{"log format", "database:\n  driver: sqlite\nlogging:\n  format: xml\n", "logging.format"},
		{"sampling rate", "database:\n  driver: sqlite\nobservability:\n  tracing:\n    sampling_rate: 2\n", "sampling_rate"},
		{"port", "database:\n  driver: sqlite\nserver:\n  http_port: 70000\n", "http_port"},
		{"newer version", "version: 99\ndatabase:\n  driver: sqlite\n", "newer than this build"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "notesagent.yaml", tt.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in error, got %v", tt.want, err)
			}
		})
	}
}

func TestJSONSchema(t *testing.T) {
	raw, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(string(raw), `"agent_model"`) || !strings.Contains(string(raw), `"backfill_schedule"`) {
		t.Fatalf("schema missing yaml field names: %s", raw)
	}
	if schema["$id"] != SchemaID || schema["title"] != "notesagent configuration" {
		t.Fatalf("schema identity = %v %v", schema["$id"], schema["title"])
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
