// Package config loads the notesagent configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the main configuration structure for notesagent.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	LLM           LLMConfig           `yaml:"llm"`
	Embeddings    EmbeddingsConfig    `yaml:"embeddings"`
	Enrichment    EnrichmentConfig    `yaml:"enrichment"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	HTTPPort          int           `yaml:"http_port"`
	APIPrefix         string        `yaml:"api_prefix"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver             string        `yaml:"driver"`
	URL                string        `yaml:"url"`
	MaxConnections     int           `yaml:"max_connections"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime"`
	RunMigrations      *bool         `yaml:"run_migrations"`
	EmbeddingDimension int           `yaml:"embedding_dimension"`
}

// MigrateOnStart reports whether migrations run when the server starts.
func (d DatabaseConfig) MigrateOnStart() bool {
	return d.RunMigrations == nil || *d.RunMigrations
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	Issuer      string        `yaml:"issuer"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type LLMConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	AgentModel      string        `yaml:"agent_model"`
	ReasoningEffort string        `yaml:"reasoning_effort"`
	TextVerbosity   string        `yaml:"text_verbosity"`
	MaxRetries      int           `yaml:"max_retries"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type EmbeddingsConfig struct {
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`

	// APIKey and BaseURL fall back to the llm section when empty.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type EnrichmentConfig struct {
	Enabled          *bool         `yaml:"enabled"`
	Model            string        `yaml:"model"`
	ReasoningEffort  string        `yaml:"reasoning_effort"`
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	Timeout          time.Duration `yaml:"timeout"`
	BackfillSchedule string        `yaml:"backfill_schedule"`
	BackfillBatch    int           `yaml:"backfill_batch"`
}

// IsEnabled reports whether background enrichment runs. Default: true
func (e EnrichmentConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type ObservabilityConfig struct {
	MetricsEnabled *bool         `yaml:"metrics_enabled"`
	MetricsPath    string        `yaml:"metrics_path"`
	Tracing        TracingConfig `yaml:"tracing"`
}

// MetricsOn reports whether /metrics is served. Default: true
func (o ObservabilityConfig) MetricsOn() bool {
	return o.MetricsEnabled == nil || *o.MetricsEnabled
}

type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector address. Tracing is off when empty.
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads and parses the configuration file, applies defaults and APP_*
// environment overrides, and validates the result. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		cfg, err = decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8000
	}
	if cfg.Server.APIPrefix == "" {
		cfg.Server.APIPrefix = "/api/v1"
	}
	cfg.Server.APIPrefix = "/" + strings.Trim(cfg.Server.APIPrefix, "/")
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.EmbeddingDimension == 0 {
		cfg.Database.EmbeddingDimension = 1536
	}

	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "notesagent"
	}

	if cfg.LLM.AgentModel == "" {
		cfg.LLM.AgentModel = "gpt-5"
	}
	if cfg.LLM.ReasoningEffort == "" {
		cfg.LLM.ReasoningEffort = "medium"
	}
	if cfg.LLM.TextVerbosity == "" {
		cfg.LLM.TextVerbosity = "low"
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RequestTimeout == 0 {
		cfg.LLM.RequestTimeout = 120 * time.Second
	}

	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = cfg.Database.EmbeddingDimension
	}
	if cfg.Embeddings.APIKey == "" {
		cfg.Embeddings.APIKey = cfg.LLM.APIKey
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = cfg.LLM.BaseURL
	}

	if cfg.Enrichment.Model == "" {
		cfg.Enrichment.Model = "gpt-5-nano"
	}
	if cfg.Enrichment.ReasoningEffort == "" {
		cfg.Enrichment.ReasoningEffort = "minimal"
	}
	if cfg.Enrichment.Workers == 0 {
		cfg.Enrichment.Workers = 4
	}
	if cfg.Enrichment.QueueSize == 0 {
		cfg.Enrichment.QueueSize = 64
	}
	if cfg.Enrichment.Timeout == 0 {
		cfg.Enrichment.Timeout = 60 * time.Second
	}
	if cfg.Enrichment.BackfillSchedule == "" {
		cfg.Enrichment.BackfillSchedule = "@every 15m"
	}
	if cfg.Enrichment.BackfillBatch == 0 {
		cfg.Enrichment.BackfillBatch = 50
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.MetricsPath == "" {
		cfg.Observability.MetricsPath = "/metrics"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "notesagent"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1
	}
}

// envOverrides maps APP_* variables onto config fields.
var envOverrides = map[string]func(*Config, string) error{
	"APP_OPENAI_API_KEY":  func(c *Config, v string) error { c.LLM.APIKey = v; return nil },
	"APP_AGENT_MODEL":     func(c *Config, v string) error { c.LLM.AgentModel = v; return nil },
	"APP_DATABASE_URL":    func(c *Config, v string) error { c.Database.URL = v; return nil },
	"APP_DATABASE_DRIVER": func(c *Config, v string) error { c.Database.Driver = v; return nil },
	"APP_JWT_SECRET":      func(c *Config, v string) error { c.Auth.JWTSecret = v; return nil },
	"APP_LOG_LEVEL":       func(c *Config, v string) error { c.Logging.Level = v; return nil },
	"APP_HTTP_PORT": func(c *Config, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("APP_HTTP_PORT: %w", err)
		}
		c.Server.HTTPPort = port
		return nil
	},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for key, apply := range envOverrides {
		value, ok := lookup(key)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := apply(cfg, strings.TrimSpace(value)); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if err := ValidateVersion(c.Version); err != nil {
		errs = append(errs, err)
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be between 1 and 65535"))
	}

	switch c.Database.Driver {
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			errs = append(errs, errors.New("database.url is required for postgres"))
		} else if _, err := url.Parse(c.Database.URL); err != nil {
			errs = append(errs, fmt.Errorf("database.url: %w", err))
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
	}
	if c.Embeddings.Dimension != c.Database.EmbeddingDimension {
		errs = append(errs, fmt.Errorf("embeddings.dimension (%d) must match database.embedding_dimension (%d)",
			c.Embeddings.Dimension, c.Database.EmbeddingDimension))
	}

	if c.Auth.TokenExpiry < 0 {
		errs = append(errs, errors.New("auth.token_expiry must not be negative"))
	}

	switch c.LLM.ReasoningEffort {
	case "minimal", "low", "medium", "high":
	default:
		errs = append(errs, fmt.Errorf("llm.reasoning_effort must be minimal, low, medium or high, got %q", c.LLM.ReasoningEffort))
	}
	switch c.LLM.TextVerbosity {
	case "low", "medium", "high":
	default:
		errs = append(errs, fmt.Errorf("llm.text_verbosity must be low, medium or high, got %q", c.LLM.TextVerbosity))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_retries must not be negative"))
	}

	if c.Enrichment.Workers < 0 || c.Enrichment.QueueSize < 0 || c.Enrichment.BackfillBatch < 0 {
		errs = append(errs, errors.New("enrichment workers, queue_size and backfill_batch must not be negative"))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}
	if !strings.HasPrefix(c.Observability.MetricsPath, "/") {
		errs = append(errs, errors.New("observability.metrics_path must start with /"))
	}
	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		errs = append(errs, errors.New("observability.tracing.sampling_rate must be between 0 and 1"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}
