// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables (RAGCORE_* plus OPENAI_API_KEY / DATABASE_URL)
//  2. Config file (~/.ragcore/config.yaml or ./config.yaml)
//  3. Defaults
//
// Sensitive values (API keys, passwords) are masked in MarshalJSON; when
// adding a sensitive field, update MarshalJSON as well.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the OpenAI API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the default model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidTopK indicates the retrieval top-k value is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidEmbeddingModel indicates the embedding model is empty.
	ErrInvalidEmbeddingModel = errors.New("invalid embedding model")

	// ErrInvalidPostgres indicates a PostgreSQL connection setting is invalid.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidListenAddr indicates the serve address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")
)

// Defaults mirrored from the original deployment.
const (
	DefaultModel          = "gpt-3.5-turbo"
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 2048
	DefaultRetrievalTopK  = 5
	DefaultEmbeddingModel = "text-embedding-ada-002"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// HTTP server
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Completion backend (OpenAI-compatible)
	OpenAIAPIKey  string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE
	OpenAIBaseURL string `mapstructure:"openai_base_url" json:"openai_base_url"`

	// Completion defaults applied when a request omits them
	Model       string  `mapstructure:"model" json:"model"`
	Temperature float64 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Retrieval
	RetrievalTopK  int    `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	EmbeddingModel string `mapstructure:"embedding_model" json:"embedding_model"`

	// Index storage (PostgreSQL + pgvector)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Usage accounting sink (external backend)
	UsageBaseURL string `mapstructure:"usage_base_url" json:"usage_base_url"`
	UsageToken   string `mapstructure:"usage_token" json:"usage_token"` // SENSITIVE
	UsageBuffer  int    `mapstructure:"usage_buffer" json:"usage_buffer"`

	// Tracing
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: environment variables > config file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".ragcore")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("config file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "localhost:8080")
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 0)

	v.SetDefault("openai_base_url", "https://api.openai.com/v1")

	v.SetDefault("model", DefaultModel)
	v.SetDefault("temperature", DefaultTemperature)
	v.SetDefault("max_tokens", DefaultMaxTokens)

	v.SetDefault("retrieval_top_k", DefaultRetrievalTopK)
	v.SetDefault("embedding_model", DefaultEmbeddingModel)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "ragcore")
	v.SetDefault("postgres_password", "ragcore_dev_password")
	v.SetDefault("postgres_db_name", "ragcore")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("usage_base_url", "")
	v.SetDefault("usage_token", "")
	v.SetDefault("usage_buffer", 256)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "ragcore")
	v.SetDefault("tracing.environment", "dev")
}

// bindEnvVariables binds environment overrides explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("openai_base_url", "OPENAI_API_BASE")
	mustBind("listen_addr", "RAGCORE_LISTEN_ADDR")
	mustBind("cors_origins", "RAGCORE_CORS_ORIGINS")
	mustBind("trust_proxy", "RAGCORE_TRUST_PROXY")
	mustBind("rate_burst", "RAGCORE_RATE_BURST")
	mustBind("model", "RAGCORE_MODEL")
	mustBind("usage_base_url", "RAGCORE_USAGE_BASE_URL")
	mustBind("usage_token", "RAGCORE_USAGE_TOKEN")
	mustBind("tracing.enabled", "RAGCORE_TRACING_ENABLED")
	mustBind("tracing.endpoint", "RAGCORE_TRACING_ENDPOINT")
}

// parseDatabaseURL overrides the individual Postgres fields from DATABASE_URL
// when set. The URL form wins over file and defaults.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPostgres, err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidPostgres, u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("%w: invalid port %q", ErrInvalidPostgres, p)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if len(u.Path) > 1 {
		c.PostgresDBName = u.Path[1:]
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// DatabaseURL returns the postgres:// connection URL for pgx and migrations.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// maskedValue replaces sensitive data in serialized config.
const maskedValue = "████████"

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields so config can be logged safely.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	masked.OpenAIAPIKey = maskSecret(c.OpenAIAPIKey)
	masked.PostgresPassword = maskSecret(c.PostgresPassword)
	masked.UsageToken = maskSecret(c.UsageToken)
	return json.Marshal(masked)
}
