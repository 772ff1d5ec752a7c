// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./substrata.yaml or /etc/substrata/substrata.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Storage: PostgreSQL connection (see storage.go)
//   - Embedding: provider model, API key, rate limit
//   - Worker: pool size, batch limit, idle polling
//   - Retrieval: nearest-neighbor result count
//
// Security: sensitive data (passwords, API keys) is never logged; Config
// masks it in MarshalJSON and String.
// Validation: range checks in validation.go with sentinel errors for
// errors.Is() checks.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the embedding provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbedderModel indicates the embedder model name is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidWorkerCount indicates the worker count is out of range.
	ErrInvalidWorkerCount = errors.New("invalid worker count")

	// ErrInvalidBatchLimit indicates the batch limit is out of range.
	ErrInvalidBatchLimit = errors.New("invalid batch limit")

	// ErrInvalidProviderRate indicates the provider rate limit is negative.
	ErrInvalidProviderRate = errors.New("invalid provider rate")

	// ErrInvalidTopK indicates the retrieval result count is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality; the pgvector schema uses
	// 768, see embedding.VectorDimension.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultWorkerCount is the default embedding worker pool size.
	DefaultWorkerCount = 4

	// MaxWorkerCount caps the pool size; beyond this the database claim
	// contention outweighs any throughput gain.
	MaxWorkerCount = 64

	// DefaultIdlePoll is the base delay between queue polls when no jobs are
	// pending. The worker loop backs off exponentially from here.
	DefaultIdlePoll = 2 * time.Second
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys), update MarshalJSON.
type Config struct {
	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Embedding provider configuration
	EmbedderModel  string  `mapstructure:"embedder_model" json:"embedder_model"`
	GeminiAPIKey   string  `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON
	ProviderRate   float64 `mapstructure:"provider_rate" json:"provider_rate"`   // provider calls per second, 0 disables limiting
	ProviderBurst  int     `mapstructure:"provider_burst" json:"provider_burst"`

	// Worker pool configuration
	WorkerCount int           `mapstructure:"worker_count" json:"worker_count"`
	BatchLimit  int           `mapstructure:"batch_limit" json:"batch_limit"`
	IdlePoll    time.Duration `mapstructure:"idle_poll" json:"idle_poll"`

	// Retrieval configuration
	RetrievalTopK int32 `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	viper.SetConfigName("substrata")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/substrata")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"config_name", "substrata.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// PostgreSQL defaults (local development)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "substrata")
	viper.SetDefault("postgres_password", "substrata_dev_password")
	viper.SetDefault("postgres_db_name", "substrata")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Embedding defaults
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("provider_rate", 5.0)
	viper.SetDefault("provider_burst", 1)

	// Worker defaults
	viper.SetDefault("worker_count", DefaultWorkerCount)
	viper.SetDefault("batch_limit", 50)
	viper.SetDefault("idle_poll", DefaultIdlePoll)

	// Retrieval defaults
	viper.SetDefault("retrieval_top_k", 8)

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", true)
}

// bindEnvVariables binds environment variables explicitly. Secrets arrive
// only through the environment, never the config file in production.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("embedder_model", "SUBSTRATA_EMBEDDER_MODEL")
	mustBind("worker_count", "SUBSTRATA_WORKER_COUNT")
	mustBind("batch_limit", "SUBSTRATA_BATCH_LIMIT")
	mustBind("provider_rate", "SUBSTRATA_PROVIDER_RATE")
	mustBind("retrieval_top_k", "SUBSTRATA_RETRIEVAL_TOP_K")
	mustBind("log_level", "SUBSTRATA_LOG_LEVEL")
	mustBind("log_json", "SUBSTRATA_LOG_JSON")

	// NOTE: DATABASE_URL is read directly in parseDatabaseURL, not via Viper.
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matching against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 chars or
// fewer are fully masked; longer ones keep the first and last 2 characters
// for debug utility.
//
// THREAT MODEL: this defends against accidental logging of real secrets. If
// logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//   - GeminiAPIKey
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
