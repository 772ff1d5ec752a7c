package config

import (
	"fmt"
	"strings"
)

// validSSLModes are the sslmode values PostgreSQL accepts.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for errors. It fails fast: the first
// invalid field is reported, wrapped around its sentinel error.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidEmbedderModel)
	}
	if c.ProviderRate < 0 {
		return fmt.Errorf("%w: %v (must be >= 0)", ErrInvalidProviderRate, c.ProviderRate)
	}

	if c.WorkerCount < 1 || c.WorkerCount > MaxWorkerCount {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidWorkerCount, c.WorkerCount, MaxWorkerCount)
	}
	if c.BatchLimit < 1 || c.BatchLimit > 1000 {
		return fmt.Errorf("%w: %d (must be 1-1000)", ErrInvalidBatchLimit, c.BatchLimit)
	}

	if c.RetrievalTopK < 1 || c.RetrievalTopK > 100 {
		return fmt.Errorf("%w: %d (must be 1-100)", ErrInvalidTopK, c.RetrievalTopK)
	}

	return nil
}

// RequireAPIKey checks that the embedding provider API key is present.
// Split from Validate so commands that never call the provider (migrate,
// stats) can load config without a key.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
	}
	return nil
}
