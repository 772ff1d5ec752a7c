package config

import (
	"errors"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "substrata",
		PostgresPassword: "secret",
		PostgresDBName:   "substrata",
		PostgresSSLMode:  "disable",
		EmbedderModel:    DefaultEmbedderModel,
		ProviderRate:     5,
		ProviderBurst:    1,
		WorkerCount:      4,
		BatchLimit:       50,
		IdlePoll:         2 * time.Second,
		RetrievalTopK:    8,
		LogLevel:         "info",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty host", mutate: func(c *Config) { c.PostgresHost = " " }, wantErr: ErrInvalidPostgresHost},
		{name: "port zero", mutate: func(c *Config) { c.PostgresPort = 0 }, wantErr: ErrInvalidPostgresPort},
		{name: "port too high", mutate: func(c *Config) { c.PostgresPort = 70000 }, wantErr: ErrInvalidPostgresPort},
		{name: "empty db name", mutate: func(c *Config) { c.PostgresDBName = "" }, wantErr: ErrInvalidPostgresDBName},
		{name: "bad ssl mode", mutate: func(c *Config) { c.PostgresSSLMode = "yes" }, wantErr: ErrInvalidPostgresSSLMode},
		{name: "empty embedder model", mutate: func(c *Config) { c.EmbedderModel = "" }, wantErr: ErrInvalidEmbedderModel},
		{name: "negative provider rate", mutate: func(c *Config) { c.ProviderRate = -1 }, wantErr: ErrInvalidProviderRate},
		{name: "zero workers", mutate: func(c *Config) { c.WorkerCount = 0 }, wantErr: ErrInvalidWorkerCount},
		{name: "too many workers", mutate: func(c *Config) { c.WorkerCount = MaxWorkerCount + 1 }, wantErr: ErrInvalidWorkerCount},
		{name: "zero batch limit", mutate: func(c *Config) { c.BatchLimit = 0 }, wantErr: ErrInvalidBatchLimit},
		{name: "zero top-k", mutate: func(c *Config) { c.RetrievalTopK = 0 }, wantErr: ErrInvalidTopK},
		{name: "huge top-k", mutate: func(c *Config) { c.RetrievalTopK = 500 }, wantErr: ErrInvalidTopK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_NilConfig(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate() on nil = %v, want ErrConfigNil", err)
	}
}

func TestRequireAPIKey(t *testing.T) {
	cfg := validConfig()
	if err := cfg.RequireAPIKey(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("RequireAPIKey() without key = %v, want ErrMissingAPIKey", err)
	}

	cfg.GeminiAPIKey = "ai-key-123"
	if err := cfg.RequireAPIKey(); err != nil {
		t.Errorf("RequireAPIKey() with key = %v, want nil", err)
	}
}
