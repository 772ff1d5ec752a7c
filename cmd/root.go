// Package cmd wires the substrata CLI: schema migration, the embedding
// worker pool, document ingestion, retrieval queries, and queue operations.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/substrata-ai/substrata/internal/config"
	"github.com/substrata-ai/substrata/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "substrata",
	Short: "Substrata - multi-tenant document ingestion and retrieval pipeline",
	Long: `Substrata ingests tenant documents into a chunked, embedded knowledge
base backed by PostgreSQL and pgvector, and serves retrieval queries that
blend conversation-pinned chunks with vector search.

Common workflows:
  substrata migrate          Apply database schema migrations
  substrata worker           Run the embedding worker pool
  substrata ingest <file>    Chunk and enqueue a document
  substrata query <text>     Retrieve the chunks grounding a query
  substrata queue stats      Show embedding queue state for a tenant`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration and installs the configured logger as the
// process default.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	return cfg, logger, nil
}

// newPool opens a pgx connection pool against the configured database.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	return pool, nil
}
