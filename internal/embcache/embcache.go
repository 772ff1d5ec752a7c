// Package embcache is the content-addressed embedding cache.
//
// Entries are keyed by (content hash, tenant, model version). The tenant in
// the key is what prevents cross-tenant leakage through the cache: identical
// text in two tenants never shares an entry. The model version in the key
// means a provider upgrade starts a fresh namespace without deleting old rows,
// which stay queryable for rollback and analysis.
package embcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/substrata-ai/substrata/internal/background"
)

// bookkeepingTimeout bounds the detached usage-counter update.
const bookkeepingTimeout = 5 * time.Second

const getSQL = `SELECT embedding
	FROM embedding_cache
	WHERE content_hash = $1 AND tenant_id = $2 AND model_version = $3`

const bumpSQL = `UPDATE embedding_cache
	SET use_count = use_count + 1, last_used_at = now()
	WHERE content_hash = $1 AND tenant_id = $2 AND model_version = $3`

// putSQL tolerates two workers racing to cache the same key: last write wins,
// the usage counter never drops below 1, and last_used_at refreshes.
const putSQL = `INSERT INTO embedding_cache
		(content_hash, tenant_id, model_version, embedding, use_count, last_used_at, created_at)
	VALUES ($1, $2, $3, $4, 1, now(), now())
	ON CONFLICT (content_hash, tenant_id, model_version) DO UPDATE
	SET embedding = EXCLUDED.embedding,
	    use_count = GREATEST(embedding_cache.use_count, 1),
	    last_used_at = now()`

// Cache stores computed embeddings in PostgreSQL for reuse across documents
// and re-ingestions.
//
// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Cache backed by the given pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Cache, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{pool: pool, logger: logger}, nil
}

// Get looks up a cached vector. found is false on a miss. A hit bumps the
// entry's usage counter in a detached task; bookkeeping failure never fails
// the read.
func (c *Cache) Get(ctx context.Context, hash string, tenantID uuid.UUID, modelVersion string) (vec []float32, found bool, err error) {
	var v pgvector.Vector
	queryErr := c.pool.QueryRow(ctx, getSQL, hash, tenantID, modelVersion).Scan(&v)
	switch {
	case errors.Is(queryErr, pgx.ErrNoRows):
		return nil, false, nil
	case queryErr != nil:
		return nil, false, fmt.Errorf("reading embedding cache: %w", queryErr)
	}

	background.Go(c.logger, "embcache-usage-bump", bookkeepingTimeout, func(ctx context.Context) error {
		_, bumpErr := c.pool.Exec(ctx, bumpSQL, hash, tenantID, modelVersion)
		return bumpErr
	})

	return v.Slice(), true, nil
}

// Put upserts a vector under (hash, tenant, modelVersion). Concurrent writers
// computing the same embedding do not conflict.
func (c *Cache) Put(ctx context.Context, hash string, tenantID uuid.UUID, modelVersion string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("refusing to cache empty vector for hash %s", hash)
	}
	_, err := c.pool.Exec(ctx, putSQL, hash, tenantID, modelVersion, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("upserting embedding cache entry: %w", err)
	}
	return nil
}
