package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/substrata-ai/substrata/internal/queue"
)

// Document is a tenant-owned text document. Language fields are written by
// the Ingestor; everything else belongs to the caller.
type Document struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	BotID        uuid.UUID
	Title        string
	CanonicalURL string
	Content      string
}

// Store persists documents and serves chunk content to the worker loop.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a document Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// UpsertDocument creates or updates a document record. Chunking is not
// triggered here; callers follow up with Ingestor.Ingest.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) error {
	if doc.ID == uuid.Nil || doc.TenantID == uuid.Nil {
		return fmt.Errorf("document id and tenant id are required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, tenant_id, bot_id, title, canonical_url, content, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title, canonical_url = EXCLUDED.canonical_url,
		     content = EXCLUDED.content, updated_at = now()`,
		doc.ID, doc.TenantID, doc.BotID, doc.Title, doc.CanonicalURL, doc.Content,
	)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.ID, err)
	}
	return nil
}

// DeleteDocument removes a document; chunks, jobs, and stored embeddings
// cascade with it.
func (s *Store) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID); err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return nil
}

// ChunkData loads the content and hash for one chunk. Returns
// queue.ErrChunkNotFound (wrapped) when the chunk row no longer exists —
// the worker treats that as a non-retryable data error.
func (s *Store) ChunkData(ctx context.Context, chunkID uuid.UUID) (*queue.ChunkData, error) {
	var data queue.ChunkData
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, bot_id, content, content_hash FROM chunks WHERE id = $1`,
		chunkID,
	).Scan(&data.ID, &data.TenantID, &data.BotID, &data.Text, &data.ContentHash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("chunk %s: %w", chunkID, queue.ErrChunkNotFound)
	case err != nil:
		return nil, fmt.Errorf("loading chunk %s: %w", chunkID, err)
	}
	return &data, nil
}
