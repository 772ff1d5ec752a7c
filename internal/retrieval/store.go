package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conversations persists per-conversation pin state as a uuid[] column.
//
// Conversations is safe for concurrent use by multiple goroutines.
type Conversations struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewConversations creates a conversation pin store.
func NewConversations(pool *pgxpool.Pool, logger *slog.Logger) (*Conversations, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversations{pool: pool, logger: logger}, nil
}

// Pinned returns the conversation's pinned chunk IDs in stored order. An
// unknown conversation has no pins; that is not an error.
func (c *Conversations) Pinned(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := c.pool.QueryRow(ctx,
		`SELECT pinned_chunk_ids FROM conversations WHERE id = $1`,
		conversationID,
	).Scan(&ids)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("loading pins for conversation %s: %w", conversationID, err)
	}
	return ids, nil
}

// SetPinned replaces the conversation's pin set, creating the conversation
// row on first use.
func (c *Conversations) SetPinned(ctx context.Context, conversationID, tenantID, botID uuid.UUID, chunkIDs []uuid.UUID) error {
	if chunkIDs == nil {
		chunkIDs = []uuid.UUID{}
	}
	_, err := c.pool.Exec(ctx,
		`INSERT INTO conversations (id, tenant_id, bot_id, pinned_chunk_ids, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())
		 ON CONFLICT (id) DO UPDATE
		 SET pinned_chunk_ids = EXCLUDED.pinned_chunk_ids, updated_at = now()`,
		conversationID, tenantID, botID, chunkIDs,
	)
	if err != nil {
		return fmt.Errorf("setting pins for conversation %s: %w", conversationID, err)
	}
	return nil
}

// Chunks loads chunk content with its document metadata for the retriever.
//
// Chunks is safe for concurrent use by multiple goroutines.
type Chunks struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewChunks creates a chunk loader.
func NewChunks(pool *pgxpool.Pool, logger *slog.Logger) (*Chunks, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunks{pool: pool, logger: logger}, nil
}

// ChunksByIDs returns the chunks for the given IDs in the order requested.
// IDs whose chunk row no longer exists (the document was deleted or
// re-ingested) are skipped, not errors.
func (c *Chunks) ChunksByIDs(ctx context.Context, ids []uuid.UUID) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := c.pool.Query(ctx,
		`SELECT c.id, c.document_id, c.content,
		        COALESCE(d.title, ''), COALESCE(d.canonical_url, '')
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE c.id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]Chunk, len(ids))
	for rows.Next() {
		var ch Chunk
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Text,
			&ch.Metadata.Title, &ch.Metadata.CanonicalURL); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		byID[ch.ID] = ch
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	// Restore the caller's ordering; the database returns rows in any order.
	out := make([]Chunk, 0, len(byID))
	for _, id := range ids {
		if ch, ok := byID[id]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}
