// Package vectorstore persists the per-chunk embeddings used for retrieval
// and answers nearest-neighbor queries over them.
//
// One stored embedding exists per chunk once its job completes; this is
// distinct from the embedding cache, which holds reusable vectors keyed by
// content hash.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// upsertSQL keeps exactly one stored embedding per chunk. Re-running a job
// (e.g. after a worker crash between store and complete) overwrites in place.
const upsertSQL = `INSERT INTO chunk_embeddings (chunk_id, tenant_id, bot_id, embedding, created_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (chunk_id) DO UPDATE
	SET embedding = EXCLUDED.embedding`

// searchSQL ranks by cosine distance. Similarity = 1 - distance; pgvector's
// ORDER BY <=> keeps the scan index-friendly.
const searchSQL = `SELECT c.id, c.document_id, c.content,
		1 - (e.embedding <=> $1) AS similarity,
		d.title, d.canonical_url
	FROM chunk_embeddings e
	JOIN chunks c ON c.id = e.chunk_id
	JOIN documents d ON d.id = c.document_id
	WHERE e.tenant_id = $2 AND e.bot_id = $3
	ORDER BY e.embedding <=> $1
	LIMIT $4`

// Match is one nearest-neighbor result.
type Match struct {
	ChunkID      uuid.UUID
	DocumentID   uuid.UUID
	Text         string
	Similarity   float32
	Title        string
	CanonicalURL string
}

// Store reads and writes stored chunk embeddings.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Upsert stores the embedding for a chunk, replacing any previous vector.
func (s *Store) Upsert(ctx context.Context, chunkID, tenantID, botID uuid.UUID, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("refusing to store empty vector for chunk %s", chunkID)
	}
	_, err := s.pool.Exec(ctx, upsertSQL, chunkID, tenantID, botID, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("storing embedding for chunk %s: %w", chunkID, err)
	}
	return nil
}

// Search returns the topK nearest chunks to queryVec within a tenant/bot
// scope, ordered by descending similarity. Ties keep database return order.
func (s *Store) Search(ctx context.Context, tenantID, botID uuid.UUID, queryVec []float32, topK int32) ([]Match, error) {
	rows, err := s.pool.Query(ctx, searchSQL, pgvector.NewVector(queryVec), tenantID, botID, topK)
	if err != nil {
		return nil, fmt.Errorf("searching embeddings: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.Text, &m.Similarity, &m.Title, &m.CanonicalURL); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}

	return matches, nil
}
