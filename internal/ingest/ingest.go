// Package ingest turns raw document text into chunk rows and pending
// embedding jobs.
//
// Re-ingestion is destructive-and-rebuild: the document's previous chunks
// (and, via cascade, their jobs and stored embeddings) are deleted before the
// new set is written. The whole operation runs in one transaction, so a quota
// or storage failure leaves no partial state behind.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/substrata-ai/substrata/internal/chunker"
	"github.com/substrata-ai/substrata/internal/langdetect"
	"github.com/substrata-ai/substrata/internal/queue"
	"github.com/substrata-ai/substrata/internal/quota"
)

// ErrDocumentNotFound is returned when ingesting a document ID with no row.
var ErrDocumentNotFound = errors.New("document not found")

// LanguageDetector identifies document language when no manual override
// exists. *langdetect.Detector satisfies it.
type LanguageDetector interface {
	Detect(text string) langdetect.Detection
}

// Params describes one ingestion request.
type Params struct {
	DocumentID uuid.UUID
	TenantID   uuid.UUID
	BotID      uuid.UUID
	Text       string
	Plan       quota.Plan

	// LanguageOverride, when non-empty, is trusted with confidence 1.0 and
	// skips detection.
	LanguageOverride string
}

// Result reports what an ingestion produced.
type Result struct {
	ChunkCount int
	JobCount   int
}

// Ingestor orchestrates chunking, language detection, the quota gate, and
// job creation.
//
// Ingestor is safe for concurrent use by multiple goroutines.
type Ingestor struct {
	pool     *pgxpool.Pool
	detector LanguageDetector
	jobs     *queue.Store
	logger   *slog.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(pool *pgxpool.Pool, detector LanguageDetector, logger *slog.Logger) (*Ingestor, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if detector == nil {
		return nil, fmt.Errorf("language detector is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	jobs, err := queue.NewStore(pool, logger)
	if err != nil {
		return nil, err
	}
	return &Ingestor{pool: pool, detector: detector, jobs: jobs, logger: logger}, nil
}

// Ingest (re)builds a document's chunk set and enqueues one pending embedding
// job per chunk, gated by the tenant's quota. Zero resulting chunks is not an
// error: prior chunks are still cleared, nothing is queued, and no quota is
// consumed.
func (ing *Ingestor) Ingest(ctx context.Context, p Params) (Result, error) {
	if p.DocumentID == uuid.Nil || p.TenantID == uuid.Nil {
		return Result{}, fmt.Errorf("document id and tenant id are required")
	}

	lang, confidence, override := ing.resolveLanguage(p)

	tx, err := ing.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("beginning ingest transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			ing.logger.Debug("ingest transaction rollback", "error", rbErr)
		}
	}()

	// Persist the resolved language on the document record.
	tag, err := tx.Exec(ctx,
		`UPDATE documents
		 SET language = $2, language_confidence = $3, language_override = $4, updated_at = now()
		 WHERE id = $1 AND tenant_id = $5`,
		p.DocumentID, lang, confidence, override, p.TenantID,
	)
	if err != nil {
		return Result{}, fmt.Errorf("updating document language: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Result{}, fmt.Errorf("document %s for tenant %s: %w", p.DocumentID, p.TenantID, ErrDocumentNotFound)
	}

	// Destructive rebuild: cascades to embedding jobs and stored vectors.
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, p.DocumentID); err != nil {
		return Result{}, fmt.Errorf("deleting prior chunks: %w", err)
	}

	chunks := chunker.Split(p.Text)
	if len(chunks) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return Result{}, fmt.Errorf("committing empty ingest: %w", err)
		}
		return Result{}, nil
	}

	// Quota gate: count post-delete usage inside the transaction so the
	// check and the insert commit or roll back together.
	var used int64
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE tenant_id = $1`, p.TenantID,
	).Scan(&used); err != nil {
		return Result{}, fmt.Errorf("counting tenant chunks: %w", err)
	}
	if err := quota.Check(p.Plan, quota.ResourceEmbeddingUnits, used, int64(len(chunks))); err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	chunkIDs := make([]uuid.UUID, len(chunks))
	chunkRows := make([][]any, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = uuid.New()
		chunkRows[i] = []any{
			chunkIDs[i], p.DocumentID, p.TenantID, p.BotID,
			c.Index, c.Text, chunker.Hash(c.Text), lang, confidence, now,
		}
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"chunks"},
		[]string{"id", "document_id", "tenant_id", "bot_id", "ordinal", "content", "content_hash", "language", "language_confidence", "created_at"},
		pgx.CopyFromRows(chunkRows),
	); err != nil {
		return Result{}, fmt.Errorf("inserting chunks: %w", err)
	}

	jobCount, err := ing.jobs.EnqueueTx(ctx, tx, p.TenantID, chunkIDs)
	if err != nil {
		return Result{}, fmt.Errorf("enqueueing embedding jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("committing ingest: %w", err)
	}

	ing.logger.Info("document ingested",
		"document_id", p.DocumentID, "tenant_id", p.TenantID,
		"chunks", len(chunks), "language", lang)

	return Result{ChunkCount: len(chunks), JobCount: jobCount}, nil
}

// resolveLanguage applies the override-or-detect rule. Overrides carry
// confidence 1.0; undetermined detection stores a null confidence.
func (ing *Ingestor) resolveLanguage(p Params) (lang string, confidence *float64, override bool) {
	if p.LanguageOverride != "" {
		full := 1.0
		return langdetect.NormalizeTag(p.LanguageOverride), &full, true
	}

	detection := ing.detector.Detect(p.Text)
	if detection.Tag == langdetect.TagUndetermined {
		return detection.Tag, nil, false
	}
	return detection.Tag, &detection.Confidence, false
}
