//go:build integration

package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/substrata-ai/substrata/internal/langdetect"
	"github.com/substrata-ai/substrata/internal/log"
	"github.com/substrata-ai/substrata/internal/queue"
	"github.com/substrata-ai/substrata/internal/quota"
	"github.com/substrata-ai/substrata/internal/testutil"
)

// staticDetector avoids loading lingua's models in container tests.
type staticDetector struct {
	detection langdetect.Detection
}

func (d *staticDetector) Detect(string) langdetect.Detection {
	return d.detection
}

func englishDetector() *staticDetector {
	return &staticDetector{detection: langdetect.Detection{Tag: "en", Confidence: 0.93}}
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(parts, " ")
}

type ingestFixture struct {
	store    *Store
	ingestor *Ingestor
	testDB   *testutil.TestDB

	docID    uuid.UUID
	tenantID uuid.UUID
	botID    uuid.UUID
}

func newIngestFixture(t *testing.T) (*ingestFixture, func()) {
	t.Helper()

	testDB, cleanup := testutil.SetupTestDB(t)

	logger := log.NewNop()
	store, err := NewStore(testDB.Pool, logger)
	require.NoError(t, err)
	ingestor, err := NewIngestor(testDB.Pool, englishDetector(), logger)
	require.NoError(t, err)

	f := &ingestFixture{
		store:    store,
		ingestor: ingestor,
		testDB:   testDB,
		docID:    uuid.New(),
		tenantID: uuid.New(),
		botID:    uuid.New(),
	}

	require.NoError(t, store.UpsertDocument(context.Background(), Document{
		ID:       f.docID,
		TenantID: f.tenantID,
		BotID:    f.botID,
		Title:    "Test Document",
		Content:  "placeholder",
	}))

	return f, cleanup
}

func (f *ingestFixture) chunkCount(t *testing.T) int {
	t.Helper()
	var n int
	err := f.testDB.Pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM chunks WHERE document_id = $1`, f.docID).Scan(&n)
	require.NoError(t, err)
	return n
}

func (f *ingestFixture) pendingJobs(t *testing.T) int {
	t.Helper()
	var n int
	err := f.testDB.Pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM embedding_jobs WHERE tenant_id = $1 AND status = 'pending'`,
		f.tenantID).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestIngest_ChunksAndEnqueues(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	f, cleanup := newIngestFixture(t)
	defer cleanup()
	ctx := context.Background()

	result, err := f.ingestor.Ingest(ctx, Params{
		DocumentID: f.docID,
		TenantID:   f.tenantID,
		BotID:      f.botID,
		Text:       words(1300),
		Plan:       quota.PlanPro,
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.ChunkCount)
	require.Equal(t, result.ChunkCount, result.JobCount, "one job per chunk")
	require.Equal(t, 3, f.chunkCount(t))
	require.Equal(t, 3, f.pendingJobs(t))

	// Ordinals are gapless from zero; every chunk carries a hash and the
	// resolved language.
	rows, err := f.testDB.Pool.Query(ctx,
		`SELECT ordinal, content_hash, language FROM chunks WHERE document_id = $1 ORDER BY ordinal`,
		f.docID)
	require.NoError(t, err)
	defer rows.Close()

	want := 0
	for rows.Next() {
		var ordinal int
		var hash, language string
		require.NoError(t, rows.Scan(&ordinal, &hash, &language))
		require.Equal(t, want, ordinal)
		require.Len(t, hash, 64)
		require.Equal(t, "en", language)
		want++
	}
	require.NoError(t, rows.Err())

	// The document record carries the detection result too.
	var docLang string
	var confidence float64
	var override bool
	err = f.testDB.Pool.QueryRow(ctx,
		`SELECT language, language_confidence, language_override FROM documents WHERE id = $1`,
		f.docID).Scan(&docLang, &confidence, &override)
	require.NoError(t, err)
	require.Equal(t, "en", docLang)
	require.InDelta(t, 0.93, confidence, 0.001)
	require.False(t, override)
}

func TestIngest_JobsClaimableThroughQueue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	f, cleanup := newIngestFixture(t)
	defer cleanup()
	ctx := context.Background()

	result, err := f.ingestor.Ingest(ctx, Params{
		DocumentID: f.docID,
		TenantID:   f.tenantID,
		BotID:      f.botID,
		Text:       words(100),
		Plan:       quota.PlanFree,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.JobCount)

	// The rows ingestion enqueued must be what the queue store hands out:
	// pending, zero attempts, claimable exactly once.
	jobs, err := queue.NewStore(f.testDB.Pool, log.NewNop())
	require.NoError(t, err)

	job, err := jobs.OldestPending(ctx)
	require.NoError(t, err)
	require.Equal(t, queue.StatusPending, job.Status)
	require.Equal(t, f.tenantID, job.TenantID)
	require.Zero(t, job.Attempts)

	attempts, claimed, err := jobs.Claim(ctx, job.ID, "test-worker")
	require.NoError(t, err)
	require.True(t, claimed)
	require.Equal(t, 1, attempts)

	data, err := f.store.ChunkData(ctx, job.ChunkID)
	require.NoError(t, err)
	require.NotEmpty(t, data.Text)
	require.Len(t, data.ContentHash, 64)
}

func TestIngest_ReingestReplacesChunks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	f, cleanup := newIngestFixture(t)
	defer cleanup()
	ctx := context.Background()

	params := Params{
		DocumentID: f.docID,
		TenantID:   f.tenantID,
		BotID:      f.botID,
		Text:       words(1300),
		Plan:       quota.PlanPro,
	}
	_, err := f.ingestor.Ingest(ctx, params)
	require.NoError(t, err)
	require.Equal(t, 3, f.chunkCount(t))

	// Shorter text on re-ingest: the old chunk set (and its jobs) must be
	// gone, not merged.
	params.Text = words(100)
	result, err := f.ingestor.Ingest(ctx, params)
	require.NoError(t, err)
	require.Equal(t, 1, result.ChunkCount)
	require.Equal(t, 1, f.chunkCount(t))
	require.Equal(t, 1, f.pendingJobs(t))
}

func TestIngest_EmptyTextClearsChunks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	f, cleanup := newIngestFixture(t)
	defer cleanup()
	ctx := context.Background()

	params := Params{
		DocumentID: f.docID,
		TenantID:   f.tenantID,
		BotID:      f.botID,
		Text:       words(100),
		Plan:       quota.PlanFree,
	}
	_, err := f.ingestor.Ingest(ctx, params)
	require.NoError(t, err)
	require.Equal(t, 1, f.chunkCount(t))

	params.Text = "   \n  "
	result, err := f.ingestor.Ingest(ctx, params)
	require.NoError(t, err)
	require.Equal(t, 0, result.ChunkCount)
	require.Equal(t, 0, result.JobCount)
	require.Equal(t, 0, f.chunkCount(t), "prior chunks still cleared on empty re-ingest")
	require.Equal(t, 0, f.pendingJobs(t))
}

func TestIngest_QuotaGateRollsBackEverything(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	f, cleanup := newIngestFixture(t)
	defer cleanup()
	ctx := context.Background()

	// 3 chunks against a free-plan tenant already holding 499 units.
	otherDoc := uuid.New()
	require.NoError(t, f.store.UpsertDocument(ctx, Document{
		ID: otherDoc, TenantID: f.tenantID, BotID: f.botID, Content: "filler",
	}))
	for i := 0; i < 499; i++ {
		_, err := f.testDB.Pool.Exec(ctx,
			`INSERT INTO chunks (id, document_id, tenant_id, bot_id, ordinal, content, content_hash)
			 VALUES ($1, $2, $3, $4, $5, 'filler', 'filler-hash')`,
			uuid.New(), otherDoc, f.tenantID, f.botID, i)
		require.NoError(t, err)
	}

	_, err := f.ingestor.Ingest(ctx, Params{
		DocumentID: f.docID,
		TenantID:   f.tenantID,
		BotID:      f.botID,
		Text:       words(1300),
		Plan:       quota.PlanFree,
	})

	var exceeded *quota.ExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, int64(500), exceeded.Limit)

	// The whole transaction rolled back: no chunks, no jobs, and the
	// document language was not updated either.
	require.Equal(t, 0, f.chunkCount(t))
	require.Equal(t, 0, f.pendingJobs(t))

	var lang *string
	err = f.testDB.Pool.QueryRow(ctx,
		`SELECT language FROM documents WHERE id = $1`, f.docID).Scan(&lang)
	require.NoError(t, err)
	require.Nil(t, lang, "language update must roll back with the rest")
}

func TestIngest_LanguageOverride(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	f, cleanup := newIngestFixture(t)
	defer cleanup()
	ctx := context.Background()

	_, err := f.ingestor.Ingest(ctx, Params{
		DocumentID:       f.docID,
		TenantID:         f.tenantID,
		BotID:            f.botID,
		Text:             words(50),
		Plan:             quota.PlanFree,
		LanguageOverride: " FR ",
	})
	require.NoError(t, err)

	var lang string
	var confidence float64
	var override bool
	err = f.testDB.Pool.QueryRow(ctx,
		`SELECT language, language_confidence, language_override FROM documents WHERE id = $1`,
		f.docID).Scan(&lang, &confidence, &override)
	require.NoError(t, err)
	require.Equal(t, "fr", lang, "override is normalized")
	require.Equal(t, 1.0, confidence, "overrides are trusted fully")
	require.True(t, override)
}

func TestIngest_UnknownDocument(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	f, cleanup := newIngestFixture(t)
	defer cleanup()

	_, err := f.ingestor.Ingest(context.Background(), Params{
		DocumentID: uuid.New(), // no such row
		TenantID:   f.tenantID,
		BotID:      f.botID,
		Text:       words(10),
		Plan:       quota.PlanFree,
	})
	require.True(t, errors.Is(err, ErrDocumentNotFound), "got %v", err)
}

func TestStore_ChunkDataNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	f, cleanup := newIngestFixture(t)
	defer cleanup()

	_, err := f.store.ChunkData(context.Background(), uuid.New())
	require.ErrorIs(t, err, queue.ErrChunkNotFound)
}

func TestStore_DeleteDocumentCascades(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	f, cleanup := newIngestFixture(t)
	defer cleanup()
	ctx := context.Background()

	_, err := f.ingestor.Ingest(ctx, Params{
		DocumentID: f.docID,
		TenantID:   f.tenantID,
		BotID:      f.botID,
		Text:       words(100),
		Plan:       quota.PlanFree,
	})
	require.NoError(t, err)
	require.Equal(t, 1, f.chunkCount(t))

	require.NoError(t, f.store.DeleteDocument(ctx, f.docID))
	require.Equal(t, 0, f.chunkCount(t))
	require.Equal(t, 0, f.pendingJobs(t))
}
