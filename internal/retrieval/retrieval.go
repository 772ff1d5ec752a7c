// Package retrieval answers grounding queries by blending a conversation's
// previously pinned chunks with fresh vector-similarity matches.
//
// The merge contract is deterministic: pinned chunks first in stored order,
// then retrieved matches by descending similarity, deduplicated by source
// document — once a document has contributed a chunk, later matches from the
// same document are dropped regardless of score. Downstream generation
// depends on this ordering.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/substrata-ai/substrata/internal/embedding"
	"github.com/substrata-ai/substrata/internal/vectorstore"
)

// DefaultTopK is the number of nearest neighbors requested per query.
const DefaultTopK int32 = 8

// Source tags where a chunk in a retrieval result came from.
type Source string

// Chunk provenance values.
const (
	SourcePinned    Source = "pinned"
	SourceRetrieved Source = "retrieved"
)

// Metadata carries the optional document-level context attached to each
// chunk, joined from the parent document record.
type Metadata struct {
	Title        string
	CanonicalURL string
}

// Chunk is one entry in a retrieval result.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Text       string
	Similarity float32 // zero for pinned chunks
	Source     Source
	Metadata   Metadata
}

// Result is the merged, deduplicated retrieval output. PinnedChunkIDs is the
// new pin set already persisted on the conversation.
type Result struct {
	Chunks         []Chunk
	PinnedChunkIDs []uuid.UUID
}

// PinStore reads and replaces a conversation's pinned chunk ID list.
// *Conversations satisfies it.
type PinStore interface {
	Pinned(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	SetPinned(ctx context.Context, conversationID, tenantID, botID uuid.UUID, chunkIDs []uuid.UUID) error
}

// ChunkLoader fetches chunk rows by ID, preserving the requested order and
// silently skipping IDs that no longer exist. *Chunks satisfies it.
type ChunkLoader interface {
	ChunksByIDs(ctx context.Context, ids []uuid.UUID) ([]Chunk, error)
}

// Searcher is the nearest-neighbor surface. *vectorstore.Store satisfies it.
type Searcher interface {
	Search(ctx context.Context, tenantID, botID uuid.UUID, queryVec []float32, topK int32) ([]vectorstore.Match, error)
}

// Retriever loads pins, embeds queries, merges similarity matches, and
// persists the updated pin set.
//
// Retriever is safe for concurrent use by multiple goroutines.
type Retriever struct {
	pins     PinStore
	chunks   ChunkLoader
	searcher Searcher
	embedder embedding.Embedder
	topK     int32
	logger   *slog.Logger
}

// New creates a Retriever. topK <= 0 selects DefaultTopK.
func New(pins PinStore, chunks ChunkLoader, searcher Searcher, embedder embedding.Embedder,
	topK int32, logger *slog.Logger) (*Retriever, error) {

	if pins == nil || chunks == nil || searcher == nil || embedder == nil {
		return nil, fmt.Errorf("all retriever dependencies are required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		pins:     pins,
		chunks:   chunks,
		searcher: searcher,
		embedder: embedder,
		topK:     topK,
		logger:   logger,
	}, nil
}

// Retrieve returns the chunks grounding one conversational turn.
//
// A similarity-search failure (including query embedding) degrades to the
// pinned chunks alone — partial grounding beats failing the turn. Pin
// storage failures are real errors and propagate.
func (r *Retriever) Retrieve(ctx context.Context, tenantID, botID, conversationID uuid.UUID, query string) (*Result, error) {
	pinnedIDs, err := r.pins.Pinned(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading pinned chunks: %w", err)
	}

	var pinned []Chunk
	if len(pinnedIDs) > 0 {
		pinned, err = r.chunks.ChunksByIDs(ctx, pinnedIDs)
		if err != nil {
			return nil, fmt.Errorf("loading pinned chunk content: %w", err)
		}
		for i := range pinned {
			pinned[i].Source = SourcePinned
		}
	}

	matches := r.searchMatches(ctx, tenantID, botID, conversationID, query)
	merged := merge(pinned, matches)

	newPinned := make([]uuid.UUID, len(merged))
	for i, c := range merged {
		newPinned[i] = c.ID
	}
	if err := r.pins.SetPinned(ctx, conversationID, tenantID, botID, newPinned); err != nil {
		return nil, fmt.Errorf("persisting pinned chunks: %w", err)
	}

	return &Result{Chunks: merged, PinnedChunkIDs: newPinned}, nil
}

// searchMatches embeds the query and runs the nearest-neighbor lookup.
// Any failure degrades to no matches.
func (r *Retriever) searchMatches(ctx context.Context, tenantID, botID, conversationID uuid.UUID, query string) []vectorstore.Match {
	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, serving pinned chunks only",
			"conversation_id", conversationID, "error", err)
		return nil
	}

	matches, err := r.searcher.Search(ctx, tenantID, botID, queryVec, r.topK)
	if err != nil {
		r.logger.Warn("similarity search failed, serving pinned chunks only",
			"conversation_id", conversationID, "error", err)
		return nil
	}
	return matches
}

// merge combines pinned chunks and retrieved matches, deduplicating by
// document: the first chunk a document contributes (pinned before retrieved,
// then similarity order) excludes every later match from that document.
func merge(pinned []Chunk, matches []vectorstore.Match) []Chunk {
	merged := make([]Chunk, 0, len(pinned)+len(matches))
	seenDocs := make(map[uuid.UUID]struct{}, len(pinned)+len(matches))
	seenChunks := make(map[uuid.UUID]struct{}, len(pinned))

	for _, c := range pinned {
		if _, dup := seenChunks[c.ID]; dup {
			continue
		}
		seenChunks[c.ID] = struct{}{}
		seenDocs[c.DocumentID] = struct{}{}
		merged = append(merged, c)
	}

	for _, m := range matches {
		if _, taken := seenDocs[m.DocumentID]; taken {
			continue
		}
		seenDocs[m.DocumentID] = struct{}{}
		merged = append(merged, Chunk{
			ID:         m.ChunkID,
			DocumentID: m.DocumentID,
			Text:       m.Text,
			Similarity: m.Similarity,
			Source:     SourceRetrieved,
			Metadata:   Metadata{Title: m.Title, CanonicalURL: m.CanonicalURL},
		})
	}

	return merged
}
