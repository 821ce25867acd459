// Package vectorstore holds the knowledge base: embedded chunks with
// similarity search over them. Two backends are provided, an in-memory
// store with JSON snapshots and a pgvector-backed store.
package vectorstore

import (
	"context"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
)

// KnowledgeBase stores embedded knowledge chunks and answers similarity
// queries. Implementations must be safe for concurrent use.
type KnowledgeBase interface {
	// Upsert inserts chunks, replacing any existing chunk with the same id.
	Upsert(ctx context.Context, chunks []models.KnowledgeChunk) error

	// DeleteStale removes every chunk whose id is not in keep and returns
	// how many were removed. Rebuilds call this after upserting the fresh
	// set so dropped tables disappear from the knowledge base.
	DeleteStale(ctx context.Context, keep []string) (int, error)

	// Get fetches a chunk by id. The bool reports whether it exists.
	Get(ctx context.Context, id string) (models.KnowledgeChunk, bool, error)

	// Search returns up to topK chunks most similar to the query vector,
	// ordered by descending score. filter, when non-empty, restricts
	// results to chunks whose metadata contains every given pair.
	Search(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]models.ScoredChunk, error)

	// All returns every stored chunk, ordered by id.
	All(ctx context.Context) ([]models.KnowledgeChunk, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}
