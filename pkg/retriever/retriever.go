// Package retriever selects the knowledge chunks most relevant to a
// question: semantic search over the knowledge base plus pinning of chunks
// for tables the question names explicitly.
package retriever

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/apperrors"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/embedding"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/vectorstore"
)

// Retriever turns an analyzed question into retrieved context.
type Retriever struct {
	embedder       embedding.Embedder
	store          vectorstore.KnowledgeBase
	topK           int
	scoreThreshold float64
	logger         *zap.Logger
}

// New creates a retriever. topK caps the context size; scoreThreshold
// drops weakly similar chunks unless they are pinned.
func New(embedder embedding.Embedder, store vectorstore.KnowledgeBase, topK int, scoreThreshold float64, logger *zap.Logger) *Retriever {
	return &Retriever{
		embedder:       embedder,
		store:          store,
		topK:           topK,
		scoreThreshold: scoreThreshold,
		logger:         logger.Named("retriever"),
	}
}

// Retrieve embeds the intent's search text, searches the knowledge base,
// and assembles the context. Chunks for tables the question names are
// pinned: they are included even when similarity scores them below the
// threshold, and they rank ahead of everything else. Result order is
// pinned first, then descending score, ties broken by chunk id.
func (r *Retriever) Retrieve(ctx context.Context, intent models.QueryIntent) (*models.RetrievedContext, error) {
	count, err := r.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("check knowledge base: %w", err)
	}
	if count == 0 {
		return nil, apperrors.ErrKnowledgeBaseEmpty
	}

	vector, err := r.embedder.Embed(ctx, intent.SearchText)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	// Over-fetch so threshold filtering still leaves enough candidates.
	scored, err := r.store.Search(ctx, vector, r.topK*2, nil)
	if err != nil {
		return nil, fmt.Errorf("search knowledge base: %w", err)
	}

	pinnedIDs := make(map[string]bool, len(intent.Entities)+1)
	for _, table := range intent.Entities {
		pinnedIDs[models.TableChunkID(table)] = true
	}
	// Business rules are part of every prompt, not a similarity candidate:
	// a metric the question names verbatim must reach the model even when
	// the rules chunk embeds far from the question.
	pinnedIDs[models.BusinessRulesChunkID] = true

	selected := make(map[string]models.ScoredChunk)
	for _, sc := range scored {
		if pinnedIDs[sc.Chunk.ID] {
			sc.Pinned = true
		} else if sc.Score < r.scoreThreshold {
			continue
		}
		selected[sc.Chunk.ID] = sc
	}

	// Pinned tables the search missed entirely are fetched by id.
	for id := range pinnedIDs {
		if _, ok := selected[id]; ok {
			continue
		}
		chunk, found, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetch pinned chunk %q: %w", id, err)
		}
		if !found {
			// The rules chunk only exists when rules were loaded at build
			// time; a named table missing from the index is worth a warning.
			if id != models.BusinessRulesChunkID {
				r.logger.Warn("question names a table missing from the knowledge base",
					zap.String("chunk_id", id))
			}
			continue
		}
		selected[id] = models.ScoredChunk{
			Chunk:  chunk,
			Score:  vectorstore.CosineSimilarity(vector, chunk.Embedding),
			Pinned: true,
		}
	}

	chunks := make([]models.ScoredChunk, 0, len(selected))
	for _, sc := range selected {
		chunks = append(chunks, sc)
	}
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Pinned != chunks[j].Pinned {
			return chunks[i].Pinned
		}
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].Chunk.ID < chunks[j].Chunk.ID
	})

	// Cap at topK, but never at the cost of a pinned chunk: a question that
	// names more tables than topK keeps all of them.
	if len(chunks) > r.topK {
		cut := r.topK
		for cut < len(chunks) && chunks[cut].Pinned {
			cut++
		}
		chunks = chunks[:cut]
	}

	r.logger.Debug("retrieved context",
		zap.Int("chunks", len(chunks)),
		zap.Int("pinned", len(pinnedIDs)),
		zap.Strings("entities", intent.Entities))

	return &models.RetrievedContext{
		Question: intent.Question,
		Chunks:   chunks,
	}, nil
}
