// Package services wires the pipeline stages together: the offline
// knowledge base build and the online question-to-SQL loop.
package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/chunker"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/datasource"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/embedding"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/vectorstore"
)

// BuildStats summarizes one knowledge base build.
type BuildStats struct {
	Tables     int           `json:"tables"`
	Chunks     int           `json:"chunks"`
	Removed    int           `json:"removed"`
	Skipped    bool          `json:"skipped"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// KnowledgeStats describes the current knowledge base contents.
type KnowledgeStats struct {
	Chunks int      `json:"chunks"`
	Tables []string `json:"tables"`
}

// KnowledgeService builds and manages the knowledge base.
type KnowledgeService struct {
	extractor datasource.SchemaExtractor
	chunker   *chunker.Chunker
	embedder  embedding.Embedder
	store     vectorstore.KnowledgeBase
	logger    *zap.Logger
}

// NewKnowledgeService creates the offline pipeline service.
func NewKnowledgeService(
	extractor datasource.SchemaExtractor,
	chunk *chunker.Chunker,
	embedder embedding.Embedder,
	store vectorstore.KnowledgeBase,
	logger *zap.Logger,
) *KnowledgeService {
	return &KnowledgeService{
		extractor: extractor,
		chunker:   chunk,
		embedder:  embedder,
		store:     store,
		logger:    logger.Named("knowledge"),
	}
}

// Build runs the offline pipeline: extract schema, render chunks, embed,
// publish. Embedding happens before any store mutation, so a failure at
// any stage leaves the previous knowledge base fully intact. After a
// successful upsert, chunks absent from this build (dropped tables) are
// removed. When force is false and the knowledge base already has content,
// the build is skipped.
func (s *KnowledgeService) Build(ctx context.Context, force bool) (*BuildStats, error) {
	start := time.Now()

	if !force {
		count, err := s.store.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("check knowledge base: %w", err)
		}
		if count > 0 {
			s.logger.Info("knowledge base already built, skipping",
				zap.Int("chunks", count))
			return &BuildStats{Skipped: true, Chunks: count}, nil
		}
	}

	tables, err := s.extractor.ExtractTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract schema: %w", err)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("datasource reported no tables")
	}

	chunks := s.chunker.BuildChunks(tables)

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	if err := s.store.Upsert(ctx, chunks); err != nil {
		return nil, fmt.Errorf("publish chunks: %w", err)
	}

	keep := make([]string, len(chunks))
	for i, chunk := range chunks {
		keep[i] = chunk.ID
	}
	removed, err := s.store.DeleteStale(ctx, keep)
	if err != nil {
		return nil, fmt.Errorf("remove stale chunks: %w", err)
	}

	stats := &BuildStats{
		Tables:     len(tables),
		Chunks:     len(chunks),
		Removed:    removed,
		Duration:   time.Since(start),
		DurationMS: time.Since(start).Milliseconds(),
	}
	s.logger.Info("knowledge base built",
		zap.Int("tables", stats.Tables),
		zap.Int("chunks", stats.Chunks),
		zap.Int("removed", stats.Removed),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// AddRule stores a business rule and republishes the chunk it affects, so
// rules added at runtime are retrievable without a full rebuild. On an
// empty knowledge base the rule just waits for the next build.
func (s *KnowledgeService) AddRule(ctx context.Context, rule models.BusinessRule) error {
	if rule.Key == "" || rule.Value == "" {
		return fmt.Errorf("add rule: key and value are required")
	}
	if rule.Scope == "" {
		rule.Scope = models.ScopeGeneral
	}
	s.chunker.Rules().Put(rule)

	count, err := s.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("check knowledge base: %w", err)
	}
	if count == 0 {
		return nil
	}

	chunk, ok, err := s.ruleChunk(ctx, rule)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("rule stored but no chunk to republish",
			zap.String("scope", rule.Scope), zap.String("key", rule.Key))
		return nil
	}

	vector, err := s.embedder.Embed(ctx, chunk.Text)
	if err != nil {
		return fmt.Errorf("embed rule chunk: %w", err)
	}
	chunk.Embedding = vector

	if err := s.store.Upsert(ctx, []models.KnowledgeChunk{chunk}); err != nil {
		return fmt.Errorf("publish rule chunk: %w", err)
	}
	s.logger.Info("business rule published",
		zap.String("scope", rule.Scope),
		zap.String("kind", string(rule.Kind)),
		zap.String("key", rule.Key),
		zap.String("chunk_id", chunk.ID))
	return nil
}

// ruleChunk re-renders the chunk a rule lands in: the consolidated
// business chunk for general rules, the table's own chunk otherwise.
func (s *KnowledgeService) ruleChunk(ctx context.Context, rule models.BusinessRule) (models.KnowledgeChunk, bool, error) {
	if rule.Scope == models.ScopeGeneral {
		chunk, ok := s.chunker.BusinessChunk()
		return chunk, ok, nil
	}

	tables, err := s.extractor.ExtractTables(ctx)
	if err != nil {
		return models.KnowledgeChunk{}, false, fmt.Errorf("extract schema: %w", err)
	}
	for _, table := range tables {
		if table.Name == rule.Scope {
			return s.chunker.TableChunk(table), true, nil
		}
	}
	return models.KnowledgeChunk{}, false, nil
}

// Schema returns the current table metadata from the datasource.
func (s *KnowledgeService) Schema(ctx context.Context) ([]models.TableMetadata, error) {
	tables, err := s.extractor.ExtractTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract schema: %w", err)
	}
	return tables, nil
}

// Export returns every chunk, embeddings included, for backup or transfer.
func (s *KnowledgeService) Export(ctx context.Context) ([]models.KnowledgeChunk, error) {
	chunks, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("export knowledge base: %w", err)
	}
	return chunks, nil
}

// Import loads previously exported chunks. Chunks must carry embeddings;
// nothing is re-embedded on import.
func (s *KnowledgeService) Import(ctx context.Context, chunks []models.KnowledgeChunk) error {
	for _, chunk := range chunks {
		if chunk.ID == "" {
			return fmt.Errorf("import: chunk with empty id")
		}
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("import: chunk %q has no embedding", chunk.ID)
		}
	}
	if err := s.store.Upsert(ctx, chunks); err != nil {
		return fmt.Errorf("import knowledge base: %w", err)
	}
	s.logger.Info("imported knowledge chunks", zap.Int("chunks", len(chunks)))
	return nil
}

// Stats reports the knowledge base size and its known tables.
func (s *KnowledgeService) Stats(ctx context.Context) (*KnowledgeStats, error) {
	chunks, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}

	var tables []string
	for _, chunk := range chunks {
		if chunk.TableName != "" {
			tables = append(tables, chunk.TableName)
		}
	}
	return &KnowledgeStats{Chunks: len(chunks), Tables: tables}, nil
}

// TableNames lists the tables currently in the knowledge base. The query
// analyzer matches question text against these.
func (s *KnowledgeService) TableNames(ctx context.Context) ([]string, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return stats.Tables, nil
}
