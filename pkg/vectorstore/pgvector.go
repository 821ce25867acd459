package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
)

// PGVectorStore persists the knowledge base in PostgreSQL with the
// pgvector extension. Similarity uses cosine distance (the <=> operator),
// converted to a similarity score as 1 - distance.
type PGVectorStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ KnowledgeBase = (*PGVectorStore)(nil)

const createSchemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS knowledge_chunks (
    id          TEXT PRIMARY KEY,
    table_name  TEXT NOT NULL DEFAULT '',
    content     TEXT NOT NULL,
    embedding   vector NOT NULL,
    metadata    JSONB NOT NULL DEFAULT '{}'::jsonb
);`

// NewPGVectorStore connects to PostgreSQL and ensures the chunk table and
// vector extension exist.
func NewPGVectorStore(ctx context.Context, connString string, logger *zap.Logger) (*PGVectorStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to vector store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping vector store: %w", err)
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize vector store schema: %w", err)
	}

	return &PGVectorStore{
		pool:   pool,
		logger: logger.Named("vectorstore.pgvector"),
	}, nil
}

func (s *PGVectorStore) Upsert(ctx context.Context, chunks []models.KnowledgeChunk) error {
	for _, chunk := range chunks {
		if chunk.ID == "" {
			return fmt.Errorf("chunk with empty id")
		}
		metadata, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %q: %w", chunk.ID, err)
		}

		_, err = s.pool.Exec(ctx, `
			INSERT INTO knowledge_chunks (id, table_name, content, embedding, metadata)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				table_name = EXCLUDED.table_name,
				content    = EXCLUDED.content,
				embedding  = EXCLUDED.embedding,
				metadata   = EXCLUDED.metadata`,
			chunk.ID, chunk.TableName, chunk.Text,
			pgvector.NewVector(chunk.Embedding), metadata)
		if err != nil {
			return fmt.Errorf("upsert chunk %q: %w", chunk.ID, err)
		}
	}

	s.logger.Debug("upserted chunks", zap.Int("count", len(chunks)))
	return nil
}

func (s *PGVectorStore) DeleteStale(ctx context.Context, keep []string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM knowledge_chunks WHERE NOT (id = ANY($1))`, keep)
	if err != nil {
		return 0, fmt.Errorf("delete stale chunks: %w", err)
	}
	removed := int(tag.RowsAffected())
	if removed > 0 {
		s.logger.Debug("removed stale chunks", zap.Int("count", removed))
	}
	return removed, nil
}

func (s *PGVectorStore) Get(ctx context.Context, id string) (models.KnowledgeChunk, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, table_name, content, embedding, metadata
		FROM knowledge_chunks WHERE id = $1`, id)

	chunk, err := scanChunk(row)
	if err != nil {
		if isNoRows(err) {
			return models.KnowledgeChunk{}, false, nil
		}
		return models.KnowledgeChunk{}, false, fmt.Errorf("get chunk %q: %w", id, err)
	}
	return chunk, true, nil
}

func (s *PGVectorStore) Search(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]models.ScoredChunk, error) {
	if topK < 1 {
		return nil, nil
	}

	query := `
		SELECT id, table_name, content, embedding, metadata,
		       1 - (embedding <=> $1) AS similarity
		FROM knowledge_chunks`
	args := []any{pgvector.NewVector(vector)}

	if len(filter) > 0 {
		filterJSON, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("marshal search filter: %w", err)
		}
		query += ` WHERE metadata @> $2`
		args = append(args, filterJSON)
	}
	query += fmt.Sprintf(` ORDER BY embedding <=> $1, id LIMIT %d`, topK)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var (
			chunk     models.KnowledgeChunk
			embedding pgvector.Vector
			metadata  []byte
			score     float64
		)
		if err := rows.Scan(&chunk.ID, &chunk.TableName, &chunk.Text, &embedding, &metadata, &score); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		chunk.Embedding = embedding.Slice()
		if err := json.Unmarshal(metadata, &chunk.Metadata); err != nil {
			s.logger.Warn("unparseable chunk metadata", zap.String("id", chunk.ID), zap.Error(err))
			chunk.Metadata = map[string]string{}
		}
		out = append(out, models.ScoredChunk{Chunk: chunk, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search rows: %w", err)
	}
	return out, nil
}

func (s *PGVectorStore) All(ctx context.Context) ([]models.KnowledgeChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, table_name, content, embedding, metadata
		FROM knowledge_chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []models.KnowledgeChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chunk rows: %w", err)
	}
	return out, nil
}

func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM knowledge_chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return int(count), nil
}

func (s *PGVectorStore) Close() error {
	s.pool.Close()
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (models.KnowledgeChunk, error) {
	var (
		chunk     models.KnowledgeChunk
		embedding pgvector.Vector
		metadata  []byte
	)
	if err := row.Scan(&chunk.ID, &chunk.TableName, &chunk.Text, &embedding, &metadata); err != nil {
		return models.KnowledgeChunk{}, err
	}
	chunk.Embedding = embedding.Slice()
	if err := json.Unmarshal(metadata, &chunk.Metadata); err != nil {
		chunk.Metadata = map[string]string{}
	}
	return chunk, nil
}
