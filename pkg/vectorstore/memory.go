package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
)

// MemoryStore is an in-process knowledge base. It supports JSON snapshots
// so a built knowledge base survives restarts without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]models.KnowledgeChunk
	logger *zap.Logger
}

var _ KnowledgeBase = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory knowledge base.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		chunks: make(map[string]models.KnowledgeChunk),
		logger: logger.Named("vectorstore.memory"),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, chunks []models.KnowledgeChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunk := range chunks {
		if chunk.ID == "" {
			return fmt.Errorf("chunk with empty id")
		}
		s.chunks[chunk.ID] = chunk
	}
	return nil
}

func (s *MemoryStore) DeleteStale(_ context.Context, keep []string) (int, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id := range s.chunks {
		if !keepSet[id] {
			delete(s.chunks, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("removed stale chunks", zap.Int("count", removed))
	}
	return removed, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (models.KnowledgeChunk, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunk, ok := s.chunks[id]
	return chunk, ok, nil
}

func (s *MemoryStore) Search(_ context.Context, vector []float32, topK int, filter map[string]string) ([]models.ScoredChunk, error) {
	if topK < 1 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []models.ScoredChunk
	for _, chunk := range s.chunks {
		if !matchesFilter(chunk, filter) {
			continue
		}
		score := CosineSimilarity(vector, chunk.Embedding)
		scored = append(scored, models.ScoredChunk{Chunk: chunk, Score: score})
	}

	// Ties broken by id so results are stable across runs.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (s *MemoryStore) All(_ context.Context) ([]models.KnowledgeChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.KnowledgeChunk, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		out = append(out, chunk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *MemoryStore) Close() error { return nil }

// snapshot is the on-disk form of the store.
type snapshot struct {
	Chunks []models.KnowledgeChunk `json:"chunks"`
}

// Save writes the store contents to path as JSON. The write goes through a
// temp file and rename so readers never observe a half-written snapshot.
func (s *MemoryStore) Save(path string) error {
	all, _ := s.All(context.Background())
	data, err := json.Marshal(snapshot{Chunks: all})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	s.logger.Info("saved knowledge base snapshot",
		zap.String("path", path), zap.Int("chunks", len(all)))
	return nil
}

// Load replaces the store contents with a previously saved snapshot.
func (s *MemoryStore) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	fresh := make(map[string]models.KnowledgeChunk, len(snap.Chunks))
	for _, chunk := range snap.Chunks {
		if chunk.ID == "" {
			return fmt.Errorf("snapshot contains chunk with empty id")
		}
		fresh[chunk.ID] = chunk
	}

	s.mu.Lock()
	s.chunks = fresh
	s.mu.Unlock()

	s.logger.Info("loaded knowledge base snapshot",
		zap.String("path", path), zap.Int("chunks", len(fresh)))
	return nil
}

func matchesFilter(chunk models.KnowledgeChunk, filter map[string]string) bool {
	for k, v := range filter {
		if chunk.Metadata[k] != v {
			return false
		}
	}
	return true
}

// CosineSimilarity returns the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
