package vectorstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
)

func sampleChunks() []models.KnowledgeChunk {
	return []models.KnowledgeChunk{
		{
			ID:        "table_orders",
			TableName: "orders",
			Text:      "orders schema",
			Embedding: []float32{1, 0, 0},
			Metadata:  map[string]string{models.ChunkMetaType: models.ChunkTypeTable, models.ChunkMetaTable: "orders"},
		},
		{
			ID:        "table_users",
			TableName: "users",
			Text:      "users schema",
			Embedding: []float32{0, 1, 0},
			Metadata:  map[string]string{models.ChunkMetaType: models.ChunkTypeTable, models.ChunkMetaTable: "users"},
		},
		{
			ID:        "business_rules",
			Text:      "business rules",
			Embedding: []float32{0, 0, 1},
			Metadata:  map[string]string{models.ChunkMetaType: models.ChunkTypeBusiness},
		},
	}
}

func TestMemoryStoreUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(zap.NewNop())
	require.NoError(t, store.Upsert(ctx, sampleChunks()))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	chunk, ok, err := store.Get(ctx, "table_orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "orders", chunk.TableName)

	_, ok, err = store.Get(ctx, "table_missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, store.Upsert(ctx, []models.KnowledgeChunk{{Text: "no id"}}))
}

func TestMemoryStoreUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(zap.NewNop())

	require.NoError(t, store.Upsert(ctx, sampleChunks()))
	require.NoError(t, store.Upsert(ctx, sampleChunks()))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "re-upserting the same chunks must not duplicate")
}

// Each chunk's own embedding must retrieve that chunk first.
func TestMemoryStoreSelfMatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(zap.NewNop())
	require.NoError(t, store.Upsert(ctx, sampleChunks()))

	for _, chunk := range sampleChunks() {
		results, err := store.Search(ctx, chunk.Embedding, 1, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, chunk.ID, results[0].Chunk.ID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	}
}

func TestMemoryStoreSearchOrderingAndFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(zap.NewNop())
	require.NoError(t, store.Upsert(ctx, sampleChunks()))

	// Closer to orders than users.
	results, err := store.Search(ctx, []float32{0.9, 0.4, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "table_orders", results[0].Chunk.ID)
	assert.Equal(t, "table_users", results[1].Chunk.ID)
	assert.Greater(t, results[0].Score, results[1].Score)

	// Filter restricts to table chunks only.
	results, err = store.Search(ctx, []float32{0, 0, 1}, 5,
		map[string]string{models.ChunkMetaType: models.ChunkTypeTable})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "business_rules", r.Chunk.ID)
	}
}

func TestMemoryStoreDeleteStale(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(zap.NewNop())
	require.NoError(t, store.Upsert(ctx, sampleChunks()))

	removed, err := store.DeleteStale(ctx, []string{"table_orders", "business_rules"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, err := store.Get(ctx, "table_users")
	require.NoError(t, err)
	assert.False(t, ok, "dropped table should be gone after rebuild")

	_, ok, err = store.Get(ctx, "table_orders")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kb", "snapshot.json")

	store := NewMemoryStore(zap.NewNop())
	require.NoError(t, store.Upsert(ctx, sampleChunks()))
	require.NoError(t, store.Save(path))

	restored := NewMemoryStore(zap.NewNop())
	require.NoError(t, restored.Load(path))

	original, err := store.All(ctx)
	require.NoError(t, err)
	loaded, err := restored.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)

	assert.Error(t, restored.Load(filepath.Join(t.TempDir(), "missing.json")))
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			chunk := models.KnowledgeChunk{
				ID:        fmt.Sprintf("table_t%d", n),
				Embedding: []float32{float32(n), 1},
			}
			_ = store.Upsert(ctx, []models.KnowledgeChunk{chunk})
			_, _ = store.Search(ctx, []float32{1, 1}, 3, nil)
			_, _, _ = store.Get(ctx, chunk.ID)
		}(i)
	}
	wg.Wait()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, count)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}
