package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/llm"
)

// vectorFor maps each text to a distinct, recognizable vector.
func vectorFor(texts map[string][]float32) *llm.MockClient {
	return &llm.MockClient{
		CreateEmbeddingFunc: func(ctx context.Context, input, model string) ([]float32, error) {
			v, ok := texts[input]
			if !ok {
				return nil, fmt.Errorf("unexpected input %q", input)
			}
			return v, nil
		},
		CreateEmbeddingsFunc: func(ctx context.Context, inputs []string, model string) ([][]float32, error) {
			out := make([][]float32, len(inputs))
			for i, in := range inputs {
				v, ok := texts[in]
				if !ok {
					return nil, fmt.Errorf("unexpected input %q", in)
				}
				out[i] = v
			}
			return out, nil
		},
	}
}

func TestEmbed(t *testing.T) {
	mock := vectorFor(map[string][]float32{"hello": {0.1, 0.2}})
	e := New(mock, "test-embed", 1, zap.NewNop())

	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, v)
	assert.Equal(t, "test-embed", e.Model())
}

func TestEmbedError(t *testing.T) {
	mock := &llm.MockClient{
		CreateEmbeddingFunc: func(ctx context.Context, input, model string) ([]float32, error) {
			return nil, errors.New("backend down")
		},
	}
	e := New(mock, "test-embed", 1, zap.NewNop())

	_, err := e.Embed(context.Background(), "hello")
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "embed", svcErr.Op)
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	// More texts than one batch so the parallel path is exercised.
	texts := make([]string, 100)
	mapping := make(map[string][]float32, len(texts))
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%03d", i)
		mapping[texts[i]] = []float32{float32(i)}
	}

	e := New(vectorFor(mapping), "test-embed", 4, zap.NewNop())
	vectors, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.Equal(t, []float32{float32(i)}, v, "vector %d out of order", i)
	}
}

func TestEmbedBatchFailureIsAllOrNothing(t *testing.T) {
	calls := 0
	mock := &llm.MockClient{
		CreateEmbeddingsFunc: func(ctx context.Context, inputs []string, model string) ([][]float32, error) {
			calls++
			return nil, errors.New("rate limited")
		},
	}
	e := New(mock, "test-embed", 2, zap.NewNop())

	texts := make([]string, 80)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	require.Error(t, err)
	assert.Nil(t, vectors)

	var svcErr *ServiceError
	assert.ErrorAs(t, err, &svcErr)
}

func TestEmbedBatchEmpty(t *testing.T) {
	e := New(&llm.MockClient{}, "test-embed", 1, zap.NewNop())
	vectors, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := vectorFor(map[string][]float32{"a": {1}})
	e := New(mock, "test-embed", 1, zap.NewNop())

	_, err := e.EmbedBatch(ctx, []string{"a"})
	assert.Error(t, err)
}
