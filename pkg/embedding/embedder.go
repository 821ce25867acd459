// Package embedding wraps the LLM client's embedding endpoint with
// batching and a service-level error type.
package embedding

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/llm"
)

// batchSize is the number of texts sent per embedding request.
const batchSize = 32

// Embedder produces vector embeddings for text.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one embedding per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Model returns the embedding model identifier.
	Model() string
}

// ServiceError wraps failures from the embedding backend.
type ServiceError struct {
	Op    string
	Cause error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("embedding service: %s: %v", e.Op, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// ClientEmbedder implements Embedder over an llm.Client.
type ClientEmbedder struct {
	client      llm.Client
	model       string
	concurrency int
	logger      *zap.Logger
}

var _ Embedder = (*ClientEmbedder)(nil)

// New creates an embedder that calls the given client with the given model.
// concurrency bounds how many batch requests run in parallel; values below
// one mean sequential.
func New(client llm.Client, model string, concurrency int, logger *zap.Logger) *ClientEmbedder {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ClientEmbedder{
		client:      client,
		model:       model,
		concurrency: concurrency,
		logger:      logger.Named("embedding"),
	}
}

func (e *ClientEmbedder) Model() string { return e.model }

func (e *ClientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.client.CreateEmbedding(ctx, text, e.model)
	if err != nil {
		return nil, &ServiceError{Op: "embed", Cause: err}
	}
	return vector, nil
}

// EmbedBatch splits texts into fixed-size batches and embeds them with
// bounded parallelism. Any batch failure fails the whole call; results are
// all-or-nothing so callers never publish a partially embedded set.
func (e *ClientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	sem := make(chan struct{}, e.concurrency)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		wg.Add(1)
		go func(offset int, batch []string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed || ctx.Err() != nil {
				return
			}

			vectors, err := e.client.CreateEmbeddings(ctx, batch, e.model)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = &ServiceError{Op: "embed batch", Cause: err}
				}
				mu.Unlock()
				return
			}
			for i, v := range vectors {
				results[offset+i] = v
			}
		}(start, texts[start:end])
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, &ServiceError{Op: "embed batch", Cause: err}
	}

	e.logger.Debug("embedded batch",
		zap.Int("texts", len(texts)),
		zap.String("model", e.model))
	return results, nil
}
