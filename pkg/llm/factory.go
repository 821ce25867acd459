package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/config"
)

// NewGenerationClient creates the inference client selected by configuration.
func NewGenerationClient(cfg *config.Config, logger *zap.Logger) (Client, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		client, err := NewAnthropicClient(&Config{
			Model:  cfg.LLM.Model,
			APIKey: cfg.LLM.APIKey,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil
	case "openai":
		client, err := NewOpenAIClient(&Config{
			Endpoint: cfg.LLM.Endpoint,
			Model:    cfg.LLM.Model,
			APIKey:   cfg.LLM.APIKey,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// NewEmbeddingClient creates a client for the embedding service.
// Embeddings always go through an OpenAI-compatible endpoint, falling back to
// the inference endpoint when a dedicated one is not configured.
func NewEmbeddingClient(cfg *config.Config, logger *zap.Logger) (Client, error) {
	client, err := NewOpenAIClient(&Config{
		Endpoint: cfg.Embedding.EffectiveEndpoint(&cfg.LLM),
		Model:    cfg.Embedding.Model,
		APIKey:   cfg.Embedding.EffectiveAPIKey(&cfg.LLM),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return client, nil
}
