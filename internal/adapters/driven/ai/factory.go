// Package ai provides factory functions for creating embedding service
// adapters from settings.
package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/jarvis/internal/adapters/driven/embedding/hashing"
	ollamaembed "github.com/custodia-labs/jarvis/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/jarvis/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// CreateAndValidateEmbeddingService creates an embedding service and
// validates connectivity.
func CreateAndValidateEmbeddingService(ctx context.Context, settings domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	svc, err := CreateEmbeddingService(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w. Run 'jarvis config show' to check the embedding section",
			domain.ErrEmbeddingService, err)
	}

	if err := ValidateEmbeddingService(ctx, svc); err != nil {
		_ = svc.Close()
		return nil, err
	}
	return svc, nil
}

// ValidateEmbeddingService pings svc with a short timeout.
func ValidateEmbeddingService(ctx context.Context, svc driven.EmbeddingService) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := svc.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %s unreachable (%w)", domain.ErrEmbeddingService, svc.ModelName(), err)
	}
	return nil
}

// CreateEmbeddingService creates the embedding service selected by settings.
func CreateEmbeddingService(settings domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if !settings.IsConfigured() {
		if settings.Provider.IsValid() {
			return nil, fmt.Errorf("%w: %s requires an API key", domain.ErrInvalidInput, settings.Provider)
		}
		return nil, fmt.Errorf("%w: unsupported embedding provider: %q", domain.ErrInvalidInput, settings.Provider)
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return createOllamaEmbedding(settings), nil

	case domain.AIProviderOpenAI:
		return createOpenAIEmbedding(settings)

	case domain.AIProviderHashing:
		return hashing.NewEmbeddingService(dimensionsFor(settings)), nil

	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider: %s", domain.ErrInvalidInput, settings.Provider)
	}
}

// dimensionsFor returns the configured size, then the known size of the
// model, then 0.
func dimensionsFor(settings domain.EmbeddingSettings) int {
	if settings.Dimensions > 0 {
		return settings.Dimensions
	}
	return domain.EmbeddingDimensions()[settings.Model]
}

// createOllamaEmbedding creates an Ollama embedding service.
func createOllamaEmbedding(settings domain.EmbeddingSettings) driven.EmbeddingService {
	dimensions := dimensionsFor(settings)
	if dimensions == 0 {
		dimensions = ollamaembed.DefaultDimensions
	}

	return ollamaembed.NewEmbeddingService(ollamaembed.Config{
		BaseURL:    settings.BaseURL,
		Model:      settings.Model,
		Timeout:    settings.Timeout.Duration,
		Dimensions: dimensions,
	})
}

// createOpenAIEmbedding creates an OpenAI embedding service.
func createOpenAIEmbedding(settings domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	return openaiembed.NewEmbeddingService(openaiembed.Config{
		APIKey:     settings.APIKey,
		BaseURL:    settings.BaseURL,
		Model:      settings.Model,
		Timeout:    settings.Timeout.Duration,
		Dimensions: dimensionsFor(settings),
	})
}
