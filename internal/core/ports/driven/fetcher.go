package driven

import (
	"context"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// Fetcher produces documents from a source.
// Fetchers own their rate limiting and retries; the core never initiates
// network fetches itself.
type Fetcher interface {
	// Name is the registry key and the Origin of produced documents.
	Name() string

	// Fetch retrieves the documents identified by target (a path, URL,
	// query; the meaning is fetcher-specific).
	Fetch(ctx context.Context, target string) ([]domain.Document, error)
}
