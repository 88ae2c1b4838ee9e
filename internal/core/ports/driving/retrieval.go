package driving

import (
	"context"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// RetrievalService answers semantic queries within a project namespace.
type RetrievalService interface {
	// Retrieve returns ranked results with provenance. It fails with
	// domain.ErrNoResults when nothing matches and domain.ErrQueryError when
	// the embedding or store call fails.
	Retrieve(ctx context.Context, req domain.RetrievalRequest) ([]domain.RetrievalResult, error)
}
