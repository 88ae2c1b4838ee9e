package driven

import (
	"context"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// NormaliserRegistry runs the extraction fallback chain for a document.
// It keeps a priority-ordered list of normalisers per MIME type and tries
// them in turn until one yields text above the minimum length.
type NormaliserRegistry interface {
	// Normalise extracts canonical text using the first successful strategy.
	// Fails with domain.ErrUnsupportedFormat when no strategy handles the
	// content type and domain.ErrExtractionFailed when all strategies fail.
	Normalise(ctx context.Context, doc *domain.Document) (*NormaliseResult, error)

	// Register adds a normaliser to the registry.
	Register(normaliser Normaliser)

	// SupportedMIMETypes returns all MIME types that can be normalised.
	SupportedMIMETypes() []string
}
