package driven

import (
	"context"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// Normaliser is one extraction strategy.
// Each normaliser handles specific MIME types (e.g., HTML, PDF).
type Normaliser interface {
	// Name identifies the strategy in logs and in CanonicalDocument.Format.
	Name() string

	// SupportedMIMETypes returns the MIME types this normaliser handles.
	SupportedMIMETypes() []string

	// SupportedOrigins returns fetcher names for specialised handling.
	// Empty slice means all fetchers.
	SupportedOrigins() []string

	// Priority returns the selection priority (higher = tried first).
	// Origin-specific normalisers should return 90-100.
	// Generic MIME normalisers should return 50-89.
	// Fallback normalisers should return 1-9.
	Priority() int

	// Normalise extracts canonical text from doc. It must not modify doc.
	Normalise(ctx context.Context, doc *domain.Document) (*NormaliseResult, error)
}

// NormaliseResult contains the output of normalisation.
type NormaliseResult struct {
	// Document is the canonical text and structural metadata.
	Document domain.CanonicalDocument
}
