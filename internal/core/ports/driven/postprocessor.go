package driven

import (
	"context"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// PostProcessor turns canonical text into passages or refines them.
// PostProcessors are chained in a pipeline (e.g., chunking, fingerprinting).
type PostProcessor interface {
	// Name returns the processor name for logging and configuration.
	Name() string

	// Process takes a canonical document and the passages produced so far.
	// A processor that creates passages (the chunker) receives nil.
	Process(ctx context.Context, doc *domain.CanonicalDocument, passages []domain.Passage) ([]domain.Passage, error)
}

// PostProcessorPipeline chains multiple PostProcessors.
type PostProcessorPipeline interface {
	// Process runs the document through all processors in order.
	Process(ctx context.Context, doc *domain.CanonicalDocument) ([]domain.Passage, error)
}
