package dedup

import (
	"context"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
)

// Ensure Fingerprinter implements the interface.
var _ driven.PostProcessor = (*Fingerprinter)(nil)

// Fingerprinter is a PostProcessor that sets Passage.Fingerprint.
type Fingerprinter struct{}

// NewFingerprinter creates a fingerprinting processor.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{}
}

// Name returns the processor name.
func (f *Fingerprinter) Name() string {
	return "fingerprint"
}

// Process fingerprints every passage.
func (f *Fingerprinter) Process(_ context.Context, _ *domain.CanonicalDocument, passages []domain.Passage) ([]domain.Passage, error) {
	for i := range passages {
		passages[i].Fingerprint = Fingerprint(passages[i].Text)
	}
	return passages, nil
}
