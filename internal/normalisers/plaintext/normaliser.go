package plaintext

import (
	"context"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/normalisers"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser passes text documents through unchanged. It is the last
// strategy in every textual chain.
type Normaliser struct{}

// New creates a new plain text normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Name returns the strategy name.
func (n *Normaliser) Name() string {
	return "plaintext"
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{
		"text/plain",
		"text/markdown",
		"text/x-markdown",
		"text/html",
		"application/xhtml+xml",
		"text/csv",
		"text/tab-separated-values",
		"text/x-rst",
		"text/x-tex",
		"text/x-bibtex",
		"text/yaml",
		"text/toml",
		"application/json",
		"application/xml",
		"text/xml",
	}
}

// SupportedOrigins returns fetcher names for specialised handling.
func (n *Normaliser) SupportedOrigins() []string {
	return nil // All fetchers
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 5 // Fallback normaliser
}

// Normalise returns the content as text. Title falls back from fetcher
// metadata to the filename.
func (n *Normaliser) Normalise(_ context.Context, doc *domain.Document) (*driven.NormaliseResult, error) {
	if doc == nil {
		return nil, domain.ErrInvalidInput
	}

	title := normalisers.MetadataString(doc.Metadata, domain.KeyTitle)
	if title == "" {
		title = normalisers.TitleFromURI(doc.URI)
	}

	return &driven.NormaliseResult{
		Document: domain.CanonicalDocument{
			DocumentID:  doc.ID,
			Text:        string(doc.Content),
			Title:       title,
			Source:      normalisers.MetadataString(doc.Metadata, domain.KeySource),
			PublishedAt: normalisers.MetadataString(doc.Metadata, domain.KeyDate),
			Language:    normalisers.MetadataString(doc.Metadata, domain.KeyLanguage),
			Format:      n.Name(),
		},
	}, nil
}
