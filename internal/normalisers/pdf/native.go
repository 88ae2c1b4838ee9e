package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/normalisers"
)

// Ensure NativeNormaliser implements the interface.
var _ driven.Normaliser = (*NativeNormaliser)(nil)

// NativeNormaliser reads the PDF text layer without external tools.
type NativeNormaliser struct{}

// NewNative creates a new in-process PDF normaliser.
func NewNative() *NativeNormaliser {
	return &NativeNormaliser{}
}

// Name returns the strategy name.
func (n *NativeNormaliser) Name() string {
	return "pdf/native"
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *NativeNormaliser) SupportedMIMETypes() []string {
	return []string{"application/pdf"}
}

// SupportedOrigins returns fetcher names for specialised handling.
func (n *NativeNormaliser) SupportedOrigins() []string {
	return nil // All fetchers
}

// Priority returns the selection priority.
func (n *NativeNormaliser) Priority() int {
	return 60
}

// Normalise extracts the text of every page. Pages are separated by a blank
// line. The document info dictionary supplies title and creation date.
func (n *NativeNormaliser) Normalise(ctx context.Context, doc *domain.Document) (result *driven.NormaliseResult, err error) {
	if doc == nil {
		return nil, domain.ErrInvalidInput
	}

	// The reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(doc.Content), int64(len(doc.Content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}

	info := reader.Trailer().Key("Info")
	content := b.String()

	title := strings.TrimSpace(info.Key("Title").Text())
	if title == "" {
		title = normalisers.MetadataString(doc.Metadata, domain.KeyTitle)
	}
	if title == "" {
		title = extractTitle(content, doc.URI)
	}

	return &driven.NormaliseResult{
		Document: domain.CanonicalDocument{
			DocumentID:  doc.ID,
			Text:        content,
			Title:       title,
			Source:      normalisers.MetadataString(doc.Metadata, domain.KeySource),
			PublishedAt: infoDate(info.Key("CreationDate").Text()),
			Format:      n.Name(),
		},
	}, nil
}

// infoDate converts a PDF date string (D:YYYYMMDDHHmmSS...) to
// domain.DateLayout, keeping only the precision present.
func infoDate(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	digits := 0
	for digits < len(s) && digits < 8 && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	switch {
	case digits >= 8:
		return s[0:4] + "-" + s[4:6] + "-" + s[6:8]
	case digits >= 6:
		return s[0:4] + "-" + s[4:6] + "-01"
	case digits >= 4:
		return s[0:4]
	default:
		return ""
	}
}
