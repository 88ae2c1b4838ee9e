package normalisers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html/charset"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/logger"
)

// DefaultMinTextLength is the minimum canonical text length, in runes,
// a strategy must produce to be accepted.
const DefaultMinTextLength = 100

const octetStream = "application/octet-stream"

// Ensure Registry implements the interface.
var _ driven.NormaliserRegistry = (*Registry)(nil)

// Registry selects normalisers by MIME type and runs them in priority order.
type Registry struct {
	mu            sync.RWMutex
	byMIME        map[string][]driven.Normaliser
	minTextLength int
}

// NewRegistry creates an empty registry. A minTextLength of zero or less
// uses DefaultMinTextLength.
func NewRegistry(minTextLength int) *Registry {
	if minTextLength <= 0 {
		minTextLength = DefaultMinTextLength
	}
	return &Registry{
		byMIME:        make(map[string][]driven.Normaliser),
		minTextLength: minTextLength,
	}
}

// Register adds a normaliser under each of its MIME types. Normalisers with
// equal priority keep registration order.
func (r *Registry) Register(n driven.Normaliser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, mt := range n.SupportedMIMETypes() {
		mt = BaseMIMEType(mt)
		list := append(r.byMIME[mt], n)
		slices.SortStableFunc(list, func(a, b driven.Normaliser) int {
			return b.Priority() - a.Priority()
		})
		r.byMIME[mt] = list
	}
}

// SupportedMIMETypes returns every registered MIME type, sorted.
func (r *Registry) SupportedMIMETypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.byMIME))
	for mt := range r.byMIME {
		types = append(types, mt)
	}
	slices.Sort(types)
	return types
}

// Normalise runs the strategies for the document's content type until one
// yields at least the minimum text length. The input document is not
// modified; strategies receive a copy with UTF-8 content.
func (r *Registry) Normalise(ctx context.Context, doc *domain.Document) (*driven.NormaliseResult, error) {
	if doc == nil {
		return nil, domain.ErrInvalidInput
	}

	mediaType := DetectMIMEType(doc.ContentType, doc.Content)
	candidates := r.candidates(mediaType, doc.Origin)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, mediaType)
	}

	input := *doc
	input.ContentType = mediaType
	input.Content = ToUTF8(mediaType, doc.ContentType, doc.Content)
	input.Metadata = copyMetadata(doc.Metadata)

	var failures []string
	for _, n := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := n.Normalise(ctx, &input)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			logger.Debug("normaliser %s failed for %s: %v", n.Name(), doc.ID, err)
			failures = append(failures, fmt.Sprintf("%s: %v", n.Name(), err))
			continue
		}

		canonical := result.Document
		canonical.Text = Canonical(canonical.Text)
		if length := utf8.RuneCountInString(canonical.Text); length < r.minTextLength {
			logger.Debug("normaliser %s produced %d runes for %s, below %d",
				n.Name(), length, doc.ID, r.minTextLength)
			failures = append(failures, fmt.Sprintf("%s: text below minimum length (%d < %d)",
				n.Name(), length, r.minTextLength))
			continue
		}

		canonical.DocumentID = doc.ID
		if canonical.Format == "" {
			canonical.Format = n.Name()
		}
		return &driven.NormaliseResult{Document: canonical}, nil
	}

	return nil, fmt.Errorf("%w: %s", domain.ErrExtractionFailed, strings.Join(failures, "; "))
}

// candidates returns the strategies for mediaType that accept origin.
func (r *Registry) candidates(mediaType, origin string) []driven.Normaliser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []driven.Normaliser
	for _, n := range r.byMIME[mediaType] {
		origins := n.SupportedOrigins()
		if len(origins) == 0 || slices.Contains(origins, origin) {
			out = append(out, n)
		}
	}
	return out
}

// BaseMIMEType strips parameters and lowercases a MIME type.
func BaseMIMEType(contentType string) string {
	if contentType == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// DetectMIMEType returns the base MIME type of content. An empty or
// application/octet-stream declared type is sniffed from the bytes.
func DetectMIMEType(declared string, content []byte) string {
	mt := BaseMIMEType(declared)
	if mt != "" && mt != octetStream {
		return mt
	}
	if len(content) == 0 {
		return octetStream
	}
	return BaseMIMEType(mimetype.Detect(content).String())
}

// ToUTF8 transcodes textual content to UTF-8 using the declared charset or
// detection. Binary types are returned unchanged. Invalid sequences are
// replaced with U+FFFD.
func ToUTF8(mediaType, declared string, content []byte) []byte {
	if !isTextual(mediaType) {
		return content
	}
	if utf8.Valid(content) && !hasForeignCharset(declared) {
		return content
	}

	enc, name, _ := charset.DetermineEncoding(content, declared)
	if name != "utf-8" {
		if decoded, err := enc.NewDecoder().Bytes(content); err == nil {
			content = decoded
		} else {
			logger.Debug("transcoding from %s failed: %v", name, err)
		}
	}
	return bytes.ToValidUTF8(content, []byte("\uFFFD"))
}

func isTextual(mediaType string) bool {
	return strings.HasPrefix(mediaType, "text/") ||
		strings.HasSuffix(mediaType, "+xml") ||
		mediaType == "application/xml" ||
		mediaType == "application/json"
}

func hasForeignCharset(contentType string) bool {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	cs := strings.ToLower(params["charset"])
	return cs != "" && cs != "utf-8" && cs != "utf8" && cs != "us-ascii"
}

// copyMetadata creates a shallow copy of metadata.
func copyMetadata(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
