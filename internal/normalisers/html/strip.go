package html

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/normalisers"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser strips HTML tags with regular expressions. It tolerates markup
// the DOM strategy cannot structure, at the cost of keeping boilerplate.
type Normaliser struct{}

// New creates a new HTML strip normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Name returns the strategy name.
func (n *Normaliser) Name() string {
	return "html/strip"
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

// SupportedOrigins returns fetcher names for specialised handling.
func (n *Normaliser) SupportedOrigins() []string {
	return nil // All fetchers
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50 // Generic, below the DOM extractor
}

// Normalise strips tags from an HTML document.
func (n *Normaliser) Normalise(_ context.Context, doc *domain.Document) (*driven.NormaliseResult, error) {
	if doc == nil {
		return nil, domain.ErrInvalidInput
	}

	rawContent := string(doc.Content)

	return &driven.NormaliseResult{
		Document: domain.CanonicalDocument{
			DocumentID: doc.ID,
			Text:       stripHTML(rawContent),
			Title:      extractHTMLTitle(rawContent, doc),
			Source:     normalisers.MetadataString(doc.Metadata, domain.KeySource),
			Format:     n.Name(),
		},
	}, nil
}

// Pre-compiled regular expressions for tag stripping.
var (
	titleTag          = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	scriptTag         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptTag       = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	headTag           = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	svgTag            = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	htmlComments      = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockElements     = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)>`)
	openBlockElements = regexp.MustCompile(`(?i)<(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)[^>]*>`)
	brTags            = regexp.MustCompile(`(?i)<br\s*/?>`)
	hrTags            = regexp.MustCompile(`(?i)<hr\s*/?>`)
	allTags           = regexp.MustCompile(`<[^>]+>`)
	multiSpaces       = regexp.MustCompile(`[ \t]+`)
)

// extractHTMLTitle reads the <title> tag, then falls back to fetcher
// metadata and the filename.
func extractHTMLTitle(content string, doc *domain.Document) string {
	matches := titleTag.FindStringSubmatch(content)
	if len(matches) > 1 {
		title := strings.TrimSpace(html.UnescapeString(matches[1]))
		if title != "" {
			return title
		}
	}
	if title := normalisers.MetadataString(doc.Metadata, domain.KeyTitle); title != "" {
		return title
	}
	return normalisers.TitleFromURI(doc.URI)
}

// stripHTML removes tags and returns the readable text. Closing block
// elements end a paragraph; <br> ends a line.
func stripHTML(content string) string {
	for _, re := range []*regexp.Regexp{scriptTag, styleTag, noscriptTag, headTag, svgTag, htmlComments} {
		content = re.ReplaceAllString(content, "")
	}

	content = openBlockElements.ReplaceAllString(content, "\n\n")
	content = blockElements.ReplaceAllString(content, "\n\n")
	content = brTags.ReplaceAllString(content, "\n")
	content = hrTags.ReplaceAllString(content, "\n\n")
	content = allTags.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	content = multiSpaces.ReplaceAllString(content, " ")

	// Trim lines; a run of empty lines becomes one paragraph break.
	var b strings.Builder
	blank := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			blank = true
			continue
		}
		if b.Len() > 0 {
			if blank {
				b.WriteString("\n\n")
			} else {
				b.WriteByte('\n')
			}
		}
		blank = false
		b.WriteString(line)
	}
	return b.String()
}
