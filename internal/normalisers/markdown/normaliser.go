package markdown

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/normalisers"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser handles Markdown documents.
type Normaliser struct{}

// New creates a new Markdown normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Name returns the strategy name.
func (n *Normaliser) Name() string {
	return "markdown"
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}

// SupportedOrigins returns fetcher names for specialised handling.
func (n *Normaliser) SupportedOrigins() []string {
	return nil // All fetchers
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50 // Generic MIME normaliser, higher than plaintext
}

// frontMatter is the subset of YAML front matter read into the canonical
// document.
type frontMatter struct {
	Title    string `yaml:"title"`
	Date     any    `yaml:"date"`
	Language string `yaml:"lang"`
	Source   string `yaml:"source"`
}

// Normalise converts a markdown document to plain text, reading YAML front
// matter when present.
func (n *Normaliser) Normalise(_ context.Context, doc *domain.Document) (*driven.NormaliseResult, error) {
	if doc == nil {
		return nil, domain.ErrInvalidInput
	}

	meta, body, err := splitFrontMatter(doc.Content)
	if err != nil {
		return nil, err
	}
	rawContent := string(body)

	title := meta.Title
	if title == "" {
		title = extractMarkdownTitle(rawContent)
	}
	if title == "" {
		title = normalisers.MetadataString(doc.Metadata, domain.KeyTitle)
	}
	if title == "" {
		title = normalisers.TitleFromURI(doc.URI)
	}

	source := meta.Source
	if source == "" {
		source = normalisers.MetadataString(doc.Metadata, domain.KeySource)
	}

	return &driven.NormaliseResult{
		Document: domain.CanonicalDocument{
			DocumentID:  doc.ID,
			Text:        stripMarkdown(rawContent),
			Title:       title,
			Source:      source,
			PublishedAt: dateString(meta.Date),
			Language:    meta.Language,
			Format:      n.Name(),
		},
	}, nil
}

var fence = []byte("---")

// splitFrontMatter separates a leading "---" delimited YAML block.
func splitFrontMatter(content []byte) (frontMatter, []byte, error) {
	var meta frontMatter

	trimmed := bytes.TrimPrefix(content, []byte("\ufeff"))
	if !bytes.HasPrefix(trimmed, fence) {
		return meta, content, nil
	}
	rest := trimmed[len(fence):]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || len(bytes.TrimSpace(rest[:nl])) != 0 {
		return meta, content, nil
	}
	rest = rest[nl+1:]

	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return meta, content, nil
	}
	block := rest[:end]
	body := rest[end+len("\n---"):]
	if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = nil
	}

	if err := yaml.Unmarshal(block, &meta); err != nil {
		return meta, nil, fmt.Errorf("front matter: %w", err)
	}
	return meta, body, nil
}

// dateString renders a front matter date as written. YAML decodes
// unquoted ISO dates to time.Time.
func dateString(v any) string {
	switch d := v.(type) {
	case string:
		return strings.TrimSpace(d)
	case time.Time:
		return d.Format(domain.DateLayout)
	case int:
		return fmt.Sprint(d)
	default:
		return ""
	}
}

// extractMarkdownTitle returns the first H1 heading.
func extractMarkdownTitle(content string) string {
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			continue
		}
		if !inFence && strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "#"))
		}
	}
	return ""
}

// Pre-compiled regular expressions for markup stripping.
var (
	codeFence     = regexp.MustCompile("(?m)^[ \\t]*```.*$")
	inlineCode    = regexp.MustCompile("`([^`]+)`")
	images        = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	links         = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	headings      = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	emphasis      = regexp.MustCompile(`(?m)(^|[^\w])(\*\*|__|\*|_)([^*_\n]+)(\*\*|__|\*|_)`)
	blockquote    = regexp.MustCompile(`(?m)^>\s?`)
	hr            = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	listMarkers   = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	numberedList  = regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+`)
	htmlTags      = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

// stripMarkdown removes markup while keeping the readable text, including
// the content of code blocks and image alt text.
func stripMarkdown(content string) string {
	content = codeFence.ReplaceAllString(content, "")
	content = inlineCode.ReplaceAllString(content, "$1")
	content = images.ReplaceAllString(content, "$1")
	content = links.ReplaceAllString(content, "$1")
	content = headings.ReplaceAllString(content, "")
	content = hr.ReplaceAllString(content, "")
	content = emphasis.ReplaceAllString(content, "$1$3")
	content = blockquote.ReplaceAllString(content, "")
	content = listMarkers.ReplaceAllString(content, "")
	content = numberedList.ReplaceAllString(content, "")
	content = htmlTags.ReplaceAllString(content, "")
	content = multiNewlines.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
