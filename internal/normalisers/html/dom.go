package html

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/normalisers"
)

// Ensure DOMNormaliser implements the interface.
var _ driven.Normaliser = (*DOMNormaliser)(nil)

// DOMNormaliser extracts the main content of an HTML page from its parsed
// tree. It prefers <article>, then <main>, then <body>, and skips
// navigation, asides, footers and scripts.
type DOMNormaliser struct{}

// NewDOM creates a new DOM-based HTML normaliser.
func NewDOM() *DOMNormaliser {
	return &DOMNormaliser{}
}

// Name returns the strategy name.
func (n *DOMNormaliser) Name() string {
	return "html/dom"
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *DOMNormaliser) SupportedMIMETypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

// SupportedOrigins returns fetcher names for specialised handling.
func (n *DOMNormaliser) SupportedOrigins() []string {
	return nil // All fetchers
}

// Priority returns the selection priority.
func (n *DOMNormaliser) Priority() int {
	return 60
}

// Meta names carrying head metadata, best first.
var (
	titleMeta  = []string{"citation_title", "og:title", "dc.title"}
	dateMeta   = []string{"citation_publication_date", "article:published_time", "dc.date", "citation_date", "date"}
	sourceMeta = []string{"citation_journal_title", "og:site_name"}
)

// Normalise parses the document and extracts its main content.
func (n *DOMNormaliser) Normalise(_ context.Context, doc *domain.Document) (*driven.NormaliseResult, error) {
	if doc == nil {
		return nil, domain.ErrInvalidInput
	}

	root, err := html.Parse(bytes.NewReader(doc.Content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	head := readHead(root)

	content := findFirst(root, atom.Article)
	if content == nil {
		content = findFirst(root, atom.Main)
	}
	if content == nil {
		content = findFirst(root, atom.Body)
	}
	if content == nil {
		content = root
	}

	var w textWriter
	w.walk(content)

	title := head.meta(titleMeta)
	if title == "" {
		title = head.title
	}
	if title == "" {
		title = normalisers.MetadataString(doc.Metadata, domain.KeyTitle)
	}
	if title == "" {
		title = normalisers.TitleFromURI(doc.URI)
	}

	source := head.meta(sourceMeta)
	if source == "" {
		source = normalisers.MetadataString(doc.Metadata, domain.KeySource)
	}

	return &driven.NormaliseResult{
		Document: domain.CanonicalDocument{
			DocumentID:  doc.ID,
			Text:        w.String(),
			Title:       title,
			Source:      source,
			PublishedAt: head.meta(dateMeta),
			Language:    head.lang,
			Format:      n.Name(),
		},
	}, nil
}

// headInfo is what the page head declares about itself.
type headInfo struct {
	title string
	lang  string
	metas map[string]string
}

func (h headInfo) meta(names []string) string {
	for _, name := range names {
		if v := h.metas[name]; v != "" {
			return v
		}
	}
	return ""
}

func readHead(root *html.Node) headInfo {
	info := headInfo{metas: make(map[string]string)}
	if el := findFirst(root, atom.Html); el != nil {
		info.lang = strings.TrimSpace(attr(el, "lang"))
	}
	if el := findFirst(root, atom.Title); el != nil {
		info.title = strings.Join(strings.Fields(textContent(el)), " ")
	}
	for _, el := range findAll(root, atom.Meta) {
		name := attr(el, "name")
		if name == "" {
			name = attr(el, "property")
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value := strings.TrimSpace(attr(el, "content"))
		if name == "" || value == "" {
			continue
		}
		if _, seen := info.metas[name]; !seen {
			info.metas[name] = value
		}
	}
	return info
}

// skippedElements contribute no text.
var skippedElements = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Nav:      true,
	atom.Aside:    true,
	atom.Footer:   true,
	atom.Form:     true,
	atom.Button:   true,
}

// paragraphElements are separated by a blank line.
var paragraphElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.Header: true, atom.Blockquote: true, atom.Figure: true,
	atom.Figcaption: true, atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Dl: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Hr: true,
}

// lineElements start on a new line.
var lineElements = map[atom.Atom]bool{
	atom.Li: true, atom.Tr: true, atom.Dt: true, atom.Dd: true, atom.Br: true,
}

// Pending break levels.
const (
	noBreak = iota
	lineBreak
	paragraphBreak
)

// textWriter accumulates text with collapsed whitespace and structural
// breaks.
type textWriter struct {
	b       strings.Builder
	pending int
	space   bool
}

func (w *textWriter) String() string {
	return w.b.String()
}

func (w *textWriter) brk(level int) {
	w.pending = max(w.pending, level)
	w.space = false
}

func (w *textWriter) text(s string) {
	words := strings.Fields(s)
	if len(words) == 0 {
		if s != "" {
			w.space = true
		}
		return
	}
	leading := s[0] == ' ' || s[0] == '\n' || s[0] == '\t' || s[0] == '\r'
	w.flush(leading)
	w.b.WriteString(strings.Join(words, " "))
	last := s[len(s)-1]
	w.space = last == ' ' || last == '\n' || last == '\t' || last == '\r'
}

// raw writes preformatted text verbatim.
func (w *textWriter) raw(s string) {
	s = strings.Trim(s, "\n")
	if s == "" {
		return
	}
	w.flush(false)
	w.b.WriteString(s)
}

func (w *textWriter) flush(leadingSpace bool) {
	if w.b.Len() == 0 {
		w.pending = noBreak
		return
	}
	switch w.pending {
	case paragraphBreak:
		w.b.WriteString("\n\n")
	case lineBreak:
		w.b.WriteByte('\n')
	default:
		if w.space || leadingSpace {
			w.b.WriteByte(' ')
		}
	}
	w.pending = noBreak
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		if skippedElements[n.DataAtom] {
			return
		}
		switch {
		case n.DataAtom == atom.Pre:
			w.brk(paragraphBreak)
			w.raw(textContent(n))
			w.brk(paragraphBreak)
			return
		case n.DataAtom == atom.Td || n.DataAtom == atom.Th:
			w.space = true
		case paragraphElements[n.DataAtom]:
			w.brk(paragraphBreak)
		case lineElements[n.DataAtom]:
			w.brk(lineBreak)
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}

	if n.Type == html.ElementNode {
		switch {
		case n.DataAtom == atom.Td || n.DataAtom == atom.Th:
			w.space = true
		case paragraphElements[n.DataAtom]:
			w.brk(paragraphBreak)
		case lineElements[n.DataAtom]:
			w.brk(lineBreak)
		}
	}
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return out
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
