package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/normalisers"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// MIMEType is the Office Open XML word processing type.
const MIMEType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// errNoDocumentPart is returned for archives without word/document.xml.
var errNoDocumentPart = errors.New("missing word/document.xml")

// Normaliser handles DOCX documents.
type Normaliser struct{}

// New creates a new DOCX normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Name returns the strategy name.
func (n *Normaliser) Name() string {
	return "docx"
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{MIMEType}
}

// SupportedOrigins returns fetcher names for specialised handling.
func (n *Normaliser) SupportedOrigins() []string {
	return nil // All fetchers
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50 // Generic MIME normaliser
}

// Normalise extracts paragraph text from word/document.xml and document
// properties from docProps/core.xml.
func (n *Normaliser) Normalise(_ context.Context, doc *domain.Document) (*driven.NormaliseResult, error) {
	if doc == nil {
		return nil, domain.ErrInvalidInput
	}

	reader, err := zip.NewReader(bytes.NewReader(doc.Content), int64(len(doc.Content)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}

	body, err := readPart(reader, "word/document.xml")
	if err != nil {
		return nil, err
	}
	content, err := parseDocumentXML(body)
	if err != nil {
		return nil, fmt.Errorf("parse document.xml: %w", err)
	}

	var props coreXML
	if core, err := readPart(reader, "docProps/core.xml"); err == nil {
		// Properties are optional; a malformed part only loses the title.
		_ = xml.Unmarshal(core, &props)
	}

	title := strings.TrimSpace(props.Title)
	if title == "" {
		title = normalisers.MetadataString(doc.Metadata, domain.KeyTitle)
	}
	if title == "" {
		title = normalisers.TitleFromURI(doc.URI)
	}

	return &driven.NormaliseResult{
		Document: domain.CanonicalDocument{
			DocumentID:  doc.ID,
			Text:        content,
			Title:       title,
			Source:      normalisers.MetadataString(doc.Metadata, domain.KeySource),
			PublishedAt: strings.TrimSpace(props.Created),
			Language:    strings.TrimSpace(props.Language),
			Format:      n.Name(),
		},
	}, nil
}

func readPart(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	if name == "word/document.xml" {
		return nil, errNoDocumentPart
	}
	return nil, fmt.Errorf("missing %s", name)
}

// parseDocumentXML walks the WordprocessingML tokens. Text runs inside
// hyperlinks and fields are kept; paragraphs are separated by a blank line.
func parseDocumentXML(content []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))

	var (
		out    strings.Builder
		para   strings.Builder
		inText bool
	)
	flush := func() {
		text := strings.TrimSpace(para.String())
		para.Reset()
		if text == "" {
			return
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(text)
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	flush()
	return out.String(), nil
}

// coreXML holds the docProps/core.xml fields read into the canonical
// document.
type coreXML struct {
	Title    string `xml:"title"`
	Language string `xml:"language"`
	Created  string `xml:"created"`
}
