package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/normalisers"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// ErrPDFToolNotFound is returned when pdftotext is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH")

// pdftotextBinary is the poppler tool invoked by Normaliser.
const pdftotextBinary = "pdftotext"

// maxTitleLength bounds the first line accepted as a title.
const maxTitleLength = 200

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner runs commands with os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrPDFToolNotFound
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, err
}

// Normaliser extracts PDF text with pdftotext.
type Normaliser struct {
	runner CommandRunner
}

// New creates a pdftotext normaliser using the system binary.
func New() *Normaliser {
	return &Normaliser{runner: execRunner{}}
}

// NewWithRunner creates a pdftotext normaliser with a custom runner.
func NewWithRunner(runner CommandRunner) *Normaliser {
	return &Normaliser{runner: runner}
}

// CheckAvailable reports whether pdftotext is installed.
func CheckAvailable() error {
	if _, err := exec.LookPath(pdftotextBinary); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

// InstallInstructions returns how to install pdftotext.
func InstallInstructions() string {
	return `pdftotext is part of poppler. Install it with:
  macOS:         brew install poppler
  Debian/Ubuntu: apt install poppler-utils
  Fedora:        dnf install poppler-utils`
}

// Name returns the strategy name.
func (n *Normaliser) Name() string {
	return "pdf/pdftotext"
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{"application/pdf"}
}

// SupportedOrigins returns fetcher names for specialised handling.
func (n *Normaliser) SupportedOrigins() []string {
	return nil // All fetchers
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50 // Below the native reader
}

// Normalise writes the PDF to a temporary file and runs pdftotext on it.
func (n *Normaliser) Normalise(ctx context.Context, doc *domain.Document) (*driven.NormaliseResult, error) {
	if doc == nil {
		return nil, domain.ErrInvalidInput
	}

	tmp, err := os.CreateTemp("", "jarvis-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(doc.Content); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	out, err := n.runner.Run(ctx, pdftotextBinary, "-enc", "UTF-8", "-eol", "unix", tmp.Name(), "-")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("pdftotext failed: %w", err)
	}

	// pdftotext separates pages with form feeds.
	content := strings.ReplaceAll(string(out), "\f", "\n\n")

	title := normalisers.MetadataString(doc.Metadata, domain.KeyTitle)
	if title == "" {
		title = extractTitle(content, doc.URI)
	}

	return &driven.NormaliseResult{
		Document: domain.CanonicalDocument{
			DocumentID: doc.ID,
			Text:       content,
			Title:      title,
			Source:     normalisers.MetadataString(doc.Metadata, domain.KeySource),
			Format:     n.Name(),
		},
	}, nil
}

// extractTitle returns the first short non-empty line, or a title derived
// from the filename.
func extractTitle(content, uri string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && len(line) <= maxTitleLength {
			return line
		}
	}
	return normalisers.TitleFromURI(uri)
}
