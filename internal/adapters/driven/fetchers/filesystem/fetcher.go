// Package filesystem provides a Fetcher that reads local files.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/logger"
)

// Ensure Fetcher implements the interface.
var _ driven.Fetcher = (*Fetcher)(nil)

// Name is the fetcher name and the Origin of produced documents.
const Name = "filesystem"

// DefaultMaxFileSize is the largest file read by default.
const DefaultMaxFileSize = 32 << 20

const octetStream = "application/octet-stream"

// documentNamespace scopes document ids derived from file paths.
var documentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("jarvis:filesystem"))

// extensionTypes covers extensions the system MIME table often lacks.
var extensionTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".text":     "text/plain",
	".rst":      "text/plain",
	".html":     "text/html",
	".htm":      "text/html",
	".xhtml":    "application/xhtml+xml",
	".pdf":      "application/pdf",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Fetcher reads a single file or walks a directory.
type Fetcher struct {
	maxFileSize int64
	now         func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxFileSize skips files larger than n bytes.
func WithMaxFileSize(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxFileSize = n
		}
	}
}

// New creates a filesystem fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		maxFileSize: DefaultMaxFileSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns "filesystem".
func (f *Fetcher) Name() string {
	return Name
}

// Fetch reads target. A file yields one document; a directory yields every
// visible regular file beneath it in lexical order. Unreadable files inside
// a directory are logged and skipped.
func (f *Fetcher) Fetch(ctx context.Context, target string) ([]domain.Document, error) {
	path, err := ResolvePath(target)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.IsDir() {
		doc, err := f.read(path, info)
		if err != nil {
			return nil, err
		}
		return []domain.Document{doc}, nil
	}

	var docs []domain.Document
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			logger.Warn("Skipping %s: %v", p, walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if p != path && isHidden(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logger.Warn("Skipping %s: %v", p, err)
			return nil
		}
		doc, err := f.read(p, info)
		if err != nil {
			logger.Warn("Skipping %s: %v", p, err)
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("Fetched %d files from %s", len(docs), path)
	return docs, nil
}

// read loads one file as a Document.
func (f *Fetcher) read(path string, info fs.FileInfo) (domain.Document, error) {
	if info.Size() > f.maxFileSize {
		return domain.Document{}, fmt.Errorf("%w: %s is %d bytes, limit is %d",
			domain.ErrInvalidInput, path, info.Size(), f.maxFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return domain.Document{
		ID:          DocumentID(path),
		Origin:      Name,
		URI:         path,
		ContentType: detectMIMEType(path, content),
		Content:     content,
		RetrievedAt: f.now().UTC(),
	}, nil
}

// DocumentID returns the stable document id for an absolute path.
func DocumentID(path string) string {
	return uuid.NewSHA1(documentNamespace, []byte(filepath.Clean(path))).String()
}

// ResolvePath turns a path or file:// URI into a clean absolute path.
func ResolvePath(target string) (string, error) {
	target = strings.TrimSpace(target)
	target = strings.TrimPrefix(target, "file://")
	if target == "" {
		return "", fmt.Errorf("%w: path is required", domain.ErrInvalidInput)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", target, err)
	}
	return abs, nil
}

// detectMIMEType declares a type from the extension, sniffing the content
// when the extension is unknown.
func detectMIMEType(path string, content []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := extensionTypes[ext]; ok {
		return mt
	}
	if ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			base, _, _ := strings.Cut(mt, ";")
			return strings.TrimSpace(base)
		}
	}
	if len(content) == 0 {
		return "text/plain"
	}
	mt := mimetype.Detect(content).String()
	base, _, _ := strings.Cut(mt, ";")
	if base == "" {
		return octetStream
	}
	return base
}

// isHidden reports whether a path element is a dotfile. "." and ".." are
// not hidden.
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
