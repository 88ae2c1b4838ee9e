// Package chunker splits canonical text into bounded, overlapping passages.
package chunker

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strconv"
	"unicode"

	"github.com/google/uuid"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// DefaultChunkSize is the default passage size.
const DefaultChunkSize = 1000

// DefaultOverlap is the default fraction of the size shared by neighbours.
const DefaultOverlap = 0.1

// DefaultBoundaryTolerance is the default fraction of the size a boundary
// may move back to reach a sentence or paragraph break.
const DefaultBoundaryTolerance = 0.1

// passageNamespace seeds deterministic passage ids.
var passageNamespace = uuid.MustParse("6f1c2b1e-7d0a-4f5e-9a43-2f0e8c7b9d10")

// PassageID returns the id of the passage at ordinal in documentID.
func PassageID(documentID string, ordinal int) string {
	return uuid.NewSHA1(passageNamespace, []byte(documentID+"#"+strconv.Itoa(ordinal))).String()
}

// Tokenizer counts tokens, for sizing chunks in tokens.
type Tokenizer interface {
	Count(text string) int
}

// Processor splits canonical text into passages.
// It implements the PostProcessor interface.
type Processor struct {
	size      int
	minLength int
	overlap   float64
	tolerance float64
	tokenizer Tokenizer
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithChunkSize sets the target passage size (characters, or tokens when a
// tokenizer is set).
func WithChunkSize(size int) Option {
	return func(p *Processor) {
		p.size = size
	}
}

// WithMinLength sets the shortest passage, in the same unit as the size,
// that a boundary may produce. The final passage may be shorter.
func WithMinLength(length int) Option {
	return func(p *Processor) {
		p.minLength = length
	}
}

// WithOverlap sets the overlap fraction between adjacent passages.
func WithOverlap(fraction float64) Option {
	return func(p *Processor) {
		p.overlap = fraction
	}
}

// WithBoundaryTolerance sets how far, as a fraction of the size, a boundary
// may move back to land on a break.
func WithBoundaryTolerance(fraction float64) Option {
	return func(p *Processor) {
		p.tolerance = fraction
	}
}

// WithTokenizer measures the chunk size in tokens.
func WithTokenizer(t Tokenizer) Option {
	return func(p *Processor) {
		p.tokenizer = t
	}
}

// New creates a chunker. It fails with domain.ErrInvalidChunkConfig if the
// size is not positive, the minimum length is outside [0, size] or the
// overlap is outside [0, 1).
func New(opts ...Option) (*Processor, error) {
	p := &Processor{
		size:      DefaultChunkSize,
		overlap:   DefaultOverlap,
		tolerance: DefaultBoundaryTolerance,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", domain.ErrInvalidChunkConfig, p.size)
	}
	if p.minLength < 0 || p.minLength > p.size {
		return nil, fmt.Errorf("%w: min length must be in [0, %d], got %d",
			domain.ErrInvalidChunkConfig, p.size, p.minLength)
	}
	if p.overlap < 0 || p.overlap >= 1 {
		return nil, fmt.Errorf("%w: overlap must be in [0, 1), got %g", domain.ErrInvalidChunkConfig, p.overlap)
	}
	if p.tolerance < 0 || p.tolerance >= 1 {
		return nil, fmt.Errorf("%w: boundary tolerance must be in [0, 1), got %g",
			domain.ErrInvalidChunkConfig, p.tolerance)
	}

	return p, nil
}

// NewFromSettings creates a chunker from settings. tokenizer is only used
// when the unit is tokens and must then be non-nil.
func NewFromSettings(s domain.ChunkSettings, tokenizer Tokenizer) (*Processor, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	opts := []Option{
		WithChunkSize(s.Size),
		WithMinLength(s.MinLength),
		WithOverlap(s.Overlap),
		WithBoundaryTolerance(s.BoundaryTolerance),
	}
	if s.Unit == domain.ChunkUnitTokens {
		if tokenizer == nil {
			return nil, fmt.Errorf("%w: token unit requires a tokenizer", domain.ErrInvalidChunkConfig)
		}
		opts = append(opts, WithTokenizer(tokenizer))
	}
	return New(opts...)
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// Process splits the document text into passages.
// Input passages are ignored; this processor creates them.
func (p *Processor) Process(ctx context.Context, doc *domain.CanonicalDocument, _ []domain.Passage) ([]domain.Passage, error) {
	var passages []domain.Passage
	for passage := range p.Passages(doc.DocumentID, doc.Text) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		passages = append(passages, passage)
	}
	return passages, nil
}

// Passages returns the passages of text as a lazy sequence. Each range over
// the sequence starts again from the first passage.
//
// Passage i covers runes [Start, End) of text. Adjacent passages share
// exactly floor(overlap*size) runes, so dropping that prefix from every
// passage after the first reconstructs text. Every passage but the last
// is at least the minimum length.
func (p *Processor) Passages(documentID, text string) iter.Seq[domain.Passage] {
	return func(yield func(domain.Passage) bool) {
		runes := []rune(text)
		n := len(runes)
		if n == 0 {
			return
		}

		size, minLength, overlap, tolerance := p.bounds(text, n)

		start := 0
		for ordinal := 0; ; ordinal++ {
			end := start + size
			if end >= n {
				end = n
			} else {
				end = bestBreak(runes, max(end-tolerance, start+minLength), end)
			}

			passage := domain.Passage{
				ID:         PassageID(documentID, ordinal),
				DocumentID: documentID,
				Ordinal:    ordinal,
				Text:       string(runes[start:end]),
				Start:      start,
				End:        end,
			}
			if !yield(passage) || end == n {
				return
			}
			start = end - overlap
		}
	}
}

// bounds returns the size, minimum length, overlap and tolerance in runes
// for a text of n runes. The tolerance is clamped so that every step
// advances.
func (p *Processor) bounds(text string, n int) (size, minLength, overlap, tolerance int) {
	size, minLength = p.size, p.minLength
	if p.tokenizer != nil {
		if tokens := p.tokenizer.Count(text); tokens > 0 {
			ratio := float64(n) / float64(tokens)
			size = max(1, int(math.Round(float64(p.size)*ratio)))
			minLength = min(size, int(math.Round(float64(p.minLength)*ratio)))
		}
	}
	overlap = int(math.Floor(p.overlap * float64(size)))
	if overlap >= size {
		overlap = size - 1
	}
	tolerance = int(p.tolerance * float64(size))
	if limit := size - overlap - 1; tolerance > limit {
		tolerance = max(0, limit)
	}
	return size, minLength, overlap, tolerance
}

// Break classes, best first.
const (
	breakNone = iota
	breakWord
	breakSentence
	breakParagraph
)

// bestBreak returns the passage end in [lo, hi] that falls on the best
// break class, preferring the position closest to hi within a class.
// Without any break it cuts at hi.
func bestBreak(runes []rune, lo, hi int) int {
	best, bestClass := hi, breakNone
	for end := hi; end >= lo && end >= 1; end-- {
		class := breakClass(runes, end)
		if class == breakParagraph {
			return end
		}
		if class > bestClass {
			best, bestClass = end, class
		}
	}
	return best
}

// breakClass classifies cutting runes immediately before index end.
func breakClass(runes []rune, end int) int {
	last := runes[end-1]
	if !unicode.IsSpace(last) {
		return breakNone
	}
	if last == '\n' && end >= 2 && runes[end-2] == '\n' {
		return breakParagraph
	}
	if last == '\n' {
		return breakSentence
	}
	if end >= 2 && isTerminator(runes[end-2]) {
		return breakSentence
	}
	return breakWord
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
