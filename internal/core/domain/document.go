package domain

import (
	"time"
	"unicode/utf8"
)

// Document is a raw source unit produced by a fetcher.
// Documents are immutable once handed to the core; a re-fetch supersedes
// the previous version instead of mutating it.
type Document struct {
	// ID is the unique source identifier.
	ID string

	// Origin is the name of the fetcher that produced the document.
	Origin string

	// URI is where the document was fetched from, if known.
	URI string

	// ContentType is the declared MIME type of Content.
	ContentType string

	// Content holds the raw fetched bytes.
	Content []byte

	// Metadata holds raw, unvalidated metadata supplied by the fetcher.
	Metadata map[string]any

	// RetrievedAt is when the fetcher retrieved the document.
	RetrievedAt time.Time
}

// CanonicalDocument is the normaliser output for a Document.
type CanonicalDocument struct {
	// DocumentID is the ID of the source Document.
	DocumentID string

	// Text is the canonical UTF-8 text.
	Text string

	// Title is the extracted title, if any.
	Title string

	// Source describes where the text came from (site name, journal, file).
	Source string

	// PublishedAt is the extracted publication date as written in the source.
	PublishedAt string

	// Language is the declared or detected language tag.
	Language string

	// Format names the strategy that produced the text (e.g. "html/dom").
	Format string
}

// Passage is a chunk of canonical text derived from one Document.
type Passage struct {
	// ID is derived deterministically from the project, DocumentID and
	// Ordinal.
	ID string

	// DocumentID is the parent document.
	DocumentID string

	// Ordinal is the zero-based position of the passage in its document.
	Ordinal int

	// Text is the passage content.
	Text string

	// Start is the rune offset of the first character in the canonical text.
	Start int

	// End is the rune offset one past the last character.
	End int

	// Fingerprint is the SimHash of the normalised passage text.
	Fingerprint Fingerprint

	// Embedding is the vector representation (nil until computed).
	Embedding []float32

	// Metadata is the validated metadata record.
	Metadata Metadata
}

// Len returns the passage length in runes.
func (p Passage) Len() int {
	return utf8.RuneCountInString(p.Text)
}

// Fingerprint is a 64-bit content digest used for near-duplicate detection.
type Fingerprint uint64

// Distance returns the Hamming distance between two fingerprints.
func (f Fingerprint) Distance(other Fingerprint) int {
	x := uint64(f ^ other)
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}
