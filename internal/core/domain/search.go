package domain

import "time"

// DistanceMetric selects how vector distance is computed.
type DistanceMetric string

// Available distance metrics.
const (
	// MetricCosine is 1 - cosine similarity. Range [0, 2].
	MetricCosine DistanceMetric = "cosine"

	// MetricEuclidean is the L2 distance.
	MetricEuclidean DistanceMetric = "euclidean"
)

// IsValid returns true if the metric is recognised.
func (m DistanceMetric) IsValid() bool {
	return m == MetricCosine || m == MetricEuclidean
}

// String returns the string representation.
func (m DistanceMetric) String() string {
	return string(m)
}

// IndexEntry is a stored passage: its vector, validated metadata and the
// provenance needed to answer queries without a back-reference.
type IndexEntry struct {
	// PassageID is the upsert key.
	PassageID string

	// DocumentID is the parent document.
	DocumentID string

	// Origin is the fetcher that produced the parent document.
	Origin string

	// Ordinal is the passage position in its document.
	Ordinal int

	// Text is the passage text.
	Text string

	// Fingerprint is the passage SimHash.
	Fingerprint Fingerprint

	// Vector is the passage embedding.
	Vector []float32

	// Metadata is the validated metadata record.
	Metadata Metadata

	// CreatedAt is when the entry was first stored.
	CreatedAt time.Time
}

// Hit is a store query result.
type Hit struct {
	// Entry is the matched entry.
	Entry IndexEntry

	// Distance is the distance from the query vector.
	Distance float64
}

// StoredFingerprint is a fingerprint already persisted in the store,
// used for cross-batch deduplication.
type StoredFingerprint struct {
	PassageID   string
	DocumentID  string
	Fingerprint Fingerprint
}

// RetrievalRequest is a retrieval query.
type RetrievalRequest struct {
	// Query is the free-text query.
	Query string

	// Project is the namespace to search within. Required.
	Project string

	// Predicate optionally restricts results by metadata.
	Predicate Predicate

	// K is the number of results. Zero uses the configured default.
	K int
}

// Provenance identifies where a result came from.
type Provenance struct {
	DocumentID string `json:"document_id"`
	Origin     string `json:"origin"`
	Ordinal    int    `json:"ordinal"`
	Title      string `json:"title,omitempty"`
	Source     string `json:"source,omitempty"`
	URL        string `json:"url,omitempty"`
	Date       string `json:"date,omitempty"`
}

// RetrievalResult is a ranked retrieval result.
type RetrievalResult struct {
	// PassageID is the stored passage id.
	PassageID string `json:"passage_id"`

	// Text is the passage text.
	Text string `json:"text"`

	// Distance is the distance from the query; lower is closer.
	Distance float64 `json:"distance"`

	// Provenance identifies the parent document.
	Provenance Provenance `json:"provenance"`

	// Metadata is the passage metadata record.
	Metadata Metadata `json:"metadata,omitempty"`
}
