package driven

import (
	"context"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// VectorStore persists index entries and serves nearest-neighbour queries.
// Connection failures are reported as domain.ErrStoreUnavailable, which
// callers treat as retryable.
type VectorStore interface {
	// Put upserts entry keyed by PassageID. An upsert keeps the entry's
	// original insertion position. Writes are atomic per entry.
	Put(ctx context.Context, entry domain.IndexEntry) error

	// Query returns up to k entries matching predicate, ordered by
	// increasing distance from vector, ties broken by insertion order.
	Query(ctx context.Context, vector []float32, k int, predicate domain.Predicate) ([]domain.Hit, error)

	// DeleteByDocument removes the entries derived from the document in the
	// project ("" = every project) and returns how many were removed.
	DeleteByDocument(ctx context.Context, project, documentID string) (int, error)

	// DeleteByProject removes all entries in the project namespace.
	DeleteByProject(ctx context.Context, project string) (int, error)

	// Fingerprints returns stored fingerprints for the project, skipping
	// entries of the excluded documents.
	Fingerprints(ctx context.Context, project string, exclude []string) ([]domain.StoredFingerprint, error)

	// Count returns the number of entries in the project ("" = all).
	Count(ctx context.Context, project string) (int, error)

	// Close releases resources.
	Close() error
}
