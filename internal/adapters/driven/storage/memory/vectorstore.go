package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/custodia-labs/jarvis/internal/adapters/driven/storage"
	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
)

// Ensure VectorStore implements the interface.
var _ driven.VectorStore = (*VectorStore)(nil)

// VectorStore is an in-memory implementation of driven.VectorStore.
// Queries scan every entry.
type VectorStore struct {
	mu      sync.RWMutex
	metric  domain.DistanceMetric
	entries map[string]*record
	seq     int64
	dims    int
	closed  bool
}

type record struct {
	entry domain.IndexEntry
	seq   int64
}

// NewVectorStore creates a new in-memory vector store.
func NewVectorStore(metric domain.DistanceMetric) *VectorStore {
	if metric == "" {
		metric = domain.MetricCosine
	}
	return &VectorStore{
		metric:  metric,
		entries: make(map[string]*record),
	}
}

// Put stores or replaces an entry. A replaced entry keeps its insertion
// position.
func (s *VectorStore) Put(_ context.Context, entry domain.IndexEntry) error {
	if entry.PassageID == "" {
		return fmt.Errorf("%w: passage id is required", domain.ErrInvalidInput)
	}
	if len(entry.Vector) == 0 {
		return fmt.Errorf("%w: entry %s has no vector", domain.ErrInvalidInput, entry.PassageID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreUnavailable
	}
	if s.dims != 0 && len(entry.Vector) != s.dims {
		return fmt.Errorf("%w: entry %s has %d dimensions, store has %d",
			domain.ErrDimensionMismatch, entry.PassageID, len(entry.Vector), s.dims)
	}
	s.dims = len(entry.Vector)

	entry = cloneEntry(entry)
	if existing, ok := s.entries[entry.PassageID]; ok {
		if !existing.entry.CreatedAt.IsZero() {
			entry.CreatedAt = existing.entry.CreatedAt
		}
		existing.entry = entry
		return nil
	}
	s.seq++
	s.entries[entry.PassageID] = &record{entry: entry, seq: s.seq}
	return nil
}

// Query returns the k nearest entries matching predicate.
func (s *VectorStore) Query(_ context.Context, vector []float32, k int, predicate domain.Predicate) ([]domain.Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreUnavailable
	}

	var candidates []storage.Candidate
	for _, r := range s.entries {
		if !predicate.Matches(r.entry.Metadata) {
			continue
		}
		d, err := storage.Distance(s.metric, vector, r.entry.Vector)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, storage.Candidate{
			Hit: domain.Hit{Entry: cloneEntry(r.entry), Distance: d},
			Seq: r.seq,
		})
	}
	return storage.TopK(candidates, k), nil
}

// DeleteByDocument removes the document's entries in project ("" = all).
func (s *VectorStore) DeleteByDocument(_ context.Context, project, documentID string) (int, error) {
	return s.deleteWhere(func(e domain.IndexEntry) bool {
		return e.DocumentID == documentID && (project == "" || e.Metadata.Project() == project)
	})
}

// DeleteByProject removes every entry in the project.
func (s *VectorStore) DeleteByProject(_ context.Context, project string) (int, error) {
	return s.deleteWhere(func(e domain.IndexEntry) bool {
		return e.Metadata.Project() == project
	})
}

func (s *VectorStore) deleteWhere(match func(domain.IndexEntry) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, domain.ErrStoreUnavailable
	}

	removed := 0
	for id, r := range s.entries {
		if match(r.entry) {
			delete(s.entries, id)
			removed++
		}
	}
	if len(s.entries) == 0 {
		s.dims = 0
	}
	return removed, nil
}

// Fingerprints returns the project's fingerprints in insertion order,
// skipping the excluded documents.
func (s *VectorStore) Fingerprints(_ context.Context, project string, exclude []string) ([]domain.StoredFingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreUnavailable
	}

	records := make([]*record, 0, len(s.entries))
	for _, r := range s.entries {
		if r.entry.Metadata.Project() != project || slices.Contains(exclude, r.entry.DocumentID) {
			continue
		}
		records = append(records, r)
	}
	slices.SortFunc(records, func(a, b *record) int {
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]domain.StoredFingerprint, len(records))
	for i, r := range records {
		out[i] = domain.StoredFingerprint{
			PassageID:   r.entry.PassageID,
			DocumentID:  r.entry.DocumentID,
			Fingerprint: r.entry.Fingerprint,
		}
	}
	return out, nil
}

// Count returns the number of entries in the project ("" = all).
func (s *VectorStore) Count(_ context.Context, project string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, domain.ErrStoreUnavailable
	}
	if project == "" {
		return len(s.entries), nil
	}
	n := 0
	for _, r := range s.entries {
		if r.entry.Metadata.Project() == project {
			n++
		}
	}
	return n, nil
}

// Close marks the store closed. Later calls fail with
// domain.ErrStoreUnavailable.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneEntry(e domain.IndexEntry) domain.IndexEntry {
	e.Vector = slices.Clone(e.Vector)
	e.Metadata = e.Metadata.Clone()
	return e
}
