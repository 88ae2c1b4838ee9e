package dedup

import (
	"fmt"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// DefaultThreshold treats passages differing in at most 3 of 64 bits as
// duplicates.
const DefaultThreshold = 4

// Duplicate is a passage dropped in favour of a representative.
type Duplicate struct {
	// Passage is the dropped passage.
	Passage domain.Passage

	// Of is the passage id of the retained representative, which may be a
	// passage already in the store.
	Of string

	// Distance is the fingerprint distance to the representative.
	Distance int
}

// Result is the outcome of deduplicating a batch.
type Result struct {
	// Retained holds one representative per cluster, in input order.
	Retained []domain.Passage

	// Duplicates holds every dropped passage, in input order.
	Duplicates []Duplicate
}

// Deduplicator groups passages whose fingerprint distance is below a
// threshold and keeps one representative per group.
type Deduplicator struct {
	threshold int
}

// New creates a deduplicator. Passages are duplicates when their fingerprint
// distance is below threshold, which must be in [1, 64].
func New(threshold int) (*Deduplicator, error) {
	if threshold < 1 || threshold > 64 {
		return nil, fmt.Errorf("%w: dedup threshold must be in [1, 64], got %d", domain.ErrInvalidInput, threshold)
	}
	return &Deduplicator{threshold: threshold}, nil
}

// Threshold returns the configured distance threshold.
func (d *Deduplicator) Threshold() int {
	return d.threshold
}

// Deduplicate clusters passages (which must already be fingerprinted) with
// each other and with stored fingerprints. Passage order is ingestion
// order.
//
// A cluster containing a stored fingerprint keeps the stored entry, so all
// of its batch passages are duplicates. Otherwise the longest passage is
// retained, ties going to the earliest. Clusters are transitive: a~b and
// b~c puts a, b and c in one cluster.
func (d *Deduplicator) Deduplicate(passages []domain.Passage, stored []domain.StoredFingerprint) Result {
	nStored := len(stored)
	total := nStored + len(passages)
	fingerprint := func(i int) domain.Fingerprint {
		if i < nStored {
			return stored[i].Fingerprint
		}
		return passages[i-nStored].Fingerprint
	}

	sets := newUnionFind(total)
	bands := newBands(d.threshold)
	for i := 0; i < total; i++ {
		f := fingerprint(i)
		for b := range bands.count {
			key := bands.key(b, f)
			for _, j := range bands.buckets[b][key] {
				if i < nStored && j < nStored {
					continue
				}
				if f.Distance(fingerprint(j)) < d.threshold {
					sets.union(i, j)
				}
			}
			bands.buckets[b][key] = append(bands.buckets[b][key], i)
		}
	}

	// Pick the representative of each cluster. Members are visited in
	// index order, so stored entries come first.
	rep := make(map[int]int)
	for i := 0; i < total; i++ {
		root := sets.find(i)
		current, ok := rep[root]
		switch {
		case !ok:
			rep[root] = i
		case current < nStored:
			// A stored representative always wins.
		case i >= nStored && passages[i-nStored].Len() > passages[current-nStored].Len():
			rep[root] = i
		}
	}

	var result Result
	for idx, passage := range passages {
		i := idx + nStored
		r := rep[sets.find(i)]
		if r == i {
			result.Retained = append(result.Retained, passage)
			continue
		}
		var of string
		if r < nStored {
			of = stored[r].PassageID
		} else {
			of = passages[r-nStored].ID
		}
		result.Duplicates = append(result.Duplicates, Duplicate{
			Passage:  passage,
			Of:       of,
			Distance: passage.Fingerprint.Distance(fingerprint(r)),
		})
	}
	return result
}

// bands splits fingerprints into threshold bands. Two fingerprints at
// distance < threshold differ in at most threshold-1 bits, so at least one
// band is identical and they meet in that band's bucket.
type bands struct {
	count   int
	bounds  []int
	buckets []map[uint64][]int
}

func newBands(threshold int) *bands {
	b := &bands{
		count:   threshold,
		bounds:  make([]int, threshold+1),
		buckets: make([]map[uint64][]int, threshold),
	}
	for i := 0; i <= threshold; i++ {
		b.bounds[i] = i * 64 / threshold
	}
	for i := range b.buckets {
		b.buckets[i] = make(map[uint64][]int)
	}
	return b
}

func (b *bands) key(band int, f domain.Fingerprint) uint64 {
	lo, hi := b.bounds[band], b.bounds[band+1]
	width := hi - lo
	v := uint64(f) >> lo
	if width < 64 {
		v &= (1 << width) - 1
	}
	return v
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
	}
	return u
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union joins two sets, keeping the smaller index as root.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
