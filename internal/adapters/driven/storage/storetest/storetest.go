// Package storetest is the behaviour suite every driven.VectorStore
// adapter must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
)

// Factory opens an empty store using the cosine metric. The suite closes
// the store when a test ends.
type Factory func(t *testing.T) driven.VectorStore

// Entry builds an index entry for project with a vector pointing in the
// given direction.
func Entry(project, documentID string, ordinal int, vector ...float32) domain.IndexEntry {
	return domain.IndexEntry{
		PassageID:   fmt.Sprintf("%s#%d", documentID, ordinal),
		DocumentID:  documentID,
		Origin:      "test",
		Ordinal:     ordinal,
		Text:        fmt.Sprintf("passage %d of %s", ordinal, documentID),
		Fingerprint: domain.Fingerprint(uint64(ordinal+1) << 8),
		Vector:      vector,
		Metadata: domain.Metadata{
			domain.KeyProject: project,
			domain.KeySource:  "unit",
		},
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// Run runs the suite against stores created by open.
func Run(t *testing.T, open Factory) {
	t.Helper()

	tests := map[string]func(t *testing.T, s driven.VectorStore){
		"QueryOrdersByDistance":       testQueryOrdersByDistance,
		"QueryLimitsToK":              testQueryLimitsToK,
		"QueryRejectsNonPositiveK":    testQueryRejectsNonPositiveK,
		"QueryEmptyStore":             testQueryEmptyStore,
		"TiesKeepInsertionOrder":      testTiesKeepInsertionOrder,
		"UpsertIsIdempotent":          testUpsertIsIdempotent,
		"UpsertKeepsPosition":         testUpsertKeepsPosition,
		"RoundTripsEntry":             testRoundTripsEntry,
		"PredicateScopesProject":      testPredicateScopesProject,
		"PredicateEqualsAndTags":      testPredicateEqualsAndTags,
		"PredicateDateRange":          testPredicateDateRange,
		"DeleteByDocument":            testDeleteByDocument,
		"DeleteByDocumentInProject":   testDeleteByDocumentInProject,
		"DeleteByProject":             testDeleteByProject,
		"FingerprintsScopeAndExclude": testFingerprints,
		"Count":                       testCount,
		"ConcurrentAccess":            testConcurrentAccess,
	}

	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

// RunClosed checks that a closed store reports domain.ErrStoreUnavailable.
func RunClosed(t *testing.T, open Factory) {
	t.Helper()
	ctx := context.Background()

	s := open(t)
	require.NoError(t, s.Put(ctx, Entry("p", "doc", 0, 1, 0)))
	require.NoError(t, s.Close())

	err := s.Put(ctx, Entry("p", "doc", 1, 1, 0))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = s.Query(ctx, []float32{1, 0}, 1, domain.Predicate{})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = s.DeleteByDocument(ctx, "p", "doc")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = s.Count(ctx, "")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func put(t *testing.T, s driven.VectorStore, entries ...domain.IndexEntry) {
	t.Helper()
	for _, e := range entries {
		require.NoError(t, s.Put(context.Background(), e))
	}
}

func passageIDs(hits []domain.Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Entry.PassageID
	}
	return ids
}

func testQueryOrdersByDistance(t *testing.T, s driven.VectorStore) {
	put(t, s,
		Entry("p", "far", 0, 0, 1),
		Entry("p", "near", 0, 1, 0),
		Entry("p", "mid", 0, 1, 1),
	)

	hits, err := s.Query(context.Background(), []float32{1, 0}, 3, domain.Predicate{})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, []string{"near#0", "mid#0", "far#0"}, passageIDs(hits))
	assert.InDelta(t, 0, hits[0].Distance, 1e-6)
	assert.InDelta(t, 1-1/1.4142135623730951, hits[1].Distance, 1e-6)
	assert.InDelta(t, 1, hits[2].Distance, 1e-6)
	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance)
	}
}

func testQueryLimitsToK(t *testing.T, s driven.VectorStore) {
	for i := range 5 {
		put(t, s, Entry("p", "doc", i, 1, float32(i)))
	}

	hits, err := s.Query(context.Background(), []float32{1, 0}, 2, domain.Predicate{})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc#0", "doc#1"}, passageIDs(hits))
}

func testQueryRejectsNonPositiveK(t *testing.T, s driven.VectorStore) {
	put(t, s, Entry("p", "doc", 0, 1, 0))

	_, err := s.Query(context.Background(), []float32{1, 0}, 0, domain.Predicate{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func testQueryEmptyStore(t *testing.T, s driven.VectorStore) {
	hits, err := s.Query(context.Background(), []float32{1, 0}, 3, domain.Predicate{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func testTiesKeepInsertionOrder(t *testing.T, s driven.VectorStore) {
	put(t, s,
		Entry("p", "c", 0, 1, 0),
		Entry("p", "a", 0, 1, 0),
		Entry("p", "b", 0, 1, 0),
	)

	hits, err := s.Query(context.Background(), []float32{1, 0}, 3, domain.Predicate{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c#0", "a#0", "b#0"}, passageIDs(hits))
}

func testUpsertIsIdempotent(t *testing.T, s driven.VectorStore) {
	ctx := context.Background()
	e := Entry("p", "doc", 0, 1, 0)
	put(t, s, e, e, e)

	n, err := s.Count(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e.Text = "updated"
	put(t, s, e)

	hits, err := s.Query(ctx, []float32{1, 0}, 5, domain.Predicate{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "updated", hits[0].Entry.Text)
}

func testUpsertKeepsPosition(t *testing.T, s driven.VectorStore) {
	first := Entry("p", "first", 0, 1, 0)
	second := Entry("p", "second", 0, 1, 0)
	put(t, s, first, second)

	first.Text = "rewritten"
	put(t, s, first)

	hits, err := s.Query(context.Background(), []float32{1, 0}, 2, domain.Predicate{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first#0", "second#0"}, passageIDs(hits))
	assert.Equal(t, "rewritten", hits[0].Entry.Text)
}

func testRoundTripsEntry(t *testing.T, s driven.VectorStore) {
	e := Entry("p", "doc", 3, 0.25, -0.5, 1)
	e.Origin = "filesystem"
	e.Fingerprint = domain.Fingerprint(0xfedcba9876543210)
	e.Metadata[domain.KeyTitle] = "A title"
	e.Metadata[domain.KeyTags] = []string{"alpha", "beta"}
	e.Metadata[domain.KeyDate] = "2023-05-17"
	put(t, s, e)

	hits, err := s.Query(context.Background(), []float32{0.25, -0.5, 1}, 1, domain.Predicate{})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	got := hits[0].Entry
	assert.Equal(t, e.PassageID, got.PassageID)
	assert.Equal(t, e.DocumentID, got.DocumentID)
	assert.Equal(t, e.Origin, got.Origin)
	assert.Equal(t, e.Ordinal, got.Ordinal)
	assert.Equal(t, e.Text, got.Text)
	assert.Equal(t, e.Fingerprint, got.Fingerprint)
	assert.InDeltaSlice(t, e.Vector, got.Vector, 1e-6)
	assert.Equal(t, "A title", got.Metadata.String(domain.KeyTitle))
	assert.Equal(t, []string{"alpha", "beta"}, got.Metadata.Strings(domain.KeyTags))
	assert.Equal(t, "2023-05-17", got.Metadata.String(domain.KeyDate))
	assert.Equal(t, "p", got.Metadata.Project())
	assert.True(t, e.CreatedAt.Equal(got.CreatedAt), "created at %v, want %v", got.CreatedAt, e.CreatedAt)
}

func testPredicateScopesProject(t *testing.T, s driven.VectorStore) {
	put(t, s,
		Entry("alpha", "a", 0, 1, 0),
		Entry("beta", "b", 0, 1, 0),
	)

	hits, err := s.Query(context.Background(), []float32{1, 0}, 5, domain.Predicate{}.WithProject("beta"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b#0"}, passageIDs(hits))

	hits, err = s.Query(context.Background(), []float32{1, 0}, 5, domain.Predicate{}.WithProject("gamma"))
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func testPredicateEqualsAndTags(t *testing.T, s driven.VectorStore) {
	a := Entry("p", "a", 0, 1, 0)
	a.Metadata[domain.KeyTags] = []string{"zeolite", "catalysis"}
	a.Metadata[domain.KeyLanguage] = "en"
	b := Entry("p", "b", 0, 1, 0)
	b.Metadata[domain.KeyTags] = []string{"zeolite"}
	b.Metadata[domain.KeyLanguage] = "de"
	put(t, s, a, b)

	ctx := context.Background()
	hits, err := s.Query(ctx, []float32{1, 0}, 5, domain.Predicate{Tags: []string{"zeolite", "catalysis"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a#0"}, passageIDs(hits))

	hits, err = s.Query(ctx, []float32{1, 0}, 5, domain.Predicate{Tags: []string{"zeolite"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a#0", "b#0"}, passageIDs(hits))

	hits, err = s.Query(ctx, []float32{1, 0}, 5, domain.Predicate{
		Equals: map[string]string{domain.KeyLanguage: "de"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b#0"}, passageIDs(hits))
}

func testPredicateDateRange(t *testing.T, s driven.VectorStore) {
	dates := []string{"2019-12-31", "2020-01-01", "2021-06-15", "2022-01-01"}
	for i, d := range dates {
		e := Entry("p", fmt.Sprintf("d%d", i), 0, 1, 0)
		e.Metadata[domain.KeyDate] = d
		put(t, s, e)
	}
	put(t, s, Entry("p", "undated", 0, 1, 0))

	hits, err := s.Query(context.Background(), []float32{1, 0}, 10, domain.Predicate{
		DateFrom: "2020-01-01",
		DateTo:   "2021-12-31",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1#0", "d2#0"}, passageIDs(hits))

	hits, err = s.Query(context.Background(), []float32{1, 0}, 10, domain.Predicate{DateFrom: "2021-06-15"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d2#0", "d3#0"}, passageIDs(hits))
}

func testDeleteByDocument(t *testing.T, s driven.VectorStore) {
	ctx := context.Background()
	put(t, s,
		Entry("p", "keep", 0, 1, 0),
		Entry("p", "drop", 0, 1, 0),
		Entry("p", "drop", 1, 0, 1),
	)

	removed, err := s.DeleteByDocument(ctx, "p", "drop")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	hits, err := s.Query(ctx, []float32{1, 0}, 10, domain.Predicate{})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep#0"}, passageIDs(hits))

	removed, err = s.DeleteByDocument(ctx, "p", "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func testDeleteByDocumentInProject(t *testing.T, s driven.VectorStore) {
	ctx := context.Background()
	other := Entry("beta", "doc", 0, 1, 0)
	other.PassageID = "beta/doc#0"
	put(t, s, Entry("alpha", "doc", 0, 1, 0), other)

	removed, err := s.DeleteByDocument(ctx, "alpha", "doc")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, err := s.Count(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	put(t, s, Entry("alpha", "doc", 0, 1, 0))
	removed, err = s.DeleteByDocument(ctx, "", "doc")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	n, err = s.Count(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testDeleteByProject(t *testing.T, s driven.VectorStore) {
	ctx := context.Background()
	put(t, s,
		Entry("alpha", "a", 0, 1, 0),
		Entry("alpha", "a", 1, 1, 0),
		Entry("beta", "b", 0, 1, 0),
	)

	removed, err := s.DeleteByProject(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	n, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testFingerprints(t *testing.T, s driven.VectorStore) {
	put(t, s,
		Entry("p", "a", 0, 1, 0),
		Entry("p", "b", 0, 1, 0),
		Entry("p", "a", 1, 1, 0),
		Entry("other", "c", 0, 1, 0),
	)

	fps, err := s.Fingerprints(context.Background(), "p", nil)
	require.NoError(t, err)
	require.Len(t, fps, 3)
	assert.Equal(t, "a#0", fps[0].PassageID)
	assert.Equal(t, "b#0", fps[1].PassageID)
	assert.Equal(t, "a#1", fps[2].PassageID)
	assert.Equal(t, "a", fps[2].DocumentID)
	assert.Equal(t, domain.Fingerprint(2<<8), fps[2].Fingerprint)

	fps, err = s.Fingerprints(context.Background(), "p", []string{"a"})
	require.NoError(t, err)
	require.Len(t, fps, 1)
	assert.Equal(t, "b#0", fps[0].PassageID)
}

func testCount(t *testing.T, s driven.VectorStore) {
	ctx := context.Background()
	put(t, s,
		Entry("alpha", "a", 0, 1, 0),
		Entry("alpha", "a", 1, 1, 0),
		Entry("beta", "b", 0, 1, 0),
	)

	n, err := s.Count(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Count(ctx, "gamma")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testConcurrentAccess(t *testing.T, s driven.VectorStore) {
	ctx := context.Background()
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 10 {
				assert.NoError(t, s.Put(ctx, Entry("p", fmt.Sprintf("w%d", w), i, 1, float32(i))))
				_, err := s.Query(ctx, []float32{1, 0}, 3, domain.Predicate{})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	n, err := s.Count(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 40, n)
}
