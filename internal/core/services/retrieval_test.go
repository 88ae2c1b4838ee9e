package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/jarvis/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/jarvis/internal/core/domain"
)

type retrievalFixture struct {
	orchestrator *RetrievalOrchestrator
	store        *flakyStore
	embedding    *mockEmbedding
}

func newRetrievalFixture(t *testing.T, mutate func(*domain.Settings)) *retrievalFixture {
	t.Helper()
	s := testSettings()
	if mutate != nil {
		mutate(&s)
	}

	embedding := newMockEmbedding(2)
	embedding.vectors["query"] = []float32{1, 0}
	embedder, err := NewEmbedder(embedding, s.Embedding, s.Retry, s.Retrieval.QueryCacheSize)
	require.NoError(t, err)

	store := &flakyStore{VectorStore: memory.NewVectorStore(domain.MetricCosine)}
	return &retrievalFixture{
		orchestrator: NewRetrievalOrchestrator(embedder, store, s),
		store:        store,
		embedding:    embedding,
	}
}

// add stores a passage whose vector is at angle y from the query direction.
func (f *retrievalFixture) add(t *testing.T, project, documentID string, ordinal int, y float32, md domain.Metadata) {
	t.Helper()
	metadata := domain.Metadata{domain.KeyProject: project, domain.KeySource: "unit"}
	for k, v := range md {
		metadata[k] = v
	}
	require.NoError(t, f.store.VectorStore.Put(context.Background(), domain.IndexEntry{
		PassageID:  fmt.Sprintf("%s#%d", documentID, ordinal),
		DocumentID: documentID,
		Origin:     "filesystem",
		Ordinal:    ordinal,
		Text:       fmt.Sprintf("text %d of %s", ordinal, documentID),
		Vector:     []float32{1, y},
		Metadata:   metadata,
	}))
}

func resultIDs(results []domain.RetrievalResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.PassageID
	}
	return ids
}

func TestRetrieve_RanksWithinProject(t *testing.T) {
	f := newRetrievalFixture(t, nil)
	f.add(t, "p", "a", 0, 0.5, domain.Metadata{domain.KeyTitle: "Paper A", domain.KeyURL: "https://example.org/a"})
	f.add(t, "p", "b", 0, 0.1, nil)
	f.add(t, "other", "c", 0, 0, nil)

	results, err := f.orchestrator.Retrieve(context.Background(), domain.RetrievalRequest{
		Query:   "query",
		Project: "p",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b#0", "a#0"}, resultIDs(results))
	assert.Less(t, results[0].Distance, results[1].Distance)

	prov := results[1].Provenance
	assert.Equal(t, "a", prov.DocumentID)
	assert.Equal(t, "filesystem", prov.Origin)
	assert.Equal(t, "Paper A", prov.Title)
	assert.Equal(t, "unit", prov.Source)
	assert.Equal(t, "https://example.org/a", prov.URL)
	assert.Equal(t, "p", results[1].Metadata.Project())
}

func TestRetrieve_DefaultAndMaxK(t *testing.T) {
	f := newRetrievalFixture(t, func(s *domain.Settings) {
		s.Retrieval.DefaultK = 2
		s.Retrieval.MaxK = 3
		s.Retrieval.PerDocumentCap = 10
	})
	for i := range 5 {
		f.add(t, "p", "doc", i, float32(i)/10, nil)
	}

	results, err := f.orchestrator.Retrieve(context.Background(), domain.RetrievalRequest{Query: "query", Project: "p"})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = f.orchestrator.Retrieve(context.Background(), domain.RetrievalRequest{Query: "query", Project: "p", K: 50})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestRetrieve_InvalidRequests(t *testing.T) {
	f := newRetrievalFixture(t, nil)

	tests := []struct {
		name string
		req  domain.RetrievalRequest
	}{
		{"empty query", domain.RetrievalRequest{Query: "  ", Project: "p"}},
		{"missing project", domain.RetrievalRequest{Query: "query"}},
		{"negative k", domain.RetrievalRequest{Query: "query", Project: "p", K: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orchestrator.Retrieve(context.Background(), tt.req)
			assert.ErrorIs(t, err, domain.ErrQueryError)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
	assert.Zero(t, f.embedding.calls.Load())
}

func TestRetrieve_NoResults(t *testing.T) {
	f := newRetrievalFixture(t, nil)
	f.add(t, "p", "a", 0, 0, domain.Metadata{domain.KeyTags: []string{"zeolite"}})

	_, err := f.orchestrator.Retrieve(context.Background(), domain.RetrievalRequest{Query: "query", Project: "empty"})
	assert.ErrorIs(t, err, domain.ErrNoResults)
	assert.NotErrorIs(t, err, domain.ErrQueryError)

	_, err = f.orchestrator.Retrieve(context.Background(), domain.RetrievalRequest{
		Query:     "query",
		Project:   "p",
		Predicate: domain.Predicate{Tags: []string{"perovskite"}},
	})
	assert.ErrorIs(t, err, domain.ErrNoResults)
}

func TestRetrieve_Predicate(t *testing.T) {
	f := newRetrievalFixture(t, nil)
	f.add(t, "p", "old", 0, 0, domain.Metadata{domain.KeyDate: "2019-03-01"})
	f.add(t, "p", "new", 0, 0.2, domain.Metadata{domain.KeyDate: "2023-03-01", domain.KeyTags: []string{"Review"}})

	results, err := f.orchestrator.Retrieve(context.Background(), domain.RetrievalRequest{
		Query:     "query",
		Project:   "p",
		Predicate: domain.Predicate{DateFrom: "2020-01-01", Tags: []string{"review"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"new#0"}, resultIDs(results))
	assert.Equal(t, "2023-03-01", results[0].Provenance.Date)
}

func TestRetrieve_PerDocumentCapWidens(t *testing.T) {
	f := newRetrievalFixture(t, func(s *domain.Settings) {
		s.Retrieval.PerDocumentCap = 1
	})
	// One document dominates the nearest neighbours
	for i := range 8 {
		f.add(t, "p", "big", i, float32(i)/100, nil)
	}
	f.add(t, "p", "small", 0, 0.5, nil)
	f.add(t, "p", "tiny", 0, 0.6, nil)

	results, err := f.orchestrator.Retrieve(context.Background(), domain.RetrievalRequest{Query: "query", Project: "p", K: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"big#0", "small#0", "tiny#0"}, resultIDs(results))
	assert.Equal(t, []int{3, 6, 12}, f.store.queryLimits)
}

func TestRetrieve_CapStopsWhenExhausted(t *testing.T) {
	f := newRetrievalFixture(t, func(s *domain.Settings) {
		s.Retrieval.PerDocumentCap = 2
	})
	for i := range 4 {
		f.add(t, "p", "only", i, float32(i)/10, nil)
	}

	results, err := f.orchestrator.Retrieve(context.Background(), domain.RetrievalRequest{Query: "query", Project: "p", K: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"only#0", "only#1"}, resultIDs(results))
	assert.Equal(t, []int{3, 6}, f.store.queryLimits)
}

func TestRetrieve_StoreFailure(t *testing.T) {
	f := newRetrievalFixture(t, nil)
	f.store.queryErr = domain.ErrStoreUnavailable

	_, err := f.orchestrator.Retrieve(context.Background(), domain.RetrievalRequest{Query: "query", Project: "p"})
	assert.ErrorIs(t, err, domain.ErrQueryError)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	// retried up to the attempt limit
	assert.Equal(t, 3, f.store.queryCalls)
}

func TestRetrieve_StoreErrorNotRetried(t *testing.T) {
	f := newRetrievalFixture(t, nil)
	f.store.queryErr = errors.New("bad filter")

	_, err := f.orchestrator.Retrieve(context.Background(), domain.RetrievalRequest{Query: "query", Project: "p"})
	assert.ErrorIs(t, err, domain.ErrQueryError)
	assert.Equal(t, 1, f.store.queryCalls)
}

func TestRetrieve_EmbeddingFailure(t *testing.T) {
	f := newRetrievalFixture(t, nil)
	f.embedding.failNext(10, errors.New("connection refused"))

	_, err := f.orchestrator.Retrieve(context.Background(), domain.RetrievalRequest{Query: "query", Project: "p"})
	assert.ErrorIs(t, err, domain.ErrQueryError)
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)
	assert.Equal(t, "EmbeddingServiceError", domain.ErrorKind(err))
}

func TestRetrieve_Cancelled(t *testing.T) {
	f := newRetrievalFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orchestrator.Retrieve(ctx, domain.RetrievalRequest{Query: "query", Project: "p"})
	assert.ErrorIs(t, err, domain.ErrQueryError)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrieve_CancelledDuringStoreQuery(t *testing.T) {
	f := newRetrievalFixture(t, nil)
	f.add(t, "p", "a", 0, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.store.cancelOnQuery = cancel

	_, err := f.orchestrator.Retrieve(ctx, domain.RetrievalRequest{Query: "query", Project: "p"})
	assert.ErrorIs(t, err, domain.ErrQueryError)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrNoResults)
}
