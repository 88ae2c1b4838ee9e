package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/jarvis/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/dedup"
	"github.com/custodia-labs/jarvis/internal/metadata"
	"github.com/custodia-labs/jarvis/internal/normalisers"
	"github.com/custodia-labs/jarvis/internal/normalisers/plaintext"
	"github.com/custodia-labs/jarvis/internal/postprocessors"
)

const (
	zeoliteText = "Zeolites are microporous aluminosilicate minerals used as commercial adsorbents and catalysts. " +
		"Their pore structure makes them selective for small molecules."
	perovskiteText = "Perovskite solar cells have reached high power conversion efficiencies in laboratory settings. " +
		"Stability under humidity remains the main obstacle."
	grapheneText = "Graphene is a single layer of carbon atoms arranged in a hexagonal lattice. " +
		"It conducts heat and electricity with remarkable efficiency."
	enzymeText = "Enzymes lower the activation energy of biochemical reactions inside living cells. " +
		"Temperature and pH strongly affect how quickly they work."
)

type ingestFixture struct {
	orchestrator *IngestOrchestrator
	store        *memory.VectorStore
	embedding    *mockEmbedding
	settings     domain.Settings
}

func newIngestFixture(t *testing.T, wrap func(driven.VectorStore) driven.VectorStore, mutate func(*domain.Settings)) *ingestFixture {
	t.Helper()
	s := testSettings()
	if mutate != nil {
		mutate(&s)
	}

	registry := normalisers.NewRegistry(s.Normaliser.MinTextLength)
	registry.Register(plaintext.New())

	processors := postprocessors.NewRegistry()
	postprocessors.RegisterDefaults(processors)
	pipeline, err := postprocessors.NewFromSettings(processors, s.Chunk)
	require.NoError(t, err)

	deduplicator, err := dedup.New(s.Dedup.Threshold)
	require.NoError(t, err)

	embedding := newMockEmbedding(16)
	embedder, err := NewEmbedder(embedding, s.Embedding, s.Retry, 0)
	require.NoError(t, err)

	mem := memory.NewVectorStore(s.Store.Metric)
	var store driven.VectorStore = mem
	if wrap != nil {
		store = wrap(mem)
	}

	return &ingestFixture{
		orchestrator: NewIngestOrchestrator(
			registry,
			metadata.NewFromSettings(s.Metadata),
			pipeline,
			deduplicator,
			embedder,
			store,
			s,
		),
		store:     mem,
		embedding: embedding,
		settings:  s,
	}
}

func textDoc(id, text string) domain.Document {
	return domain.Document{
		ID:          id,
		Origin:      "filesystem",
		URI:         "/papers/" + id + ".txt",
		ContentType: "text/plain",
		Content:     []byte(text),
	}
}

func (f *ingestFixture) count(t *testing.T, project string) int {
	t.Helper()
	n, err := f.store.Count(context.Background(), project)
	require.NoError(t, err)
	return n
}

func TestIngest_StoresPassages(t *testing.T) {
	f := newIngestFixture(t, nil, nil)

	summary, err := f.orchestrator.Ingest(context.Background(), domain.IngestRequest{
		Project:   "catalysis",
		Documents: []domain.Document{textDoc("a", zeoliteText), textDoc("b", perovskiteText)},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, "catalysis", summary.Project)
	assert.Equal(t, 2, summary.Stored)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Duplicates)
	for _, o := range summary.Outcomes {
		assert.Equal(t, domain.OutcomeStored, o.Status, o.DocumentID)
		assert.Positive(t, o.Stored)
		assert.Equal(t, o.Passages, o.Stored)
	}
	assert.Equal(t, summary.PassagesStored, f.count(t, "catalysis"))

	hits, err := f.store.Query(context.Background(), wordVector(zeoliteText, 16), 1, domain.Predicate{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	entry := hits[0].Entry
	assert.Equal(t, "a", entry.DocumentID)
	assert.Equal(t, "filesystem", entry.Origin)
	assert.Equal(t, "catalysis", entry.Metadata.Project())
	assert.Equal(t, "filesystem", entry.Metadata.String(domain.KeySource))
	assert.NotZero(t, entry.Fingerprint)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestIngest_RequiresProject(t *testing.T) {
	f := newIngestFixture(t, nil, nil)

	_, err := f.orchestrator.Ingest(context.Background(), domain.IngestRequest{
		Project:   "  ",
		Documents: []domain.Document{textDoc("a", zeoliteText)},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIngest_DocumentsFailIndependently(t *testing.T) {
	f := newIngestFixture(t, nil, func(s *domain.Settings) {
		s.Normaliser.MinTextLength = 20
	})

	binary := textDoc("binary", "")
	binary.ContentType = "application/octet-stream"
	binary.Content = []byte{0x00, 0x01, 0x02, 0xff, 0xfe}

	summary, err := f.orchestrator.Ingest(context.Background(), domain.IngestRequest{
		Project: "p",
		Documents: []domain.Document{
			textDoc("good", zeoliteText),
			binary,
			textDoc("short", "tiny"),
			textDoc("", perovskiteText),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, domain.OutcomeStored, summary.Outcomes[0].Status)
	assert.Equal(t, "UnsupportedFormat", summary.Outcomes[1].Kind)
	assert.Equal(t, "ExtractionFailed", summary.Outcomes[2].Kind)
	assert.ErrorIs(t, summary.Outcomes[3].Err, domain.ErrInvalidInput)
	for _, o := range summary.Outcomes[1:] {
		assert.Equal(t, domain.OutcomeFailed, o.Status)
		assert.NotEmpty(t, o.Message)
	}

	status := f.orchestrator.Status()
	assert.False(t, status.Running)
	assert.Equal(t, summary.RunID, status.RunID)
	assert.Equal(t, 4, status.DocumentsProcessed)
	assert.Equal(t, 3, status.ErrorCount)
}

func TestIngest_SchemaViolation(t *testing.T) {
	f := newIngestFixture(t, nil, func(s *domain.Settings) {
		s.Metadata.RequiredKeys = append(s.Metadata.RequiredKeys, domain.KeyDOI)
	})

	withDOI := textDoc("with", zeoliteText)
	withDOI.Metadata = map[string]any{domain.KeyDOI: "10.1000/182"}

	summary, err := f.orchestrator.Ingest(context.Background(), domain.IngestRequest{
		Project:   "p",
		Documents: []domain.Document{withDOI, textDoc("without", perovskiteText)},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeStored, summary.Outcomes[0].Status)
	assert.Equal(t, domain.OutcomeFailed, summary.Outcomes[1].Status)
	assert.Equal(t, "SchemaViolation", summary.Outcomes[1].Kind)

	var violation *domain.SchemaViolationError
	require.True(t, errors.As(summary.Outcomes[1].Err, &violation))
	assert.Contains(t, violation.Reasons, domain.KeyDOI)

	// Nothing is embedded for a rejected document
	assert.EqualValues(t, 1, f.embedding.calls.Load())
}

func TestIngest_MergesMetadata(t *testing.T) {
	f := newIngestFixture(t, nil, nil)

	doc := textDoc("a", zeoliteText)
	doc.URI = "https://example.org/zeolites"
	doc.Metadata = map[string]any{
		domain.KeyTitle:  "Zeolites",
		domain.KeySource: "arxiv",
		"unknown":        "dropped",
	}

	_, err := f.orchestrator.Ingest(context.Background(), domain.IngestRequest{
		Project:   "p",
		Documents: []domain.Document{doc},
		Metadata: map[string]any{
			domain.KeyTags:    []string{"review"},
			domain.KeySource:  "manual",
			domain.KeyProject: "ignored",
		},
	})
	require.NoError(t, err)

	hits, err := f.store.Query(context.Background(), wordVector(zeoliteText, 16), 1, domain.Predicate{})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	md := hits[0].Entry.Metadata
	assert.Equal(t, "p", md.Project())
	assert.Equal(t, "manual", md.String(domain.KeySource))
	assert.Equal(t, "Zeolites", md.String(domain.KeyTitle))
	assert.Equal(t, "https://example.org/zeolites", md.String(domain.KeyURL))
	assert.Equal(t, []string{"review"}, md.Strings(domain.KeyTags))
	assert.NotContains(t, md, "unknown")
}

func TestIngest_DuplicatesWithinBatch(t *testing.T) {
	f := newIngestFixture(t, nil, nil)

	summary, err := f.orchestrator.Ingest(context.Background(), domain.IngestRequest{
		Project: "p",
		Documents: []domain.Document{
			textDoc("original", zeoliteText),
			textDoc("copy", zeoliteText),
			textDoc("original", perovskiteText),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeStored, summary.Outcomes[0].Status)
	assert.Equal(t, domain.OutcomeDuplicate, summary.Outcomes[1].Status)
	assert.Equal(t, summary.Outcomes[1].Passages, summary.Outcomes[1].Duplicates)
	assert.Equal(t, domain.OutcomeDuplicate, summary.Outcomes[2].Status)
	require.Len(t, summary.Outcomes[2].Warnings, 1)
	assert.Contains(t, summary.Outcomes[2].Warnings[0], "position 0")

	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 2, summary.Duplicates)
	assert.Equal(t, summary.Outcomes[0].Stored, f.count(t, "p"))
}

func TestIngest_DuplicatesAcrossRuns(t *testing.T) {
	f := newIngestFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.orchestrator.Ingest(ctx, domain.IngestRequest{
		Project:   "p",
		Documents: []domain.Document{textDoc("first", zeoliteText)},
	})
	require.NoError(t, err)
	before := f.count(t, "p")

	summary, err := f.orchestrator.Ingest(ctx, domain.IngestRequest{
		Project:   "p",
		Documents: []domain.Document{textDoc("second", zeoliteText)},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, summary.Outcomes[0].Status)
	assert.Equal(t, before, f.count(t, "p"))

	// Another project is a separate namespace
	summary, err = f.orchestrator.Ingest(ctx, domain.IngestRequest{
		Project:   "other",
		Documents: []domain.Document{textDoc("second", zeoliteText)},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStored, summary.Outcomes[0].Status)
}

func TestIngest_ProjectsAreIsolated(t *testing.T) {
	f := newIngestFixture(t, nil, nil)
	ctx := context.Background()

	for _, project := range []string{"chem", "bio"} {
		summary, err := f.orchestrator.Ingest(ctx, domain.IngestRequest{
			Project:   project,
			Documents: []domain.Document{textDoc("paper", zeoliteText)},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeStored, summary.Outcomes[0].Status, project)
	}
	chem := f.count(t, "chem")
	assert.Positive(t, chem)
	assert.Equal(t, chem, f.count(t, "bio"))

	// Deleting in one project leaves the other copy
	removed, err := f.orchestrator.DeleteDocument(ctx, "chem", "paper")
	require.NoError(t, err)
	assert.Equal(t, chem, removed)
	assert.Zero(t, f.count(t, "chem"))
	assert.Equal(t, chem, f.count(t, "bio"))

	removed, err = f.orchestrator.DeleteDocument(ctx, "", "paper")
	require.NoError(t, err)
	assert.Equal(t, chem, removed)
	assert.Zero(t, f.count(t, ""))
}

func TestIngest_CollapsesSameDOI(t *testing.T) {
	f := newIngestFixture(t, nil, nil)

	preprint := textDoc("preprint", zeoliteText)
	preprint.Metadata = map[string]any{domain.KeyDOI: "10.1000/182"}
	published := textDoc("published", perovskiteText)
	published.Metadata = map[string]any{domain.KeyDOI: "https://doi.org/10.1000/182"}
	other := textDoc("other", grapheneText)
	other.Metadata = map[string]any{domain.KeyDOI: "10.1000/183"}

	summary, err := f.orchestrator.Ingest(context.Background(), domain.IngestRequest{
		Project:   "p",
		Documents: []domain.Document{preprint, published, other},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeStored, summary.Outcomes[0].Status)
	assert.Equal(t, domain.OutcomeDuplicate, summary.Outcomes[1].Status)
	require.Len(t, summary.Outcomes[1].Warnings, 1)
	assert.Contains(t, summary.Outcomes[1].Warnings[0], "preprint")
	assert.Zero(t, summary.Outcomes[1].Stored)
	assert.Equal(t, domain.OutcomeStored, summary.Outcomes[2].Status)
	assert.Equal(t, summary.Outcomes[0].Stored+summary.Outcomes[2].Stored, f.count(t, "p"))
}

func TestDocumentKey(t *testing.T) {
	doc := &domain.Document{ID: "d"}
	tests := []struct {
		name   string
		record domain.Metadata
		want   string
	}{
		{"doi", domain.Metadata{domain.KeyDOI: " DOI:10.1000/ABC "}, "doi:10.1000/abc"},
		{"doi url", domain.Metadata{domain.KeyDOI: "https://doi.org/10.1000/abc"}, "doi:10.1000/abc"},
		{"doi before url", domain.Metadata{domain.KeyDOI: "10.1/x", domain.KeyURL: "https://example.org"}, "doi:10.1/x"},
		{"url", domain.Metadata{domain.KeyURL: "https://Example.org/paper/"}, "url:example.org/paper"},
		{"url scheme ignored", domain.Metadata{domain.KeyURL: "http://example.org/paper"}, "url:example.org/paper"},
		{"id", domain.Metadata{}, "id:d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, documentKey(doc, tt.record))
		})
	}
}

func TestIngest_FailedRepresentativeIsReplaced(t *testing.T) {
	t.Run("next duplicate is stored", func(t *testing.T) {
		f := newIngestFixture(t, func(s driven.VectorStore) driven.VectorStore {
			return &flakyStore{VectorStore: s, rejectDocs: map[string]bool{"a": true}}
		}, nil)

		summary, err := f.orchestrator.Ingest(context.Background(), domain.IngestRequest{
			Project:   "p",
			Documents: []domain.Document{textDoc("a", zeoliteText), textDoc("b", zeoliteText)},
		})
		require.NoError(t, err)

		assert.Equal(t, domain.OutcomeFailed, summary.Outcomes[0].Status)
		b := summary.Outcomes[1]
		assert.Equal(t, domain.OutcomeStored, b.Status)
		assert.Equal(t, b.Passages, b.Stored)
		assert.Zero(t, b.Duplicates)
		assert.NotEmpty(t, b.Warnings)
		assert.Equal(t, b.Stored, f.count(t, "p"))
		assert.Equal(t, 2, f.orchestrator.Status().DocumentsProcessed)
	})

	t.Run("replacement chains through failures", func(t *testing.T) {
		f := newIngestFixture(t, func(s driven.VectorStore) driven.VectorStore {
			return &flakyStore{VectorStore: s, rejectDocs: map[string]bool{"a": true, "b": true}}
		}, nil)

		summary, err := f.orchestrator.Ingest(context.Background(), domain.IngestRequest{
			Project: "p",
			Documents: []domain.Document{
				textDoc("a", zeoliteText),
				textDoc("b", zeoliteText),
				textDoc("c", zeoliteText),
			},
		})
		require.NoError(t, err)

		assert.Equal(t, 2, summary.Failed)
		assert.Equal(t, 1, summary.Stored)
		assert.Equal(t, domain.OutcomeStored, summary.Outcomes[2].Status)
		assert.Equal(t, summary.Outcomes[2].Stored, f.count(t, "p"))
		assert.Equal(t, 3, f.orchestrator.Status().DocumentsProcessed)
	})
}

func TestIngest_ReingestSupersedes(t *testing.T) {
	f := newIngestFixture(t, nil, nil)
	ctx := context.Background()

	long := strings.Join([]string{zeoliteText, grapheneText, enzymeText}, "\n\n")
	_, err := f.orchestrator.Ingest(ctx, domain.IngestRequest{
		Project:   "p",
		Documents: []domain.Document{textDoc("doc", long)},
	})
	require.NoError(t, err)
	require.Greater(t, f.count(t, "p"), 1)

	summary, err := f.orchestrator.Ingest(ctx, domain.IngestRequest{
		Project:   "p",
		Documents: []domain.Document{textDoc("doc", perovskiteText)},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStored, summary.Outcomes[0].Status)
	assert.Equal(t, summary.Outcomes[0].Stored, f.count(t, "p"))

	hits, err := f.store.Query(ctx, wordVector(zeoliteText, 16), 10, domain.Predicate{})
	require.NoError(t, err)
	for _, h := range hits {
		assert.Contains(t, h.Entry.Text, "Perovskite")
	}
}

func TestIngest_ReingestUnchangedIsIdempotent(t *testing.T) {
	f := newIngestFixture(t, nil, nil)
	ctx := context.Background()
	req := domain.IngestRequest{
		Project:   "p",
		Documents: []domain.Document{textDoc("doc", zeoliteText), textDoc("other", perovskiteText)},
	}

	_, err := f.orchestrator.Ingest(ctx, req)
	require.NoError(t, err)
	before := f.count(t, "p")

	summary, err := f.orchestrator.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, before, f.count(t, "p"))
}

func TestIngest_RetriesStoreFailures(t *testing.T) {
	var flaky *flakyStore
	f := newIngestFixture(t, func(s driven.VectorStore) driven.VectorStore {
		flaky = &flakyStore{VectorStore: s, putFailures: 2, fpFailures: 1}
		return flaky
	}, nil)

	summary, err := f.orchestrator.Ingest(context.Background(), domain.IngestRequest{
		Project:   "p",
		Documents: []domain.Document{textDoc("a", zeoliteText)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, summary.PassagesStored, f.count(t, "p"))
	assert.Equal(t, summary.PassagesStored+2, flaky.puts)
}

func TestIngest_StoreUnavailable(t *testing.T) {
	f := newIngestFixture(t, func(s driven.VectorStore) driven.VectorStore {
		return &flakyStore{VectorStore: s, alwaysFailFP: true}
	}, nil)

	summary, err := f.orchestrator.Ingest(context.Background(), domain.IngestRequest{
		Project:   "p",
		Documents: []domain.Document{textDoc("a", zeoliteText), textDoc("b", perovskiteText)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	for _, o := range summary.Outcomes {
		assert.Equal(t, "StoreUnavailable", o.Kind)
	}
	assert.Zero(t, f.count(t, ""))
}

func TestIngest_EmbeddingFailure(t *testing.T) {
	f := newIngestFixture(t, nil, nil)
	f.embedding.failNext(100, errors.New("connection refused"))

	summary, err := f.orchestrator.Ingest(context.Background(), domain.IngestRequest{
		Project:   "p",
		Documents: []domain.Document{textDoc("a", zeoliteText)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "EmbeddingServiceError", summary.Outcomes[0].Kind)
	assert.Zero(t, f.count(t, ""))
}

func TestIngest_Cancelled(t *testing.T) {
	f := newIngestFixture(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.orchestrator.Ingest(ctx, domain.IngestRequest{
		Project:   "p",
		Documents: []domain.Document{textDoc("a", zeoliteText), textDoc("b", perovskiteText)},
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Failed)
	for _, o := range summary.Outcomes {
		assert.Equal(t, "Cancelled", o.Kind)
	}
	assert.Zero(t, f.count(t, ""))
}

func TestIngest_EmptyBatch(t *testing.T) {
	f := newIngestFixture(t, nil, nil)

	summary, err := f.orchestrator.Ingest(context.Background(), domain.IngestRequest{Project: "p"})
	require.NoError(t, err)
	assert.Empty(t, summary.Outcomes)
	assert.Zero(t, f.embedding.calls.Load())
}

func TestIngest_Delete(t *testing.T) {
	f := newIngestFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.orchestrator.Ingest(ctx, domain.IngestRequest{
		Project:   "p",
		Documents: []domain.Document{textDoc("a", zeoliteText), textDoc("b", perovskiteText)},
	})
	require.NoError(t, err)
	_, err = f.orchestrator.Ingest(ctx, domain.IngestRequest{
		Project:   "q",
		Documents: []domain.Document{textDoc("c", zeoliteText)},
	})
	require.NoError(t, err)

	removed, err := f.orchestrator.DeleteDocument(ctx, "p", "a")
	require.NoError(t, err)
	assert.Positive(t, removed)

	removed, err = f.orchestrator.DeleteProject(ctx, "p")
	require.NoError(t, err)
	assert.Positive(t, removed)
	assert.Zero(t, f.count(t, "p"))
	assert.Positive(t, f.count(t, "q"))

	_, err = f.orchestrator.DeleteDocument(ctx, "p", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.orchestrator.DeleteProject(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMergeMetadata(t *testing.T) {
	doc := &domain.Document{Origin: "web", URI: "ftp://example.org/a"}
	canonical := &domain.CanonicalDocument{Title: "Extracted", Language: "en", PublishedAt: "2024-01-01"}

	raw := mergeMetadata("p", doc, canonical, map[string]any{domain.KeyTitle: "Override"})
	assert.Equal(t, "p", raw[domain.KeyProject])
	assert.Equal(t, "Override", raw[domain.KeyTitle])
	assert.Equal(t, "web", raw[domain.KeySource])
	assert.Equal(t, "en", raw[domain.KeyLanguage])
	assert.Equal(t, "2024-01-01", raw[domain.KeyDate])
	assert.NotContains(t, raw, domain.KeyURL)
}
