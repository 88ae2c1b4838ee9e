package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/core/ports/driving"
	"github.com/custodia-labs/jarvis/internal/logger"
)

// Ensure RetrievalOrchestrator implements the interface.
var _ driving.RetrievalService = (*RetrievalOrchestrator)(nil)

// maxWidenRounds bounds how many times a capped query is doubled.
const maxWidenRounds = 6

// RetrievalOrchestrator answers queries: it embeds the query, searches the
// project namespace and limits how many results one document contributes.
type RetrievalOrchestrator struct {
	embedder     *Embedder
	store        driven.VectorStore
	settings     domain.RetrievalSettings
	storeTimeout time.Duration
	retry        domain.RetrySettings
}

// NewRetrievalOrchestrator creates a new retrieval orchestrator.
func NewRetrievalOrchestrator(embedder *Embedder, store driven.VectorStore, settings domain.Settings) *RetrievalOrchestrator {
	r := settings.Retrieval
	defaults := domain.DefaultSettings().Retrieval
	if r.DefaultK <= 0 {
		r.DefaultK = defaults.DefaultK
	}
	if r.MaxK < r.DefaultK {
		r.MaxK = max(defaults.MaxK, r.DefaultK)
	}
	if r.PerDocumentCap <= 0 {
		r.PerDocumentCap = defaults.PerDocumentCap
	}
	return &RetrievalOrchestrator{
		embedder:     embedder,
		store:        store,
		settings:     r,
		storeTimeout: settings.Store.Timeout.Duration,
		retry:        settings.Retry,
	}
}

// Retrieve returns up to k ranked results for the query within the
// project. It fails with domain.ErrNoResults when nothing matches and with
// domain.ErrQueryError for invalid requests and embedding or store failures.
func (o *RetrievalOrchestrator) Retrieve(ctx context.Context, req domain.RetrievalRequest) ([]domain.RetrievalResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: %w: query is empty", domain.ErrQueryError, domain.ErrInvalidInput)
	}
	project := strings.TrimSpace(req.Project)
	if project == "" {
		return nil, fmt.Errorf("%w: %w: project is required", domain.ErrQueryError, domain.ErrInvalidInput)
	}
	if req.K < 0 {
		return nil, fmt.Errorf("%w: %w: k must not be negative", domain.ErrQueryError, domain.ErrInvalidInput)
	}

	k := req.K
	if k == 0 {
		k = o.settings.DefaultK
	}
	k = min(k, o.settings.MaxK)

	vector, err := o.embedder.EmbedQuery(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrQueryError, ctx.Err())
		}
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrQueryError, err)
	}

	predicate := req.Predicate.WithProject(project)
	limit := k
	var results []domain.RetrievalResult
	for round := 0; ; round++ {
		hits, err := o.query(ctx, vector, limit, predicate)
		if err != nil {
			return nil, err
		}

		results = o.capPerDocument(hits, k)
		exhausted := len(hits) < limit
		if len(results) >= k || exhausted || round == maxWidenRounds {
			break
		}
		logger.Debug("Per-document cap left %d of %d results, widening to %d", len(results), k, limit*2)
		limit *= 2
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("%w: nothing in project %s matches the query", domain.ErrNoResults, project)
	}
	logger.Debug("Retrieved %d results for project %s", len(results), project)
	return results, nil
}

func (o *RetrievalOrchestrator) query(ctx context.Context, vector []float32, limit int, predicate domain.Predicate) ([]domain.Hit, error) {
	var hits []domain.Hit
	err := withStoreRetry(ctx, o.retry, o.storeTimeout, func(ctx context.Context) error {
		var err error
		hits, err = o.store.Query(ctx, vector, limit, predicate)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrQueryError, ctx.Err())
		}
		return nil, fmt.Errorf("%w: store query: %w", domain.ErrQueryError, err)
	}
	return hits, nil
}

// capPerDocument keeps hits in order, skipping those whose document has
// already contributed the cap, until k results are collected.
func (o *RetrievalOrchestrator) capPerDocument(hits []domain.Hit, k int) []domain.RetrievalResult {
	perDoc := make(map[string]int)
	results := make([]domain.RetrievalResult, 0, min(k, len(hits)))
	for _, hit := range hits {
		if len(results) == k {
			break
		}
		docID := hit.Entry.DocumentID
		if perDoc[docID] >= o.settings.PerDocumentCap {
			continue
		}
		perDoc[docID]++
		results = append(results, toResult(hit))
	}
	return results
}

func toResult(hit domain.Hit) domain.RetrievalResult {
	e := hit.Entry
	return domain.RetrievalResult{
		PassageID: e.PassageID,
		Text:      e.Text,
		Distance:  hit.Distance,
		Provenance: domain.Provenance{
			DocumentID: e.DocumentID,
			Origin:     e.Origin,
			Ordinal:    e.Ordinal,
			Title:      e.Metadata.String(domain.KeyTitle),
			Source:     e.Metadata.String(domain.KeySource),
			URL:        e.Metadata.String(domain.KeyURL),
			Date:       e.Metadata.String(domain.KeyDate),
		},
		Metadata: e.Metadata.Clone(),
	}
}
