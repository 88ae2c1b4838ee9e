package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/core/ports/driving"
	"github.com/custodia-labs/jarvis/internal/dedup"
	"github.com/custodia-labs/jarvis/internal/logger"
	"github.com/custodia-labs/jarvis/internal/metadata"
)

// Ensure IngestOrchestrator implements the interface.
var _ driving.IngestService = (*IngestOrchestrator)(nil)

// IngestOrchestrator runs the write path: normalise, validate metadata,
// chunk and fingerprint, deduplicate, embed and store.
type IngestOrchestrator struct {
	registry     driven.NormaliserRegistry
	filter       *metadata.Filter
	pipeline     driven.PostProcessorPipeline
	deduplicator *dedup.Deduplicator
	embedder     *Embedder
	store        driven.VectorStore

	workers      int
	storeTimeout time.Duration
	retry        domain.RetrySettings
	now          func() time.Time

	// Status tracking
	mu     sync.RWMutex
	status driving.IngestStatus
}

// NewIngestOrchestrator creates a new ingest orchestrator.
func NewIngestOrchestrator(
	registry driven.NormaliserRegistry,
	filter *metadata.Filter,
	pipeline driven.PostProcessorPipeline,
	deduplicator *dedup.Deduplicator,
	embedder *Embedder,
	store driven.VectorStore,
	settings domain.Settings,
) *IngestOrchestrator {
	workers := settings.Ingest.Workers
	if workers <= 0 {
		workers = 1
	}
	return &IngestOrchestrator{
		registry:     registry,
		filter:       filter,
		pipeline:     pipeline,
		deduplicator: deduplicator,
		embedder:     embedder,
		store:        store,
		workers:      workers,
		storeTimeout: settings.Store.Timeout.Duration,
		retry:        settings.Retry,
		now:          time.Now,
	}
}

// entryNamespace seeds passage ids scoped to a project.
var entryNamespace = uuid.MustParse("0b7e4c52-93a1-4d6f-8e20-5c1f7a9d3b64")

// scopedPassageID keys a passage by project so the same document can be
// stored in several projects.
func scopedPassageID(project, passageID string) string {
	return uuid.NewSHA1(entryNamespace, []byte(project+"/"+passageID)).String()
}

// work is the state of one document through a run.
type work struct {
	doc      *domain.Document
	outcome  *domain.Outcome
	record   domain.Metadata
	passages []domain.Passage
	retained []domain.Passage
	done     bool
}

// clusters links batch representatives to the passages dropped in their
// favour, so a representative that fails to store can be replaced.
type clusters struct {
	owner      map[string]*work
	dependents map[string][]domain.Passage
}

// Ingest processes a batch of documents for one project.
//
// Documents fail independently and every failure is recorded in the
// summary. A summary is returned even when ctx is cancelled, together with
// the context error; passages committed before cancellation stay stored.
func (o *IngestOrchestrator) Ingest(ctx context.Context, req domain.IngestRequest) (*domain.IngestSummary, error) {
	project := strings.TrimSpace(req.Project)
	if project == "" {
		return nil, fmt.Errorf("%w: project is required", domain.ErrInvalidInput)
	}

	summary := &domain.IngestSummary{
		RunID:    uuid.NewString(),
		Project:  project,
		Started:  o.now(),
		Outcomes: make([]domain.Outcome, len(req.Documents)),
	}
	o.startRun(summary.RunID)
	defer o.finishRun()

	logger.Info("Starting ingest run %s: %d documents for project %s", summary.RunID, len(req.Documents), project)

	// 1. Collapse repeated document ids to their first occurrence
	items := o.collect(req.Documents, summary.Outcomes)

	// 2. Normalise, validate, chunk and fingerprint
	o.forEach(ctx, items, func(ctx context.Context, w *work) {
		o.prepare(ctx, project, req.Metadata, w)
	})

	// 3. Collapse documents sharing a DOI or URL
	o.collapse(items)

	// 4. Deduplicate the whole batch against the project
	var c *clusters
	if ctx.Err() == nil {
		c = o.deduplicate(ctx, project, items)
	}

	// 5. Embed, supersede and store
	commit := func(ctx context.Context, w *work) {
		o.commit(ctx, project, w)
	}
	o.forEach(ctx, items, commit)

	// 6. Stand in for representatives that failed to store
	for c != nil && ctx.Err() == nil {
		redo := o.promote(c, items)
		if len(redo) == 0 {
			break
		}
		o.forEach(ctx, redo, commit)
	}

	for _, w := range items {
		if w.done {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = errors.New("document not processed")
		}
		o.fail(w, err)
	}

	summary.Elapsed = time.Since(summary.Started)
	summary.Tally()
	logger.Info("Ingest complete: %d stored, %d duplicate, %d failed (%d passages stored, %d duplicate passages)",
		summary.Stored, summary.Duplicates, summary.Failed, summary.PassagesStored, summary.PassagesDuplicate)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// collect builds the work list. Documents without an id fail and repeated
// ids are reported as duplicates.
func (o *IngestOrchestrator) collect(docs []domain.Document, outcomes []domain.Outcome) []*work {
	items := make([]*work, len(docs))
	first := make(map[string]int, len(docs))
	for i := range docs {
		doc := &docs[i]
		outcomes[i].DocumentID = doc.ID
		w := &work{doc: doc, outcome: &outcomes[i]}
		items[i] = w

		if strings.TrimSpace(doc.ID) == "" {
			o.fail(w, fmt.Errorf("%w: document id is required", domain.ErrInvalidInput))
			continue
		}
		if j, seen := first[doc.ID]; seen {
			w.outcome.Status = domain.OutcomeDuplicate
			w.outcome.Warnings = append(w.outcome.Warnings, fmt.Sprintf("repeats document at position %d", j))
			o.finish(w, false)
			continue
		}
		first[doc.ID] = i
	}
	return items
}

// forEach runs fn for every unfinished item with at most o.workers in
// parallel. Scheduling stops when ctx is done.
func (o *IngestOrchestrator) forEach(ctx context.Context, items []*work, fn func(context.Context, *work)) {
	var g errgroup.Group
	g.SetLimit(o.workers)
	for _, w := range items {
		if w.done {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(ctx, w)
			return nil
		})
	}
	_ = g.Wait()
}

// prepare normalises one document and turns it into fingerprinted passages
// carrying its validated metadata.
func (o *IngestOrchestrator) prepare(ctx context.Context, project string, defaults map[string]any, w *work) {
	result, err := o.registry.Normalise(ctx, w.doc)
	if err != nil {
		o.fail(w, fmt.Errorf("normalise: %w", err))
		return
	}
	canonical := result.Document

	record, warnings, err := o.filter.Apply(mergeMetadata(project, w.doc, &canonical, defaults))
	w.outcome.Warnings = append(w.outcome.Warnings, warnings...)
	if err != nil {
		o.fail(w, err)
		return
	}

	passages, err := o.pipeline.Process(ctx, &canonical)
	if err != nil {
		o.fail(w, fmt.Errorf("process passages: %w", err))
		return
	}
	if len(passages) == 0 {
		o.fail(w, fmt.Errorf("%w: no passages produced", domain.ErrExtractionFailed))
		return
	}
	for i := range passages {
		passages[i].ID = scopedPassageID(project, passages[i].ID)
		passages[i].Metadata = record
	}

	w.record = record
	w.passages = passages
	w.outcome.Passages = len(passages)
	logger.Debug("Prepared %s (%s): %d passages", w.doc.ID, canonical.Format, len(passages))
}

// mergeMetadata layers extracted values, fetcher metadata and request
// values, later layers winning. The project always comes from the request.
func mergeMetadata(project string, doc *domain.Document, canonical *domain.CanonicalDocument, defaults map[string]any) map[string]any {
	raw := make(map[string]any, len(doc.Metadata)+len(defaults)+6)
	extracted := map[string]string{
		domain.KeyTitle:    canonical.Title,
		domain.KeySource:   canonical.Source,
		domain.KeyDate:     canonical.PublishedAt,
		domain.KeyLanguage: canonical.Language,
	}
	for k, v := range extracted {
		if v != "" {
			raw[k] = v
		}
	}
	if isWebURL(doc.URI) {
		raw[domain.KeyURL] = doc.URI
	}

	maps.Copy(raw, doc.Metadata)
	maps.Copy(raw, defaults)

	if v, ok := raw[domain.KeySource]; (!ok || v == nil || v == "") && doc.Origin != "" {
		raw[domain.KeySource] = doc.Origin
	}
	raw[domain.KeyProject] = project
	return raw
}

func isWebURL(uri string) bool {
	u, err := url.Parse(uri)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// collapse reports later documents that resolve to the same key as an
// earlier one as duplicates of it.
func (o *IngestOrchestrator) collapse(items []*work) {
	first := make(map[string]*work, len(items))
	for _, w := range items {
		if w.done {
			continue
		}
		key := documentKey(w.doc, w.record)
		if prev, seen := first[key]; seen {
			w.outcome.Status = domain.OutcomeDuplicate
			w.outcome.Warnings = append(w.outcome.Warnings, fmt.Sprintf("same document as %s", prev.doc.ID))
			logger.Debug("Document %s collapses into %s (%s)", w.doc.ID, prev.doc.ID, key)
			o.finish(w, false)
			continue
		}
		first[key] = w
	}
}

// documentKey identifies a document by DOI, then URL, then id.
func documentKey(doc *domain.Document, record domain.Metadata) string {
	if doi := normaliseDOI(record.String(domain.KeyDOI)); doi != "" {
		return "doi:" + doi
	}
	if u := normaliseURL(record.String(domain.KeyURL)); u != "" {
		return "url:" + u
	}
	return "id:" + doc.ID
}

func normaliseDOI(doi string) string {
	doi = strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		if strings.HasPrefix(doi, prefix) {
			doi = strings.TrimSpace(doi[len(prefix):])
			break
		}
	}
	return doi
}

func normaliseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	key := strings.ToLower(u.Host) + strings.TrimSuffix(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// deduplicate clusters the passages of every prepared document against
// each other and the project's stored fingerprints.
func (o *IngestOrchestrator) deduplicate(ctx context.Context, project string, items []*work) *clusters {
	var (
		batch   []domain.Passage
		exclude []string
		active  []*work
	)
	owner := make(map[string]*work)
	for _, w := range items {
		if w.done {
			continue
		}
		active = append(active, w)
		exclude = append(exclude, w.doc.ID)
		for _, p := range w.passages {
			batch = append(batch, p)
			owner[p.ID] = w
		}
	}
	if len(batch) == 0 {
		return nil
	}

	var stored []domain.StoredFingerprint
	err := withStoreRetry(ctx, o.retry, o.storeTimeout, func(ctx context.Context) error {
		var err error
		stored, err = o.store.Fingerprints(ctx, project, exclude)
		return err
	})
	if err != nil {
		for _, w := range active {
			o.fail(w, fmt.Errorf("load fingerprints: %w", err))
		}
		return nil
	}

	result := o.deduplicator.Deduplicate(batch, stored)
	for _, p := range result.Retained {
		w := owner[p.ID]
		w.retained = append(w.retained, p)
	}
	c := &clusters{owner: owner, dependents: make(map[string][]domain.Passage)}
	for _, d := range result.Duplicates {
		w := owner[d.Passage.ID]
		w.outcome.Duplicates++
		if _, inBatch := owner[d.Of]; inBatch {
			c.dependents[d.Of] = append(c.dependents[d.Of], d.Passage)
		}
		logger.Debug("Passage %s of %s duplicates %s (distance %d)", d.Passage.ID, w.doc.ID, d.Of, d.Distance)
	}
	logger.Debug("Dedup: %d passages, %d stored fingerprints, %d retained",
		len(batch), len(stored), len(result.Retained))
	return c
}

// promote replaces every representative left unstored by a failed document
// with the best of its duplicates owned by a document that did not fail.
// The documents receiving a passage are reopened and returned for another
// commit.
func (o *IngestOrchestrator) promote(c *clusters, items []*work) []*work {
	live := func(p domain.Passage) bool {
		return c.owner[p.ID].outcome.Status != domain.OutcomeFailed
	}

	var redo []*work
	reopened := make(map[*work]bool)
	for _, w := range items {
		if w.outcome.Status != domain.OutcomeFailed || len(w.retained) == 0 {
			continue
		}
		// Passages before Stored reached the store before the failure.
		unstored := w.retained[min(w.outcome.Stored, len(w.retained)):]
		w.retained = nil

		for _, rep := range unstored {
			candidates := slices.DeleteFunc(c.dependents[rep.ID], func(p domain.Passage) bool { return !live(p) })
			delete(c.dependents, rep.ID)
			if len(candidates) == 0 {
				continue
			}

			// Longest wins, ties going to the earliest.
			best := 0
			for i, p := range candidates[1:] {
				if p.Len() > candidates[best].Len() {
					best = i + 1
				}
			}
			next := candidates[best]
			c.dependents[next.ID] = slices.Delete(candidates, best, best+1)

			owner := c.owner[next.ID]
			owner.retained = append(owner.retained, next)
			slices.SortFunc(owner.retained, func(a, b domain.Passage) int { return a.Ordinal - b.Ordinal })
			owner.outcome.Duplicates--
			owner.outcome.Warnings = append(owner.outcome.Warnings,
				fmt.Sprintf("passage %d stored in place of a passage of %s", next.Ordinal, w.doc.ID))
			logger.Debug("Passage %s of %s replaces %s of failed %s", next.ID, owner.doc.ID, rep.ID, w.doc.ID)

			if !reopened[owner] {
				reopened[owner] = true
				o.reopen(owner)
				redo = append(redo, owner)
			}
		}
	}
	return redo
}

// reopen returns a finished document to the commit stage.
func (o *IngestOrchestrator) reopen(w *work) {
	w.done = false
	w.outcome.Status = ""
	w.outcome.Stored = 0
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.DocumentsProcessed--
}

// commit embeds the retained passages of one document, removes entries of
// any previous version in the project and stores the new entries.
func (o *IngestOrchestrator) commit(ctx context.Context, project string, w *work) {
	var vectors [][]float32
	if len(w.retained) > 0 {
		texts := make([]string, len(w.retained))
		for i, p := range w.retained {
			texts[i] = p.Text
		}
		var err error
		vectors, err = o.embedder.EmbedPassages(ctx, texts)
		if err != nil {
			o.fail(w, fmt.Errorf("embed: %w", err))
			return
		}
	}

	var removed int
	err := withStoreRetry(ctx, o.retry, o.storeTimeout, func(ctx context.Context) error {
		var err error
		removed, err = o.store.DeleteByDocument(ctx, project, w.doc.ID)
		return err
	})
	if err != nil {
		o.fail(w, fmt.Errorf("supersede: %w", err))
		return
	}
	if removed > 0 {
		logger.Debug("Superseded %d entries of %s", removed, w.doc.ID)
	}

	if len(w.retained) == 0 {
		w.outcome.Status = domain.OutcomeDuplicate
		o.finish(w, false)
		return
	}

	createdAt := o.now()
	for i, p := range w.retained {
		entry := domain.IndexEntry{
			PassageID:   p.ID,
			DocumentID:  w.doc.ID,
			Origin:      w.doc.Origin,
			Ordinal:     p.Ordinal,
			Text:        p.Text,
			Fingerprint: p.Fingerprint,
			Vector:      vectors[i],
			Metadata:    p.Metadata,
			CreatedAt:   createdAt,
		}
		err := withStoreRetry(ctx, o.retry, o.storeTimeout, func(ctx context.Context) error {
			return o.store.Put(ctx, entry)
		})
		if err != nil {
			o.fail(w, fmt.Errorf("store passage %d: %w", p.Ordinal, err))
			return
		}
		w.outcome.Stored++
	}

	w.outcome.Status = domain.OutcomeStored
	o.finish(w, false)
}

func (o *IngestOrchestrator) fail(w *work, err error) {
	w.outcome.Fail(err)
	logger.Warn("Failed to ingest %s: %v", w.doc.ID, err)
	o.finish(w, true)
}

func (o *IngestOrchestrator) finish(w *work, failed bool) {
	w.done = true
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.DocumentsProcessed++
	if failed {
		o.status.ErrorCount++
	}
}

func (o *IngestOrchestrator) startRun(runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = driving.IngestStatus{Running: true, RunID: runID}
}

func (o *IngestOrchestrator) finishRun() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Running = false
}

// Status returns the state of the current or most recent run.
func (o *IngestOrchestrator) Status() driving.IngestStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// DeleteDocument removes the entries derived from the document in the
// project, or in every project when project is empty.
func (o *IngestOrchestrator) DeleteDocument(ctx context.Context, project, documentID string) (int, error) {
	if strings.TrimSpace(documentID) == "" {
		return 0, fmt.Errorf("%w: document id is required", domain.ErrInvalidInput)
	}

	var removed int
	err := withStoreRetry(ctx, o.retry, o.storeTimeout, func(ctx context.Context) error {
		var err error
		removed, err = o.store.DeleteByDocument(ctx, strings.TrimSpace(project), documentID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete document %s: %w", documentID, err)
	}
	logger.Info("Deleted %d entries of document %s", removed, documentID)
	return removed, nil
}

// DeleteProject removes every entry in the project namespace.
func (o *IngestOrchestrator) DeleteProject(ctx context.Context, project string) (int, error) {
	if strings.TrimSpace(project) == "" {
		return 0, fmt.Errorf("%w: project is required", domain.ErrInvalidInput)
	}

	var removed int
	err := withStoreRetry(ctx, o.retry, o.storeTimeout, func(ctx context.Context) error {
		var err error
		removed, err = o.store.DeleteByProject(ctx, project)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete project %s: %w", project, err)
	}
	logger.Info("Deleted %d entries of project %s", removed, project)
	return removed, nil
}
