package cli

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driving"
	"github.com/custodia-labs/jarvis/internal/core/services"
)

// mockRetrievalService is a mock implementation of driving.RetrievalService.
type mockRetrievalService struct {
	results []domain.RetrievalResult
	err     error

	requests []domain.RetrievalRequest
}

func (m *mockRetrievalService) Retrieve(_ context.Context, req domain.RetrievalRequest) ([]domain.RetrievalResult, error) {
	m.requests = append(m.requests, req)
	return m.results, m.err
}

// mockIngestService is a mock implementation of driving.IngestService.
// Every document is stored unless its id is listed in fail.
type mockIngestService struct {
	fail map[string]bool
	err  error

	mu                 sync.Mutex
	requests           []domain.IngestRequest
	deletedDocs        []string
	deletedDocProjects []string
	deletedProject     []string
}

func (m *mockIngestService) Ingest(_ context.Context, req domain.IngestRequest) (*domain.IngestSummary, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	summary := &domain.IngestSummary{Project: req.Project, Started: time.Now()}
	for _, doc := range req.Documents {
		if m.fail[doc.ID] {
			summary.Outcomes = append(summary.Outcomes, domain.Outcome{
				DocumentID: doc.ID,
				Status:     domain.OutcomeFailed,
				Kind:       "ExtractionFailed",
				Message:    "no text",
			})
			continue
		}
		summary.Outcomes = append(summary.Outcomes, domain.Outcome{
			DocumentID: doc.ID,
			Status:     domain.OutcomeStored,
			Passages:   1,
			Stored:     1,
		})
	}
	summary.Tally()
	return summary, nil
}

func (m *mockIngestService) DeleteDocument(_ context.Context, project, documentID string) (int, error) {
	m.deletedDocs = append(m.deletedDocs, documentID)
	m.deletedDocProjects = append(m.deletedDocProjects, project)
	return 3, m.err
}

func (m *mockIngestService) DeleteProject(_ context.Context, project string) (int, error) {
	m.deletedProject = append(m.deletedProject, project)
	return 7, m.err
}

func (m *mockIngestService) Status() driving.IngestStatus {
	return driving.IngestStatus{}
}

func (m *mockIngestService) lastRequest() domain.IngestRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

// mockFetcher returns one document per target.
type mockFetcher struct {
	err error
}

func (m *mockFetcher) Name() string { return "filesystem" }

func (m *mockFetcher) Fetch(_ context.Context, target string) ([]domain.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []domain.Document{{
		ID:          target,
		Origin:      "filesystem",
		URI:         target,
		ContentType: "text/plain",
		Content:     []byte("content of " + target),
	}}, nil
}

// mockWatcher replays batches then closes the channel.
type mockWatcher struct {
	batches [][]domain.Document
	err     error
	root    string
}

func (m *mockWatcher) Watch(_ context.Context, root string, _ time.Duration) (<-chan []domain.Document, error) {
	m.root = root
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan []domain.Document, len(m.batches))
	for _, b := range m.batches {
		ch <- b
	}
	close(ch)
	return ch, nil
}

// mockSettingsService is an in-memory driving.SettingsService.
type mockSettingsService struct {
	settings domain.Settings
	path     string
	getErr   error
	saved    []domain.Settings
}

func (m *mockSettingsService) Get() (domain.Settings, error) {
	return m.settings, m.getErr
}

func (m *mockSettingsService) Save(settings domain.Settings) error {
	m.saved = append(m.saved, settings)
	m.settings = settings
	return nil
}

func (m *mockSettingsService) SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error {
	m.settings.Embedding.Provider = provider
	m.settings.Embedding.Model = model
	if apiKey != "" {
		m.settings.Embedding.APIKey = apiKey
	}
	return nil
}

func (m *mockSettingsService) Defaults() domain.Settings {
	return domain.DefaultSettings()
}

func (m *mockSettingsService) Path() string {
	return m.path
}

// testServices holds the mocks installed by setupTestServices.
type testServices struct {
	retrieval *mockRetrievalService
	ingest    *mockIngestService
	fetcher   *mockFetcher
	watcher   *mockWatcher
	settings  *mockSettingsService
}

// setupTestServices installs mock services and returns a cleanup function
// that restores globals and resets command flags.
func setupTestServices(t *testing.T) (*testServices, func()) {
	t.Helper()

	ts := &testServices{
		retrieval: &mockRetrievalService{},
		ingest:    &mockIngestService{},
		fetcher:   &mockFetcher{},
		watcher:   &mockWatcher{},
		settings: &mockSettingsService{
			settings: domain.DefaultSettings(),
			path:     filepath.Join(t.TempDir(), "config.toml"),
		},
	}
	registry, err := services.NewFetcherRegistry(ts.fetcher)
	if err != nil {
		t.Fatal(err)
	}

	oldServices, oldSettings := coreServices, settingsService
	coreServices = &Services{
		Ingest:    ts.ingest,
		Retrieval: ts.retrieval,
		Fetchers:  registry,
		Watcher:   ts.watcher,
	}
	settingsService = ts.settings

	return ts, func() {
		coreServices, settingsService = oldServices, oldSettings
		resetFlags()
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	}
}

func resetFlags() {
	queryProject, queryK, queryTags, queryWhere = "", 0, nil, nil
	querySince, queryUntil, queryJSON = "", "", false
	ingestProject, ingestFetcher, ingestTags, ingestSource, ingestSet, ingestJSON = "", defaultFetcher, nil, "", nil, false
	deleteProject, deleteDocument = "", ""
	watchProject, watchTags, watchSource, watchDebounce, watchInitial = "", nil, "", 500*time.Millisecond, true
	configInitForce = false
	mcpHTTPAddr = ""
}
