package mcp

import (
	"context"
	"sync"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/core/ports/driving"
)

// mockRetrievalService is a mock implementation of driving.RetrievalService.
type mockRetrievalService struct {
	results []domain.RetrievalResult
	err     error

	mu       sync.Mutex
	requests []domain.RetrievalRequest
}

func (m *mockRetrievalService) Retrieve(_ context.Context, req domain.RetrievalRequest) ([]domain.RetrievalResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.results, m.err
}

// mockIngestService is a mock implementation of driving.IngestService.
type mockIngestService struct {
	outcome domain.Outcome
	err     error

	requests []domain.IngestRequest
}

func (m *mockIngestService) Ingest(_ context.Context, req domain.IngestRequest) (*domain.IngestSummary, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	outcome := m.outcome
	if outcome.DocumentID == "" && len(req.Documents) > 0 {
		outcome.DocumentID = req.Documents[0].ID
	}
	return &domain.IngestSummary{Project: req.Project, Outcomes: []domain.Outcome{outcome}}, nil
}

func (m *mockIngestService) DeleteDocument(_ context.Context, _, _ string) (int, error) {
	return 0, m.err
}

func (m *mockIngestService) DeleteProject(_ context.Context, _ string) (int, error) {
	return 0, m.err
}

func (m *mockIngestService) Status() driving.IngestStatus {
	return driving.IngestStatus{}
}

// mockSettingsService is a mock implementation of driving.SettingsService.
type mockSettingsService struct {
	settings domain.Settings
	err      error
}

func (m *mockSettingsService) Get() (domain.Settings, error) {
	return m.settings, m.err
}

func (m *mockSettingsService) Save(_ domain.Settings) error {
	return m.err
}

func (m *mockSettingsService) SetEmbeddingProvider(_ domain.AIProvider, _, _ string) error {
	return m.err
}

func (m *mockSettingsService) Defaults() domain.Settings {
	return domain.DefaultSettings()
}

func (m *mockSettingsService) Path() string {
	return "/tmp/jarvis/config.toml"
}

// mockFetcherRegistry is a mock implementation of driving.FetcherRegistry.
type mockFetcherRegistry struct {
	names []string
}

func (m *mockFetcherRegistry) Register(_ driven.Fetcher) error {
	return nil
}

func (m *mockFetcherRegistry) Get(_ string) (driven.Fetcher, error) {
	return nil, domain.ErrNotFound
}

func (m *mockFetcherRegistry) Names() []string {
	return m.names
}
