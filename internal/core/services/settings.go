package services

import (
	"fmt"
	"slices"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// defaultOllamaURL is used when Ollama is selected without a base URL.
const defaultOllamaURL = "http://localhost:11434"

// SettingsService manages application settings.
type SettingsService struct {
	store driven.SettingsStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(store driven.SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

// Get loads and validates the current settings.
func (s *SettingsService) Get() (domain.Settings, error) {
	settings, err := s.store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return settings, fmt.Errorf("invalid settings in %s: %w", s.store.Path(), err)
	}
	return settings, nil
}

// Save validates and persists settings.
func (s *SettingsService) Save(settings domain.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := s.store.Save(settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// SetEmbeddingProvider configures the embedding provider.
func (s *SettingsService) SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error {
	if !provider.IsValid() {
		return fmt.Errorf("%w: invalid embedding provider: %s", domain.ErrInvalidInput, provider)
	}
	if !slices.Contains(domain.AllEmbeddingProviders(), provider) {
		return fmt.Errorf("%w: provider %s does not support embeddings", domain.ErrInvalidInput, provider)
	}

	settings, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// Validate API key if required
	if apiKey == "" {
		apiKey = settings.Embedding.APIKey
	}
	if provider.RequiresAPIKey() && apiKey == "" {
		return fmt.Errorf("%w: API key required for %s", domain.ErrInvalidInput, provider)
	}

	settings.Embedding.Provider = provider
	settings.Embedding.APIKey = apiKey

	// Set model - use provided or default
	if model == "" {
		model = domain.DefaultEmbeddingModels()[provider]
	}
	settings.Embedding.Model = model

	switch provider {
	case domain.AIProviderOllama:
		if settings.Embedding.BaseURL == "" {
			settings.Embedding.BaseURL = defaultOllamaURL
		}
	default:
		// Cloud and offline providers use their built-in endpoint
		settings.Embedding.BaseURL = ""
	}

	// Dimensions follow the model unless the model is unknown
	settings.Embedding.Dimensions = domain.EmbeddingDimensions()[model]

	return s.Save(settings)
}

// Defaults returns the built-in settings.
func (s *SettingsService) Defaults() domain.Settings {
	return domain.DefaultSettings()
}

// Path returns the settings file path.
func (s *SettingsService) Path() string {
	return s.store.Path()
}
