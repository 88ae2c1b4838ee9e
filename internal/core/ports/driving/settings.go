package driving

import "github.com/custodia-labs/jarvis/internal/core/domain"

// SettingsService reads and updates the settings file.
type SettingsService interface {
	// Get returns the effective settings (defaults, file, environment).
	Get() (domain.Settings, error)

	// Save validates and persists settings.
	Save(settings domain.Settings) error

	// SetEmbeddingProvider switches the embedding provider. An empty model
	// selects the provider's default model.
	SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error

	// Defaults returns the built-in settings.
	Defaults() domain.Settings

	// Path returns the settings file path.
	Path() string
}
