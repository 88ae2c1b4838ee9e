package driven

import "github.com/custodia-labs/jarvis/internal/core/domain"

// SettingsStore loads and persists the settings file.
// Implementations handle the file format (e.g., TOML) and environment
// overrides.
type SettingsStore interface {
	// Load returns defaults overlaid with the file and the environment.
	Load() (domain.Settings, error)

	// Save writes settings to the file. Secrets are not written.
	Save(settings domain.Settings) error

	// Path returns the settings file path.
	Path() string
}
