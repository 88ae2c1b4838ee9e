package file

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/logger"
)

// Ensure SettingsStore implements the interface.
var _ driven.SettingsStore = (*SettingsStore)(nil)

// Environment variables read on Load. Variables override the TOML file;
// a .env file next to the config file supplies values the process
// environment does not set.
const (
	EnvOpenAIKey         = "OPENAI_API_KEY"
	EnvQdrantKey         = "QDRANT_API_KEY"
	EnvEmbeddingProvider = "JARVIS_EMBEDDING_PROVIDER"
	EnvEmbeddingModel    = "JARVIS_EMBEDDING_MODEL"
	EnvEmbeddingBaseURL  = "JARVIS_EMBEDDING_BASE_URL"
	EnvDataDir           = "JARVIS_DATA_DIR"
	EnvStoreBackend      = "JARVIS_STORE_BACKEND"
	EnvQdrantURL         = "JARVIS_QDRANT_URL"
	EnvIngestWorkers     = "JARVIS_INGEST_WORKERS"
)

// LookupFunc looks up an environment variable.
type LookupFunc func(key string) (string, bool)

// SettingsStore loads domain.Settings from a TOML file layered over the
// defaults, then applies environment overrides.
type SettingsStore struct {
	mu       sync.Mutex
	filePath string
	lookup   LookupFunc
}

// Option configures a SettingsStore.
type Option func(*SettingsStore)

// WithLookup replaces the process environment.
func WithLookup(lookup LookupFunc) Option {
	return func(s *SettingsStore) {
		s.lookup = lookup
	}
}

// NewSettingsStore creates a store for the TOML file at path.
// If path is empty, defaults to ~/.jarvis/config.toml.
func NewSettingsStore(path string, opts ...Option) (*SettingsStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".jarvis", "config.toml")
	}

	s := &SettingsStore{filePath: path, lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the configuration file path.
func (s *SettingsStore) Path() string {
	return s.filePath
}

// Load returns the defaults overlaid with the file and the environment.
// A missing file is not an error.
func (s *SettingsStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := domain.DefaultSettings()

	data, err := os.ReadFile(s.filePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Debug("No config file at %s, using defaults", s.filePath)
	case err != nil:
		return domain.Settings{}, err
	default:
		if err := toml.Unmarshal(data, &settings); err != nil {
			return domain.Settings{}, fmt.Errorf("parse %s: %w", s.filePath, err)
		}
	}

	if err := s.applyEnv(&settings); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

// Save writes settings to the file. Secrets that come from the
// environment are not written.
func (s *SettingsStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := s.env()
	if v, ok := env(EnvOpenAIKey); ok && v == settings.Embedding.APIKey {
		settings.Embedding.APIKey = ""
	}
	if v, ok := env(EnvQdrantKey); ok && v == settings.Store.QdrantAPIKey {
		settings.Store.QdrantAPIKey = ""
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return err
	}

	// Write with restricted permissions, replacing the file atomically
	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), ".config-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.filePath)
}

// env returns a lookup that prefers the process environment and falls
// back to the .env file beside the config file.
func (s *SettingsStore) env() LookupFunc {
	dotenv, err := godotenv.Read(filepath.Join(filepath.Dir(s.filePath), ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Ignoring unreadable .env file: %v", err)
	}
	return func(key string) (string, bool) {
		if v, ok := s.lookup(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok && v != ""
	}
}

func (s *SettingsStore) applyEnv(settings *domain.Settings) error {
	env := s.env()

	overrides := []struct {
		key    string
		target *string
	}{
		{EnvOpenAIKey, &settings.Embedding.APIKey},
		{EnvQdrantKey, &settings.Store.QdrantAPIKey},
		{EnvEmbeddingModel, &settings.Embedding.Model},
		{EnvEmbeddingBaseURL, &settings.Embedding.BaseURL},
		{EnvDataDir, &settings.DataDir},
		{EnvQdrantURL, &settings.Store.QdrantURL},
	}
	for _, e := range overrides {
		if v, ok := env(e.key); ok {
			*e.target = v
		}
	}

	if v, ok := env(EnvEmbeddingProvider); ok {
		settings.Embedding.Provider = domain.AIProvider(v)
	}
	if v, ok := env(EnvStoreBackend); ok {
		settings.Store.Backend = domain.StoreBackend(v)
	}
	if v, ok := env(EnvIngestWorkers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", domain.ErrInvalidInput, EnvIngestWorkers, v)
		}
		settings.Ingest.Workers = n
	}
	return nil
}
