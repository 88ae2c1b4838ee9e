package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func newStore(t *testing.T, lookup LookupFunc) *SettingsStore {
	t.Helper()
	store, err := NewSettingsStore(filepath.Join(t.TempDir(), "config.toml"), WithLookup(lookup))
	require.NoError(t, err)
	return store
}

func TestNewSettingsStore_DefaultPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot determine home directory")
	}

	store, err := NewSettingsStore("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".jarvis", "config.toml"), store.Path())
}

func TestSettingsStore_Load_MissingFileUsesDefaults(t *testing.T) {
	store := newStore(t, noEnv)

	settings, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), settings)
}

func TestSettingsStore_Load_OverlaysFile(t *testing.T) {
	store := newStore(t, noEnv)
	content := `
data_dir = "/var/lib/jarvis"

[chunk]
size = 400
unit = "tokens"

[embedding]
provider = "openai"
model = "text-embedding-3-large"
api_key = "sk-file"

[retry]
base_delay = "500ms"

[metadata]
required_keys = ["project", "source", "doi"]
`
	require.NoError(t, os.WriteFile(store.Path(), []byte(content), 0600))

	settings, err := store.Load()
	require.NoError(t, err)

	defaults := domain.DefaultSettings()
	assert.Equal(t, "/var/lib/jarvis", settings.DataDir)
	assert.Equal(t, 400, settings.Chunk.Size)
	assert.Equal(t, domain.ChunkUnitTokens, settings.Chunk.Unit)
	assert.Equal(t, defaults.Chunk.Overlap, settings.Chunk.Overlap)
	assert.Equal(t, domain.AIProviderOpenAI, settings.Embedding.Provider)
	assert.Equal(t, "sk-file", settings.Embedding.APIKey)
	assert.Equal(t, 500*time.Millisecond, settings.Retry.BaseDelay.Duration)
	assert.Equal(t, defaults.Retry.MaxDelay, settings.Retry.MaxDelay)
	assert.Equal(t, []string{"project", "source", "doi"}, settings.Metadata.RequiredKeys)
}

func TestSettingsStore_Load_InvalidFile(t *testing.T) {
	store := newStore(t, noEnv)
	require.NoError(t, os.WriteFile(store.Path(), []byte("[chunk\nsize = "), 0600))

	_, err := store.Load()
	assert.ErrorContains(t, err, store.Path())
}

func TestSettingsStore_Load_EnvOverrides(t *testing.T) {
	store := newStore(t, envMap(map[string]string{
		EnvOpenAIKey:         "sk-env",
		EnvEmbeddingProvider: "openai",
		EnvEmbeddingModel:    "text-embedding-3-small",
		EnvDataDir:           "/data",
		EnvStoreBackend:      "qdrant",
		EnvQdrantURL:         "http://qdrant:6333",
		EnvIngestWorkers:     "8",
	}))
	require.NoError(t, os.WriteFile(store.Path(), []byte("[embedding]\napi_key = \"sk-file\"\n"), 0600))

	settings, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-env", settings.Embedding.APIKey)
	assert.Equal(t, domain.AIProviderOpenAI, settings.Embedding.Provider)
	assert.Equal(t, "/data", settings.DataDir)
	assert.Equal(t, domain.StoreQdrant, settings.Store.Backend)
	assert.Equal(t, "http://qdrant:6333", settings.Store.QdrantURL)
	assert.Equal(t, 8, settings.Ingest.Workers)
}

func TestSettingsStore_Load_BadWorkers(t *testing.T) {
	store := newStore(t, envMap(map[string]string{EnvIngestWorkers: "many"}))

	_, err := store.Load()
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSettingsStore_Load_DotEnv(t *testing.T) {
	store := newStore(t, envMap(map[string]string{EnvQdrantKey: "from-process"}))
	dotenv := "OPENAI_API_KEY=sk-dotenv\nQDRANT_API_KEY=from-dotenv\n"
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(store.Path()), ".env"), []byte(dotenv), 0600))

	settings, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-dotenv", settings.Embedding.APIKey)
	assert.Equal(t, "from-process", settings.Store.QdrantAPIKey)
}

func TestSettingsStore_SaveRoundTrip(t *testing.T) {
	store := newStore(t, noEnv)

	settings := domain.DefaultSettings()
	settings.Chunk.Size = 750
	settings.Dedup.Threshold = 6
	settings.Store.Backend = domain.StoreMemory
	settings.Embedding.Timeout = domain.NewDuration(90 * time.Second)
	require.NoError(t, store.Save(settings))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, settings, loaded)
}

func TestSettingsStore_Save_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.toml")
	store, err := NewSettingsStore(path, WithLookup(noEnv))
	require.NoError(t, err)

	require.NoError(t, store.Save(domain.DefaultSettings()))
	assert.FileExists(t, path)
}

func TestSettingsStore_Save_SkipsEnvSecrets(t *testing.T) {
	store := newStore(t, envMap(map[string]string{EnvOpenAIKey: "sk-env"}))

	settings, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "sk-env", settings.Embedding.APIKey)
	require.NoError(t, store.Save(settings))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-env")
}
