package domain

import (
	"errors"
	"fmt"
	"time"
)

const unknownDescription = "Unknown"

// Duration is a time.Duration that reads and writes as text ("30s").
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// AIProvider identifies an embedding service provider.
type AIProvider string

// Available providers.
const (
	// AIProviderOllama is a local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is the OpenAI cloud API.
	AIProviderOpenAI AIProvider = "openai"

	// AIProviderHashing is the offline feature-hashing embedder.
	AIProviderHashing AIProvider = "hashing"
)

// IsValid returns true if the provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI, AIProviderHashing:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOllama:
		return "Ollama (local)"
	case AIProviderOpenAI:
		return "OpenAI (cloud)"
	case AIProviderHashing:
		return "Feature hashing (offline)"
	default:
		return unknownDescription
	}
}

// StoreBackend selects the vector store adapter.
type StoreBackend string

// Available store backends.
const (
	StoreMemory StoreBackend = "memory"
	StoreSQLite StoreBackend = "sqlite"
	StoreQdrant StoreBackend = "qdrant"
)

// IsValid returns true if the backend is recognised.
func (b StoreBackend) IsValid() bool {
	return b == StoreMemory || b == StoreSQLite || b == StoreQdrant
}

// ChunkUnit selects how chunk sizes are measured.
type ChunkUnit string

// Available chunk units.
const (
	ChunkUnitChars  ChunkUnit = "chars"
	ChunkUnitTokens ChunkUnit = "tokens"
)

// ChunkSettings configures the chunker.
type ChunkSettings struct {
	// Size is the target passage size in Unit.
	Size int `toml:"size"`

	// Unit is chars or tokens.
	Unit ChunkUnit `toml:"unit"`

	// Overlap is the fraction of Size shared by adjacent passages, in [0, 1).
	Overlap float64 `toml:"overlap"`

	// BoundaryTolerance is the fraction of Size the chunker may move a
	// boundary back to land on a sentence or paragraph break.
	BoundaryTolerance float64 `toml:"boundary_tolerance"`

	// MinLength is the shortest passage in Unit a boundary may produce.
	// The final passage of a document may be shorter.
	MinLength int `toml:"min_length"`
}

// DedupSettings configures the deduplicator.
type DedupSettings struct {
	// Threshold is the fingerprint distance below which passages are
	// duplicates. 1 only matches identical fingerprints.
	Threshold int `toml:"threshold"`
}

// EmbeddingSettings holds embedding provider configuration.
type EmbeddingSettings struct {
	// Provider is the embedding service provider.
	Provider AIProvider `toml:"provider"`

	// Model is the embedding model name.
	Model string `toml:"model"`

	// BaseURL is the API endpoint.
	BaseURL string `toml:"base_url"`

	// APIKey is the API key (for OpenAI). Usually supplied by environment.
	APIKey string `toml:"api_key,omitempty"`

	// Dimensions overrides the model's vector size (0 = model default).
	Dimensions int `toml:"dimensions"`

	// BatchSize is the number of texts per provider call.
	BatchSize int `toml:"batch_size"`

	// MaxInFlight bounds concurrent provider calls.
	MaxInFlight int `toml:"max_in_flight"`

	// RequestsPerSecond rate-limits provider calls (0 = unlimited).
	RequestsPerSecond float64 `toml:"requests_per_second"`

	// Timeout bounds each provider call.
	Timeout Duration `toml:"timeout"`
}

// IsConfigured returns true if the embedding provider is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	if !e.Provider.IsValid() {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// RetrySettings configures backoff for transient external failures.
type RetrySettings struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `toml:"max_attempts"`

	// BaseDelay is the first backoff interval.
	BaseDelay Duration `toml:"base_delay"`

	// MaxDelay caps a single backoff interval.
	MaxDelay Duration `toml:"max_delay"`
}

// StoreSettings configures the vector store.
type StoreSettings struct {
	Backend StoreBackend   `toml:"backend"`
	Metric  DistanceMetric `toml:"metric"`

	// Timeout bounds each store call.
	Timeout Duration `toml:"timeout"`

	QdrantURL        string `toml:"qdrant_url"`
	QdrantCollection string `toml:"qdrant_collection"`
	QdrantAPIKey     string `toml:"qdrant_api_key,omitempty"`
}

// IngestSettings configures ingestion runs.
type IngestSettings struct {
	// Workers bounds documents processed concurrently.
	Workers int `toml:"workers"`
}

// RetrievalSettings configures the retrieval orchestrator.
type RetrievalSettings struct {
	DefaultK int `toml:"default_k"`
	MaxK     int `toml:"max_k"`

	// PerDocumentCap limits results from one parent document.
	PerDocumentCap int `toml:"per_document_cap"`

	// QueryCacheSize is the number of query embeddings kept (0 disables).
	QueryCacheSize int `toml:"query_cache_size"`
}

// MetadataSettings configures the metadata filter.
type MetadataSettings struct {
	RequiredKeys    []string `toml:"required_keys"`
	MaxStringLength int      `toml:"max_string_length"`
}

// NormaliserSettings configures extraction.
type NormaliserSettings struct {
	// MinTextLength is the shortest extraction accepted from a strategy.
	MinTextLength int `toml:"min_text_length"`
}

// Settings is the configuration object built once at start-up and passed
// to every component.
type Settings struct {
	// DataDir holds the sqlite database and other local state.
	DataDir string `toml:"data_dir"`

	Chunk      ChunkSettings      `toml:"chunk"`
	Dedup      DedupSettings      `toml:"dedup"`
	Embedding  EmbeddingSettings  `toml:"embedding"`
	Retry      RetrySettings      `toml:"retry"`
	Store      StoreSettings      `toml:"store"`
	Ingest     IngestSettings     `toml:"ingest"`
	Retrieval  RetrievalSettings  `toml:"retrieval"`
	Metadata   MetadataSettings   `toml:"metadata"`
	Normaliser NormaliserSettings `toml:"normaliser"`
}

// DefaultSettings returns settings with sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		Chunk: ChunkSettings{
			Size:              1000,
			Unit:              ChunkUnitChars,
			Overlap:           0.1,
			BoundaryTolerance: 0.1,
			MinLength:         1,
		},
		Dedup: DedupSettings{
			Threshold: 4,
		},
		Embedding: EmbeddingSettings{
			Provider:    AIProviderOllama,
			Model:       "nomic-embed-text",
			BatchSize:   32,
			MaxInFlight: 4,
			Timeout:     NewDuration(30 * time.Second),
		},
		Retry: RetrySettings{
			MaxAttempts: 3,
			BaseDelay:   NewDuration(200 * time.Millisecond),
			MaxDelay:    NewDuration(2 * time.Second),
		},
		Store: StoreSettings{
			Backend:          StoreSQLite,
			Metric:           MetricCosine,
			Timeout:          NewDuration(10 * time.Second),
			QdrantURL:        "http://localhost:6333",
			QdrantCollection: "jarvis",
		},
		Ingest: IngestSettings{
			Workers: 4,
		},
		Retrieval: RetrievalSettings{
			DefaultK:       5,
			MaxK:           100,
			PerDocumentCap: 3,
			QueryCacheSize: 256,
		},
		Metadata: MetadataSettings{
			RequiredKeys:    []string{KeyProject, KeySource},
			MaxStringLength: 512,
		},
		Normaliser: NormaliserSettings{
			MinTextLength: 100,
		},
	}
}

// Validate checks the chunk configuration.
func (c ChunkSettings) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidChunkConfig, c.Size)
	}
	if c.MinLength < 0 || c.MinLength > c.Size {
		return fmt.Errorf("%w: min length must be in [0, %d], got %d", ErrInvalidChunkConfig, c.Size, c.MinLength)
	}
	if c.Overlap < 0 || c.Overlap >= 1 {
		return fmt.Errorf("%w: overlap must be in [0, 1), got %g", ErrInvalidChunkConfig, c.Overlap)
	}
	if c.BoundaryTolerance < 0 || c.BoundaryTolerance >= 1 {
		return fmt.Errorf("%w: boundary tolerance must be in [0, 1), got %g",
			ErrInvalidChunkConfig, c.BoundaryTolerance)
	}
	if c.Unit != ChunkUnitChars && c.Unit != ChunkUnitTokens {
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidChunkConfig, c.Unit)
	}
	return nil
}

// Validate checks every section and returns all problems joined.
func (s Settings) Validate() error {
	var errs []error
	if err := s.Chunk.Validate(); err != nil {
		errs = append(errs, err)
	}
	if s.Dedup.Threshold < 1 || s.Dedup.Threshold > 64 {
		errs = append(errs, fmt.Errorf("%w: dedup threshold must be in [1, 64], got %d",
			ErrInvalidInput, s.Dedup.Threshold))
	}
	if !s.Embedding.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidInput, s.Embedding.Provider))
	} else if !s.Embedding.IsConfigured() {
		errs = append(errs, fmt.Errorf("%w: embedding provider %s requires an API key",
			ErrInvalidInput, s.Embedding.Provider))
	}
	if s.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: embedding batch size must be positive", ErrInvalidInput))
	}
	if s.Embedding.MaxInFlight <= 0 {
		errs = append(errs, fmt.Errorf("%w: embedding max in flight must be positive", ErrInvalidInput))
	}
	if s.Retry.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("%w: retry max attempts must be positive", ErrInvalidInput))
	}
	if !s.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("%w: unknown store backend %q", ErrInvalidInput, s.Store.Backend))
	}
	if !s.Store.Metric.IsValid() {
		errs = append(errs, fmt.Errorf("%w: unknown distance metric %q", ErrInvalidInput, s.Store.Metric))
	}
	if s.Ingest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("%w: ingest workers must be positive", ErrInvalidInput))
	}
	if s.Retrieval.DefaultK <= 0 || s.Retrieval.MaxK < s.Retrieval.DefaultK {
		errs = append(errs, fmt.Errorf("%w: retrieval k must satisfy 0 < default_k <= max_k", ErrInvalidInput))
	}
	if s.Retrieval.PerDocumentCap <= 0 {
		errs = append(errs, fmt.Errorf("%w: per-document cap must be positive", ErrInvalidInput))
	}
	return errors.Join(errs...)
}

// AllEmbeddingProviders returns providers that support embeddings.
func AllEmbeddingProviders() []AIProvider {
	return []AIProvider{
		AIProviderOllama,
		AIProviderOpenAI,
		AIProviderHashing,
	}
}

// DefaultEmbeddingModels returns default models for each embedding provider.
func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama:  "nomic-embed-text",
		AIProviderOpenAI:  "text-embedding-3-small",
		AIProviderHashing: "hashing-256",
	}
}

// EmbeddingDimensions returns the vector dimensions for known models.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		// Ollama models
		"nomic-embed-text":  768,
		"mxbai-embed-large": 1024,
		"all-minilm":        384,
		// OpenAI models
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
		// Offline
		"hashing-256": 256,
	}
}
