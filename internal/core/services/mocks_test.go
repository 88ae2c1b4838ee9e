package services

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
)

// testSettings returns settings with fast retries and no minimum lengths.
func testSettings() domain.Settings {
	s := domain.DefaultSettings()
	s.Embedding.Provider = domain.AIProviderHashing
	s.Embedding.Model = "mock"
	s.Embedding.BatchSize = 4
	s.Embedding.Timeout = domain.NewDuration(0)
	s.Retry = domain.RetrySettings{
		MaxAttempts: 3,
		BaseDelay:   domain.NewDuration(time.Millisecond),
		MaxDelay:    domain.NewDuration(5 * time.Millisecond),
	}
	s.Store.Timeout = domain.NewDuration(0)
	s.Chunk.Size = 200
	s.Chunk.Overlap = 0
	s.Normaliser.MinTextLength = 1
	return s
}

// mockEmbedding is an EmbeddingService that derives vectors from word
// hashes, so texts sharing words are close.
type mockEmbedding struct {
	dims    int
	delay   time.Duration
	vectors map[string][]float32

	mu       sync.Mutex
	failures int
	failErr  error
	override func(texts []string) ([][]float32, error)

	calls       atomic.Int64
	texts       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

var _ driven.EmbeddingService = (*mockEmbedding)(nil)

func newMockEmbedding(dims int) *mockEmbedding {
	return &mockEmbedding{dims: dims, vectors: make(map[string][]float32)}
}

// failNext makes the next n calls fail with err.
func (m *mockEmbedding) failNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
	m.failErr = err
}

func (m *mockEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (m *mockEmbedding) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		peak := m.maxInFlight.Load()
		if n <= peak || m.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	if m.failures > 0 {
		m.failures--
		err := m.failErr
		m.mu.Unlock()
		return nil, err
	}
	override := m.override
	m.mu.Unlock()

	if override != nil {
		return override(texts)
	}

	m.texts.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := m.vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = wordVector(text, m.dims)
	}
	return out, nil
}

func (m *mockEmbedding) Dimensions() int            { return m.dims }
func (m *mockEmbedding) ModelName() string          { return "mock" }
func (m *mockEmbedding) Ping(context.Context) error { return nil }
func (m *mockEmbedding) Close() error               { return nil }

func wordVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(word, ".,;:!?")))
		v[h.Sum32()%uint32(dims)]++
	}
	v[0] += 0.01
	return v
}

// flakyStore wraps a VectorStore and fails selected calls with
// domain.ErrStoreUnavailable. Puts for documents in rejectDocs fail
// permanently.
type flakyStore struct {
	driven.VectorStore

	mu            sync.Mutex
	rejectDocs    map[string]bool
	putFailures   int
	fpFailures    int
	queryErr      error
	cancelOnQuery context.CancelFunc
	queryCalls    int
	queryLimits   []int
	puts          int
	alwaysFailFP  bool
}

func (s *flakyStore) Put(ctx context.Context, entry domain.IndexEntry) error {
	s.mu.Lock()
	s.puts++
	if s.rejectDocs[entry.DocumentID] {
		s.mu.Unlock()
		return errors.New("disk quota exceeded")
	}
	if s.putFailures > 0 {
		s.putFailures--
		s.mu.Unlock()
		return errors.Join(domain.ErrStoreUnavailable, errors.New("connection reset"))
	}
	s.mu.Unlock()
	return s.VectorStore.Put(ctx, entry)
}

func (s *flakyStore) Fingerprints(ctx context.Context, project string, exclude []string) ([]domain.StoredFingerprint, error) {
	s.mu.Lock()
	if s.alwaysFailFP || s.fpFailures > 0 {
		s.fpFailures--
		s.mu.Unlock()
		return nil, domain.ErrStoreUnavailable
	}
	s.mu.Unlock()
	return s.VectorStore.Fingerprints(ctx, project, exclude)
}

func (s *flakyStore) Query(ctx context.Context, vector []float32, k int, predicate domain.Predicate) ([]domain.Hit, error) {
	s.mu.Lock()
	s.queryCalls++
	s.queryLimits = append(s.queryLimits, k)
	err := s.queryErr
	cancel := s.cancelOnQuery
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return s.VectorStore.Query(ctx, vector, k, predicate)
}

// memorySettingsStore is an in-memory SettingsStore.
type memorySettingsStore struct {
	settings domain.Settings
	saved    int
	loadErr  error
}

var _ driven.SettingsStore = (*memorySettingsStore)(nil)

func (s *memorySettingsStore) Load() (domain.Settings, error) {
	if s.loadErr != nil {
		return domain.Settings{}, s.loadErr
	}
	return s.settings, nil
}

func (s *memorySettingsStore) Save(settings domain.Settings) error {
	s.settings = settings
	s.saved++
	return nil
}

func (s *memorySettingsStore) Path() string { return "/tmp/jarvis/config.toml" }
