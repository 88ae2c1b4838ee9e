package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/logger"
)

// Embedder turns passage texts into vectors through an EmbeddingService.
// It batches texts, bounds the number of batches in flight across every
// caller, rate-limits provider calls and retries transient failures.
//
// An Embedder is safe for concurrent use and is meant to be shared by the
// ingest and retrieval services.
type Embedder struct {
	service   driven.EmbeddingService
	batchSize int
	timeout   time.Duration
	retry     domain.RetrySettings

	inFlight *semaphore.Weighted
	limiter  *rate.Limiter

	// dims is the vector size, fixed by the service or by the first
	// response when the service does not declare one.
	dims atomic.Int64

	cacheMu sync.Mutex
	cache   *lru.Cache[string, []float32]
}

// NewEmbedder creates an embedder for service. A cacheSize of zero disables
// the query embedding cache.
func NewEmbedder(
	service driven.EmbeddingService,
	settings domain.EmbeddingSettings,
	retrySettings domain.RetrySettings,
	cacheSize int,
) (*Embedder, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: embedding service is required", domain.ErrInvalidInput)
	}

	batchSize := settings.BatchSize
	if batchSize <= 0 {
		batchSize = domain.DefaultSettings().Embedding.BatchSize
	}
	maxInFlight := settings.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = domain.DefaultSettings().Embedding.MaxInFlight
	}

	e := &Embedder{
		service:   service,
		batchSize: batchSize,
		timeout:   settings.Timeout.Duration,
		retry:     retrySettings,
		inFlight:  semaphore.NewWeighted(int64(maxInFlight)),
	}
	if settings.RequestsPerSecond > 0 {
		burst := max(1, int(settings.RequestsPerSecond))
		e.limiter = rate.NewLimiter(rate.Limit(settings.RequestsPerSecond), burst)
	}
	if dims := service.Dimensions(); dims > 0 {
		e.dims.Store(int64(dims))
	}
	if cacheSize > 0 {
		cache, err := lru.New[string, []float32](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create query cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// Dimensions returns the vector size, or 0 if it is not known yet.
func (e *Embedder) Dimensions() int {
	return int(e.dims.Load())
}

// ModelName returns the underlying model name.
func (e *Embedder) ModelName() string {
	return e.service.ModelName()
}

// EmbedPassages returns one vector per text, in input order. Batches run
// concurrently up to the in-flight bound. It fails with
// domain.ErrEmbeddingService when a batch exhausts its retries or the
// provider returns a malformed response.
func (e *Embedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vectors, err := e.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return out, nil
}

// EmbedQuery embeds a single query text, serving repeats from the cache.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cached(text); ok {
		logger.Debug("query embedding cache hit")
		return v, nil
	}

	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	v := vectors[0]

	if e.cache != nil {
		e.cacheMu.Lock()
		e.cache.Add(text, slices.Clone(v))
		e.cacheMu.Unlock()
	}
	return v, nil
}

func (e *Embedder) cached(text string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	v, ok := e.cache.Get(text)
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// embedBatch makes one logical provider call for texts, holding an
// in-flight slot for its whole duration including retries.
func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.inFlight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.inFlight.Release(1)

	var vectors [][]float32
	attempt := 0
	err := retry.Do(ctx, newBackoff(e.retry), func(ctx context.Context) error {
		attempt++
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		callCtx, cancel := withTimeout(ctx, e.timeout)
		defer cancel()

		result, err := e.service.EmbedBatch(callCtx, texts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Debug("embedding batch of %d failed (attempt %d): %v", len(texts), attempt, err)
			if errors.Is(err, domain.ErrInvalidInput) {
				return err
			}
			return retry.RetryableError(err)
		}

		if err := e.check(texts, result); err != nil {
			return err
		}
		vectors = result
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, domain.ErrEmbeddingService) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s after %d attempt(s): %w", domain.ErrEmbeddingService, e.service.ModelName(), attempt, err)
	}
	return vectors, nil
}

// check validates the vector count and sizes of a provider response.
func (e *Embedder) check(texts []string, vectors [][]float32) error {
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: provider returned %d vectors for %d texts",
			domain.ErrEmbeddingService, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: provider returned an empty vector at %d", domain.ErrEmbeddingService, i)
		}
		if e.dims.CompareAndSwap(0, int64(len(v))) {
			continue
		}
		if want := e.dims.Load(); int64(len(v)) != want {
			return fmt.Errorf("%w: %w: got %d, want %d",
				domain.ErrEmbeddingService, domain.ErrDimensionMismatch, len(v), want)
		}
	}
	return nil
}
