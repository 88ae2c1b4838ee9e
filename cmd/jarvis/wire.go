package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/jarvis/internal/adapters/driven/ai"
	"github.com/custodia-labs/jarvis/internal/adapters/driven/config/file"
	"github.com/custodia-labs/jarvis/internal/adapters/driven/fetchers/filesystem"
	"github.com/custodia-labs/jarvis/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/jarvis/internal/adapters/driven/storage/qdrant"
	"github.com/custodia-labs/jarvis/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/jarvis/internal/adapters/driving/cli"
	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/core/ports/driving"
	"github.com/custodia-labs/jarvis/internal/core/services"
	"github.com/custodia-labs/jarvis/internal/dedup"
	"github.com/custodia-labs/jarvis/internal/logger"
	"github.com/custodia-labs/jarvis/internal/metadata"
	"github.com/custodia-labs/jarvis/internal/normalisers"
	"github.com/custodia-labs/jarvis/internal/normalisers/docx"
	"github.com/custodia-labs/jarvis/internal/normalisers/html"
	"github.com/custodia-labs/jarvis/internal/normalisers/markdown"
	"github.com/custodia-labs/jarvis/internal/normalisers/pdf"
	"github.com/custodia-labs/jarvis/internal/normalisers/plaintext"
	"github.com/custodia-labs/jarvis/internal/postprocessors"
)

func newSettingsService(path string) (driving.SettingsService, error) {
	store, err := file.NewSettingsStore(path)
	if err != nil {
		return nil, err
	}
	return services.NewSettingsService(store), nil
}

func validateEmbedding(ctx context.Context, settings domain.EmbeddingSettings) error {
	svc, err := ai.CreateAndValidateEmbeddingService(ctx, settings)
	if err != nil {
		return err
	}
	return svc.Close()
}

// newServices builds the ingest and retrieval pipelines from settings.
func newServices(_ context.Context, settings domain.Settings) (*cli.Services, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	pipeline, err := postprocessors.NewFromSettings(newPostProcessorRegistry(), settings.Chunk)
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}
	deduplicator, err := dedup.New(settings.Dedup.Threshold)
	if err != nil {
		return nil, fmt.Errorf("deduplicator: %w", err)
	}

	embedding, err := ai.CreateEmbeddingService(settings.Embedding)
	if err != nil {
		return nil, err
	}
	embedder, err := services.NewEmbedder(embedding, settings.Embedding, settings.Retry, settings.Retrieval.QueryCacheSize)
	if err != nil {
		_ = embedding.Close()
		return nil, err
	}

	store, err := newVectorStore(settings)
	if err != nil {
		_ = embedding.Close()
		return nil, err
	}

	fs := filesystem.New()
	fetchers, err := services.NewFetcherRegistry(fs)
	if err != nil {
		_ = store.Close()
		_ = embedding.Close()
		return nil, err
	}

	logger.Debug("Services ready: embedding=%s store=%s", embedding.ModelName(), settings.Store.Backend)

	return &cli.Services{
		Ingest: services.NewIngestOrchestrator(
			newNormaliserRegistry(settings.Normaliser.MinTextLength),
			metadata.NewFromSettings(settings.Metadata),
			pipeline,
			deduplicator,
			embedder,
			store,
			settings,
		),
		Retrieval: services.NewRetrievalOrchestrator(embedder, store, settings),
		Fetchers:  fetchers,
		Watcher:   fs,
		Close: func() error {
			return errors.Join(store.Close(), embedding.Close())
		},
	}, nil
}

// newNormaliserRegistry registers every built-in normaliser. pdftotext is
// preferred over the native PDF reader when it is installed.
func newNormaliserRegistry(minTextLength int) *normalisers.Registry {
	r := normalisers.NewRegistry(minTextLength)
	r.Register(plaintext.New())
	r.Register(markdown.New())
	r.Register(html.NewDOM())
	r.Register(html.New())
	r.Register(docx.New())
	r.Register(pdf.NewNative())
	if err := pdf.CheckAvailable(); err == nil {
		r.Register(pdf.New())
	} else {
		logger.Debug("PDF: %v, using native reader", err)
	}
	return r
}

func newPostProcessorRegistry() *postprocessors.Registry {
	r := postprocessors.NewRegistry()
	postprocessors.RegisterDefaults(r)
	return r
}

func newVectorStore(settings domain.Settings) (driven.VectorStore, error) {
	s := settings.Store
	switch s.Backend {
	case domain.StoreMemory:
		return memory.NewVectorStore(s.Metric), nil
	case domain.StoreSQLite:
		store, err := sqlite.NewStore(settings.DataDir, s.Metric)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return store, nil
	case domain.StoreQdrant:
		opts := []qdrant.Option{qdrant.WithTimeout(s.Timeout.Duration)}
		if s.QdrantAPIKey != "" {
			opts = append(opts, qdrant.WithAPIKey(s.QdrantAPIKey))
		}
		return qdrant.NewStore(s.QdrantURL, s.QdrantCollection, s.Metric, opts...)
	default:
		return nil, fmt.Errorf("%w: unsupported store backend: %q", domain.ErrInvalidInput, s.Backend)
	}
}
