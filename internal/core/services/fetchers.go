package services

import (
	"fmt"
	"slices"
	"sync"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
	"github.com/custodia-labs/jarvis/internal/core/ports/driving"
)

// Ensure FetcherRegistry implements the interface.
var _ driving.FetcherRegistry = (*FetcherRegistry)(nil)

// FetcherRegistry holds the fetchers available to the CLI and the watcher.
type FetcherRegistry struct {
	mu       sync.RWMutex
	fetchers map[string]driven.Fetcher
}

// NewFetcherRegistry creates a registry holding fetchers.
func NewFetcherRegistry(fetchers ...driven.Fetcher) (*FetcherRegistry, error) {
	r := &FetcherRegistry{fetchers: make(map[string]driven.Fetcher)}
	for _, f := range fetchers {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a fetcher under its name.
func (r *FetcherRegistry) Register(fetcher driven.Fetcher) error {
	if fetcher == nil || fetcher.Name() == "" {
		return fmt.Errorf("%w: fetcher must have a name", domain.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := fetcher.Name()
	if _, exists := r.fetchers[name]; exists {
		return fmt.Errorf("fetcher %s: %w", name, domain.ErrAlreadyExists)
	}
	r.fetchers[name] = fetcher
	return nil
}

// Get returns the fetcher registered under name.
func (r *FetcherRegistry) Get(name string) (driven.Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.fetchers[name]
	if !ok {
		return nil, fmt.Errorf("fetcher %s: %w", name, domain.ErrNotFound)
	}
	return f, nil
}

// Names returns the registered names in sorted order.
func (r *FetcherRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
