package driving

import "github.com/custodia-labs/jarvis/internal/core/ports/driven"

// FetcherRegistry holds named fetcher implementations so new sources can
// be added without modifying the core.
type FetcherRegistry interface {
	// Register adds a fetcher. Names must be unique.
	Register(fetcher driven.Fetcher) error

	// Get returns the fetcher registered under name.
	Get(name string) (driven.Fetcher, error)

	// Names returns registered fetcher names in sorted order.
	Names() []string
}
