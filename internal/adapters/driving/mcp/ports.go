package mcp

import (
	"github.com/custodia-labs/jarvis/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Retrieval answers queries.
	Retrieval driving.RetrievalService

	// Ingest stores text sent by the assistant. Optional; the ingest_text
	// tool is only registered when set.
	Ingest driving.IngestService

	// Settings exposes the effective configuration. Optional.
	Settings driving.SettingsService

	// Fetchers lists the registered fetchers. Optional.
	Fetchers driving.FetcherRegistry
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p == nil || p.Retrieval == nil {
		return ErrMissingRetrievalService
	}
	return nil
}
