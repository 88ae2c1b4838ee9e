// Package services implements the driving port interfaces.
//
// The ingest orchestrator runs the write path (normalise, validate
// metadata, chunk, deduplicate, embed, store) and the retrieval
// orchestrator runs the read path. Both share one Embedder, which owns
// batching, concurrency limits, rate limiting and retries for the
// embedding provider. Services depend only on domain types and driven
// ports.
package services
