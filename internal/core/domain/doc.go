// Package domain defines the core entities of the Jarvis ingestion and
// retrieval pipeline.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: A raw source unit handed over by a fetcher
//   - CanonicalDocument: Normalised UTF-8 text plus structural metadata
//   - Passage: A bounded, overlapping chunk of canonical text
//   - Metadata: A validated metadata record attached to a passage
//   - IndexEntry: A stored (passage id, vector, metadata) triple
//   - Settings: The configuration object passed to every component
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
