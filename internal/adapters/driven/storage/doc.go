// Package storage holds the vector store adapters and what they share:
// distance functions and ranking by (distance, insertion order).
//
// Adapters:
//
//   - memory: in-process reference implementation
//   - sqlite: pure Go SQLite file (modernc.org/sqlite) with WAL
//   - qdrant: Qdrant REST API over HTTP
//
// Every adapter passes the property suite in storetest.
package storage
