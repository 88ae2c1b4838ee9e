// Package sqlite provides a SQLite-backed implementation of driven.VectorStore.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation.
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
// Vectors are stored as little-endian float32 blobs; metadata as JSON.
//
// # Queries
//
// Entries are filtered by project in SQL and scored in Go, so query cost is
// linear in the number of entries in the project.
//
// # Data Location
//
// By default, the database is stored at ~/.jarvis/data/jarvis.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking provided
// by SQLite in WAL mode. Each upsert is a single statement.
package sqlite
