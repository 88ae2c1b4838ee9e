// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - Normaliser: Extracts canonical text from one content type
//   - NormaliserRegistry: Runs the extraction fallback chain
//   - EmbeddingService: Maps text to fixed-dimension vectors
//   - VectorStore: Persists index entries and answers nearest-neighbour queries
//   - PostProcessor: Turns canonical text into passages
//
// # Optional Interfaces
//
// These are only needed by the driving adapters:
//
//   - Fetcher: Produces documents from a source (filesystem, ...)
//   - SettingsStore: Loads and saves the settings file
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, fetcher, or normaliser package
package driven
