package driving

import (
	"context"

	"github.com/custodia-labs/jarvis/internal/core/domain"
)

// IngestService runs the write path.
type IngestService interface {
	// Ingest processes a batch of documents. Per-document failures are
	// recorded in the summary; the returned error is reserved for invalid
	// requests and cancellation.
	Ingest(ctx context.Context, req domain.IngestRequest) (*domain.IngestSummary, error)

	// DeleteDocument removes the entries derived from the document in the
	// project ("" = every project).
	DeleteDocument(ctx context.Context, project, documentID string) (int, error)

	// DeleteProject removes every entry in the project namespace.
	DeleteProject(ctx context.Context, project string) (int, error)

	// Status returns the state of the current or most recent run.
	Status() IngestStatus
}

// IngestStatus represents the current state of ingestion.
type IngestStatus struct {
	// Running indicates if a run is currently in progress.
	Running bool

	// RunID identifies the current or most recent run.
	RunID string

	// DocumentsProcessed is the count of documents finished in the run.
	DocumentsProcessed int

	// ErrorCount is the number of failed documents in the run.
	ErrorCount int
}
