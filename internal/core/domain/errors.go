package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Pipeline error kinds. Components wrap these with context and callers
// match them with errors.Is.
var (
	// ErrUnsupportedFormat indicates no normaliser handles the content type.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrExtractionFailed indicates every extraction strategy failed or
	// produced text below the minimum length threshold.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrInvalidChunkConfig indicates a chunk size <= 0 or an overlap
	// fraction outside [0, 1).
	ErrInvalidChunkConfig = errors.New("invalid chunk config")

	// ErrSchemaViolation indicates metadata failed validation.
	// The concrete error is a *SchemaViolationError listing the keys.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrEmbeddingService indicates the embedding provider failed after
	// retries were exhausted, or returned a malformed response.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrStoreUnavailable indicates the vector store could not be reached.
	// Callers should retry with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNoResults indicates a query ran successfully but matched nothing.
	ErrNoResults = errors.New("no results")

	// ErrQueryError indicates a query failed (embedding or store failure).
	ErrQueryError = errors.New("query error")
)

// General errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch indicates a vector of the wrong length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// SchemaViolationError lists every metadata key that failed validation.
type SchemaViolationError struct {
	// Reasons maps each offending key to a short description.
	Reasons map[string]string
}

// Keys returns the offending keys in sorted order.
func (e *SchemaViolationError) Keys() []string {
	keys := make([]string, 0, len(e.Reasons))
	for k := range e.Reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *SchemaViolationError) Error() string {
	parts := make([]string, 0, len(e.Reasons))
	for _, k := range e.Keys() {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Reasons[k]))
	}
	return fmt.Sprintf("%s: %s", ErrSchemaViolation, strings.Join(parts, "; "))
}

// Unwrap allows errors.Is(err, ErrSchemaViolation).
func (e *SchemaViolationError) Unwrap() error {
	return ErrSchemaViolation
}

// errorKinds is ordered so that the most specific kind wins.
var errorKinds = []struct {
	err  error
	name string
}{
	{ErrUnsupportedFormat, "UnsupportedFormat"},
	{ErrExtractionFailed, "ExtractionFailed"},
	{ErrInvalidChunkConfig, "InvalidChunkConfig"},
	{ErrSchemaViolation, "SchemaViolation"},
	{ErrEmbeddingService, "EmbeddingServiceError"},
	{ErrStoreUnavailable, "StoreUnavailable"},
	{ErrNoResults, "NoResults"},
	{ErrQueryError, "QueryError"},
}

// ErrorKind returns the pipeline error kind name for err, "Cancelled" for
// context errors, "Error" for anything else and "" for nil.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	if isContextError(err) {
		return "Cancelled"
	}
	return "Error"
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
