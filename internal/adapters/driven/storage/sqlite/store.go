package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/jarvis/internal/adapters/driven/storage"
	"github.com/custodia-labs/jarvis/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driven"
)

// DatabaseFile is the database file name inside the data directory.
const DatabaseFile = "jarvis.db"

// Ensure Store implements the interface.
var _ driven.VectorStore = (*Store)(nil)

// Store is a SQLite-backed vector store.
type Store struct {
	db     *sql.DB
	path   string
	metric domain.DistanceMetric
	closed atomic.Bool
}

// NewStore creates a new SQLite store in the specified data directory.
// If dataDir is empty, defaults to ~/.jarvis/data.
func NewStore(dataDir string, metric domain.DistanceMetric) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".jarvis", "data")
	}
	if metric == "" {
		metric = domain.MetricCosine
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %w", domain.ErrStoreUnavailable, err)
	}

	s := &Store{
		db:     db,
		path:   dbPath,
		metric: metric,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations, each in its own transaction.
func (s *Store) migrate(fsys embed.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	// Find all up migrations
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_entries.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}
		if version <= currentVersion {
			continue // Already applied
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if err := s.apply(version, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

func (s *Store) apply(version int, content string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(content); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return err
	}
	return tx.Commit()
}

// Put upserts an entry. The insertion sequence and creation time of an
// existing entry are kept.
func (s *Store) Put(ctx context.Context, entry domain.IndexEntry) error {
	if entry.PassageID == "" {
		return fmt.Errorf("%w: passage id is required", domain.ErrInvalidInput)
	}
	if len(entry.Vector) == 0 {
		return fmt.Errorf("%w: entry %s has no vector", domain.ErrInvalidInput, entry.PassageID)
	}
	if s.closed.Load() {
		return domain.ErrStoreUnavailable
	}

	var dims int
	err := s.db.QueryRowContext(ctx, "SELECT dims FROM entries LIMIT 1").Scan(&dims)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return wrapErr("checking dimensions", err)
	case dims != len(entry.Vector):
		return fmt.Errorf("%w: entry %s has %d dimensions, store has %d",
			domain.ErrDimensionMismatch, entry.PassageID, len(entry.Vector), dims)
	}

	metadata, err := storage.EncodeMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (passage_id, document_id, project, origin, ordinal, text,
			fingerprint, dims, vector, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(passage_id) DO UPDATE SET
			document_id = excluded.document_id,
			project = excluded.project,
			origin = excluded.origin,
			ordinal = excluded.ordinal,
			text = excluded.text,
			fingerprint = excluded.fingerprint,
			dims = excluded.dims,
			vector = excluded.vector,
			metadata = excluded.metadata
	`, entry.PassageID, entry.DocumentID, entry.Metadata.Project(), entry.Origin, entry.Ordinal, entry.Text,
		int64(entry.Fingerprint), len(entry.Vector), float32SliceToBytes(entry.Vector), string(metadata),
		createdAt.UnixNano())
	if err != nil {
		return wrapErr("saving entry", err)
	}
	return nil
}

// Query returns the k nearest entries matching predicate.
func (s *Store) Query(ctx context.Context, vector []float32, k int, predicate domain.Predicate) ([]domain.Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}
	if s.closed.Load() {
		return nil, domain.ErrStoreUnavailable
	}

	query := `SELECT seq, passage_id, document_id, origin, ordinal, text, fingerprint, vector, metadata, created_at
		FROM entries`
	var args []any
	if project, ok := predicate.Equals[domain.KeyProject]; ok {
		query += " WHERE project = ?"
		args = append(args, project)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("querying entries", err)
	}
	defer rows.Close()

	var candidates []storage.Candidate
	for rows.Next() {
		entry, seq, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if !predicate.Matches(entry.Metadata) {
			continue
		}
		d, err := storage.Distance(s.metric, vector, entry.Vector)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, storage.Candidate{
			Hit: domain.Hit{Entry: entry, Distance: d},
			Seq: seq,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating entries", err)
	}

	return storage.TopK(candidates, k), nil
}

// DeleteByDocument removes the document's entries in project ("" = all).
func (s *Store) DeleteByDocument(ctx context.Context, project, documentID string) (int, error) {
	if project == "" {
		return s.delete(ctx, "DELETE FROM entries WHERE document_id = ?", documentID)
	}
	return s.delete(ctx, "DELETE FROM entries WHERE document_id = ? AND project = ?", documentID, project)
}

// DeleteByProject removes every entry in the project.
func (s *Store) DeleteByProject(ctx context.Context, project string) (int, error) {
	return s.delete(ctx, "DELETE FROM entries WHERE project = ?", project)
}

func (s *Store) delete(ctx context.Context, query string, args ...any) (int, error) {
	if s.closed.Load() {
		return 0, domain.ErrStoreUnavailable
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapErr("deleting entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("counting deleted entries", err)
	}
	return int(n), nil
}

// Fingerprints returns the project's fingerprints in insertion order,
// skipping the excluded documents.
func (s *Store) Fingerprints(ctx context.Context, project string, exclude []string) ([]domain.StoredFingerprint, error) {
	if s.closed.Load() {
		return nil, domain.ErrStoreUnavailable
	}

	query := "SELECT passage_id, document_id, fingerprint FROM entries WHERE project = ?"
	args := []any{project}
	if len(exclude) > 0 {
		query += " AND document_id NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(exclude)), ",") + ")"
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("querying fingerprints", err)
	}
	defer rows.Close()

	var out []domain.StoredFingerprint
	for rows.Next() {
		var fp domain.StoredFingerprint
		var bits int64
		if err := rows.Scan(&fp.PassageID, &fp.DocumentID, &bits); err != nil {
			return nil, fmt.Errorf("scanning fingerprint: %w", err)
		}
		fp.Fingerprint = domain.Fingerprint(uint64(bits))
		out = append(out, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating fingerprints", err)
	}
	return out, nil
}

// Count returns the number of entries in the project ("" = all).
func (s *Store) Count(ctx context.Context, project string) (int, error) {
	if s.closed.Load() {
		return 0, domain.ErrStoreUnavailable
	}

	var (
		n   int
		err error
	)
	if project == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE project = ?", project).Scan(&n)
	}
	if err != nil {
		return 0, wrapErr("counting entries", err)
	}
	return n, nil
}

// ==================== Helper Functions ====================

// scanEntry scans an entry row and its insertion sequence.
func scanEntry(rows *sql.Rows) (domain.IndexEntry, int64, error) {
	var (
		entry        domain.IndexEntry
		seq          int64
		bits         int64
		vectorBlob   []byte
		metadataJSON string
		createdAt    int64
	)
	if err := rows.Scan(&seq, &entry.PassageID, &entry.DocumentID, &entry.Origin, &entry.Ordinal,
		&entry.Text, &bits, &vectorBlob, &metadataJSON, &createdAt); err != nil {
		return entry, 0, fmt.Errorf("scanning entry: %w", err)
	}

	metadata, err := storage.DecodeMetadata([]byte(metadataJSON))
	if err != nil {
		return entry, 0, err
	}
	entry.Metadata = metadata
	entry.Fingerprint = domain.Fingerprint(uint64(bits))
	entry.Vector = bytesToFloat32Slice(vectorBlob)
	entry.CreatedAt = time.Unix(0, createdAt).UTC()
	return entry, seq, nil
}

// wrapErr adds context to a database error, marking connection-level
// failures as domain.ErrStoreUnavailable.
func wrapErr(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"database is closed", "database is locked", "SQLITE_BUSY", "unable to open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
