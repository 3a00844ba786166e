// Package store persists ingest jobs, work items and production records in
// SQLite. All idempotency the pipeline relies on (get-or-create, dedup
// staging, insert-if-absent promotion) is enforced here with unique indexes,
// not with in-process locking.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/docuvault/ingest/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped when schema.sql changes.
const schemaVersion = 1

// timeLayout is fixed-width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// JobStore is the job persistence contract consumed by the orchestrator and
// the delivery policy.
type JobStore interface {
	GetOrCreateJob(ctx context.Context, msg models.IngestMessage) (models.IngestJob, error)
	GetJob(ctx context.Context, jobID string) (models.IngestJob, error)
	GetJobByCorrelation(ctx context.Context, correlationID string) (models.IngestJob, error)
	MarkJobStarted(ctx context.Context, jobID string) error
	MarkJobFailed(ctx context.Context, jobID, reason string) error
	FinalizeJob(ctx context.Context, jobID string) (models.IngestJob, error)
	SyncTotalDocuments(ctx context.Context, jobID string) (int, error)
	IncrementJobCounters(ctx context.Context, jobID string, success bool) error
}

// WorkItemStore is the staged-document contract consumed by the stagers and
// the document processing engine.
type WorkItemStore interface {
	StageItems(ctx context.Context, items []models.WorkItem) (int, error)
	ClaimPending(ctx context.Context, jobID string, limit int, lease time.Duration, includeFailed bool) ([]models.WorkItem, error)
	MarkItemSucceeded(ctx context.Context, itemID string) error
	MarkItemFailed(ctx context.Context, itemID, errText string) error
	ItemsByStatus(ctx context.Context, jobID string, status models.ItemStatus) ([]models.WorkItem, error)
}

// ProductionStore records promoted documents.
type ProductionStore interface {
	InsertProductionRecord(ctx context.Context, rec models.ProductionRecord) (bool, error)
	GetProductionRecord(ctx context.Context, jobID, fileGUID string) (models.ProductionRecord, error)
}

// Store implements all three contracts on one SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

var (
	_ JobStore        = (*Store)(nil)
	_ WorkItemStore   = (*Store)(nil)
	_ ProductionStore = (*Store)(nil)
)

// Open initializes or connects to the database and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("ensure db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var version int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("schema version mismatch: database has %d, expected %d", version, schemaVersion)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableTime(v sql.NullString) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return parseTime(v.String)
}
