package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docuvault/ingest/internal/models"
)

// ErrRecordNotFound is returned when no production record exists for the
// (job id, file guid) pair.
var ErrRecordNotFound = errors.New("production record not found")

// InsertProductionRecord records a promoted document. The unique index on
// (job_id, file_guid) makes promotion idempotent: a record that already
// exists is left untouched and inserted=false is returned.
func (s *Store) InsertProductionRecord(ctx context.Context, rec models.ProductionRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin production tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO production_records (id, job_id, file_guid, location, extension, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, file_guid) DO NOTHING`,
		id, rec.JobID, rec.FileGUID, rec.Location, rec.Extension,
		formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("insert production record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	for key, value := range rec.Tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO production_record_tags (id, record_id, tag_key, tag_value)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (record_id, tag_key) DO NOTHING`,
			uuid.NewString(), id, key, value,
		); err != nil {
			return false, fmt.Errorf("insert production tag %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit production tx: %w", err)
	}
	return true, nil
}

// GetProductionRecord loads the record for (job id, file guid), including its
// tag set.
func (s *Store) GetProductionRecord(ctx context.Context, jobID, fileGUID string) (models.ProductionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, file_guid, location, extension, created_at
		FROM production_records WHERE job_id = ? AND file_guid = ?`,
		jobID, fileGUID,
	)

	var (
		rec     models.ProductionRecord
		created string
	)
	err := row.Scan(&rec.ID, &rec.JobID, &rec.FileGUID, &rec.Location, &rec.Extension, &created)
	if err == sql.ErrNoRows {
		return models.ProductionRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return models.ProductionRecord{}, fmt.Errorf("scan production record: %w", err)
	}
	rec.CreatedAt = parseTime(created)

	rows, err := s.db.QueryContext(ctx, `
		SELECT tag_key, tag_value FROM production_record_tags WHERE record_id = ?`,
		rec.ID,
	)
	if err != nil {
		return models.ProductionRecord{}, fmt.Errorf("query production tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return models.ProductionRecord{}, fmt.Errorf("scan production tag: %w", err)
		}
		if rec.Tags == nil {
			rec.Tags = make(map[string]string)
		}
		rec.Tags[key] = value
	}
	if err := rows.Err(); err != nil {
		return models.ProductionRecord{}, fmt.Errorf("iterate production tags: %w", err)
	}
	return rec, nil
}
