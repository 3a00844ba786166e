package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/docuvault/ingest/internal/models"
)

// StageItems bulk-inserts work items, deduplicating on (job_id, file_guid) so
// re-staging the same descriptor is a no-op for already-known documents.
// Returns the number of newly staged items.
func (s *Store) StageItems(ctx context.Context, items []models.WorkItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin staging tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	staged := 0
	for _, item := range items {
		tags, err := encodeTags(item.Tags)
		if err != nil {
			return 0, err
		}
		id := item.ID
		if id == "" {
			id = uuid.NewString()
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO work_items (id, job_id, file_guid, filepath, extension, doc_type, tags, status, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (job_id, file_guid) DO NOTHING`,
			id, item.JobID, item.FileGUID, item.Filepath, item.Extension,
			item.DocType, tags, models.ItemPending, now,
		)
		if err != nil {
			return 0, fmt.Errorf("stage item %s: %w", item.FileGUID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		staged += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit staging tx: %w", err)
	}
	return staged, nil
}

// ClaimPending fetches up to limit processable items for the job in insertion
// order and marks each one Processing before returning it. Eligible rows are
// Pending rows, Processing rows whose lease has expired (a prior run died
// mid-item), and, when includeFailed is set, previously Failed rows. The
// per-row claim is a compare-and-set on (status, last_updated), so two
// engines never claim the same row.
func (s *Store) ClaimPending(ctx context.Context, jobID string, limit int, lease time.Duration, includeFailed bool) ([]models.WorkItem, error) {
	cutoff := formatTime(time.Now().Add(-lease))

	eligible := sq.Or{
		sq.Eq{"status": models.ItemPending},
		sq.And{
			sq.Eq{"status": models.ItemProcessing},
			sq.Lt{"last_updated": cutoff},
		},
	}
	if includeFailed {
		// The cutoff also applies here, so an item that fails again does not
		// get re-claimed within the same engine run.
		eligible = append(eligible, sq.And{
			sq.Eq{"status": models.ItemFailed},
			sq.Lt{"last_updated": cutoff},
		})
	}

	query, args, err := sq.
		Select("id", "job_id", "file_guid", "filepath", "extension", "doc_type", "tags", "status", "error", "last_updated").
		From("work_items").
		Where(sq.And{sq.Eq{"job_id": jobID}, eligible}).
		OrderBy("rowid").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query claimable items: %w", err)
	}
	candidates, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	claimed := make([]models.WorkItem, 0, len(candidates))
	for _, item := range candidates {
		now := time.Now()
		res, err := s.db.ExecContext(ctx, `
			UPDATE work_items SET status = ?, last_updated = ?
			WHERE id = ? AND status = ? AND last_updated = ?`,
			models.ItemProcessing, formatTime(now),
			item.ID, item.Status, formatTime(item.LastUpdated),
		)
		if err != nil {
			return nil, fmt.Errorf("claim item %s: %w", item.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			// Lost the race to another claimer; skip.
			continue
		}
		item.Status = models.ItemProcessing
		item.LastUpdated = now
		claimed = append(claimed, item)
	}
	return claimed, nil
}

// MarkItemSucceeded moves an item to its terminal Succeeded state.
func (s *Store) MarkItemSucceeded(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE work_items SET status = ?, error = '', last_updated = ? WHERE id = ?`,
		models.ItemSucceeded, formatTime(time.Now()), itemID,
	)
	if err != nil {
		return fmt.Errorf("mark item succeeded: %w", err)
	}
	return nil
}

// MarkItemFailed moves an item to Failed and records the error text.
func (s *Store) MarkItemFailed(ctx context.Context, itemID, errText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE work_items SET status = ?, error = ?, last_updated = ? WHERE id = ?`,
		models.ItemFailed, errText, formatTime(time.Now()), itemID,
	)
	if err != nil {
		return fmt.Errorf("mark item failed: %w", err)
	}
	return nil
}

// ItemsByStatus returns a job's items in the given status, in insertion order.
func (s *Store) ItemsByStatus(ctx context.Context, jobID string, status models.ItemStatus) ([]models.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, file_guid, filepath, extension, doc_type, tags, status, error, last_updated
		FROM work_items WHERE job_id = ? AND status = ? ORDER BY rowid`,
		jobID, status,
	)
	if err != nil {
		return nil, fmt.Errorf("query items by status: %w", err)
	}
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]models.WorkItem, error) {
	defer func() { _ = rows.Close() }()

	var items []models.WorkItem
	for rows.Next() {
		var (
			item    models.WorkItem
			tags    string
			status  string
			updated string
		)
		if err := rows.Scan(
			&item.ID, &item.JobID, &item.FileGUID, &item.Filepath,
			&item.Extension, &item.DocType, &tags, &status, &item.Error, &updated,
		); err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		decoded, err := decodeTags(tags)
		if err != nil {
			return nil, err
		}
		item.Tags = decoded
		item.Status = models.ItemStatus(status)
		item.LastUpdated = parseTime(updated)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work items: %w", err)
	}
	return items, nil
}

func encodeTags(tags map[string]string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(raw), nil
}

func decodeTags(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var tags map[string]string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}
