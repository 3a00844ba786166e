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

// ErrJobNotFound is returned when a job id or correlation id is unknown.
var ErrJobNotFound = errors.New("ingest job not found")

const jobColumns = `id, correlation_id, client_id, source_path, country, app_name,
	status, failure_reason, total_documents, success_documents, failed_documents,
	created_at, started_at, completed_at`

// GetOrCreateJob returns the job for the message's correlation id, creating
// it if absent. The unique index on correlation_id makes concurrent and
// repeated calls converge on one row. Descriptive fields left empty by a
// prior partial message are backfilled; non-empty values are never
// overwritten.
func (s *Store) GetOrCreateJob(ctx context.Context, msg models.IngestMessage) (models.IngestJob, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_jobs (id, correlation_id, client_id, source_path, country, app_name, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (correlation_id) DO NOTHING`,
		uuid.NewString(),
		msg.CorrelationID,
		msg.ClientID,
		msg.ArchivePath,
		msg.Country,
		msg.AppName,
		models.JobPending,
		formatTime(time.Now()),
	)
	if err != nil {
		return models.IngestJob{}, fmt.Errorf("insert job: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE ingest_jobs SET
			client_id   = CASE WHEN client_id = ''   THEN ? ELSE client_id END,
			source_path = CASE WHEN source_path = '' THEN ? ELSE source_path END,
			country     = CASE WHEN country = ''     THEN ? ELSE country END,
			app_name    = CASE WHEN app_name = ''    THEN ? ELSE app_name END
		WHERE correlation_id = ?`,
		msg.ClientID, msg.ArchivePath, msg.Country, msg.AppName, msg.CorrelationID,
	)
	if err != nil {
		return models.IngestJob{}, fmt.Errorf("backfill job fields: %w", err)
	}

	return s.GetJobByCorrelation(ctx, msg.CorrelationID)
}

// GetJob loads a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (models.IngestJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

// GetJobByCorrelation loads a job by correlation id.
func (s *Store) GetJobByCorrelation(ctx context.Context, correlationID string) (models.IngestJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs WHERE correlation_id = ?`, correlationID)
	return scanJob(row)
}

// MarkJobStarted moves a job to Processing and sets started_at at most once.
// A Failed job restarts when its message redelivers, clearing the failure
// fields from the prior attempt. Completed jobs are left untouched.
func (s *Store) MarkJobStarted(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_jobs
		SET status = ?, started_at = COALESCE(started_at, ?),
		    failure_reason = '', completed_at = NULL
		WHERE id = ? AND status IN (?, ?, ?)`,
		models.JobProcessing,
		formatTime(time.Now()),
		jobID,
		models.JobPending, models.JobProcessing, models.JobFailed,
	)
	if err != nil {
		return fmt.Errorf("mark job started: %w", err)
	}
	return nil
}

// MarkJobFailed terminates a job as Failed with the given reason. A job
// already in a terminal state is left untouched.
func (s *Store) MarkJobFailed(ctx context.Context, jobID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_jobs
		SET status = ?, failure_reason = ?, completed_at = COALESCE(completed_at, ?)
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		models.JobFailed,
		reason,
		formatTime(time.Now()),
		jobID,
		models.JobCompleted, models.JobCompletedWithErrors, models.JobFailed,
	)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// FinalizeJob closes out a non-terminal job: Completed when no documents
// failed, CompletedWithErrors otherwise. The counters are reconciled from the
// work item rows first, so an item that failed on one attempt and succeeded
// on a later one counts once, as a success.
func (s *Store) FinalizeJob(ctx context.Context, jobID string) (models.IngestJob, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_jobs
		SET total_documents = (SELECT COUNT(*) FROM work_items WHERE job_id = ingest_jobs.id),
		    success_documents = (SELECT COUNT(*) FROM work_items WHERE job_id = ingest_jobs.id AND status = ?),
		    failed_documents = (SELECT COUNT(*) FROM work_items WHERE job_id = ingest_jobs.id AND status = ?)
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		models.ItemSucceeded, models.ItemFailed,
		jobID,
		models.JobCompleted, models.JobCompletedWithErrors, models.JobFailed,
	)
	if err != nil {
		return models.IngestJob{}, fmt.Errorf("reconcile job counters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE ingest_jobs
		SET status = CASE WHEN failed_documents = 0 THEN ? ELSE ? END,
		    failure_reason = CASE WHEN failed_documents = 0 THEN failure_reason
		        ELSE CAST(failed_documents AS TEXT) || ' documents failed' END,
		    completed_at = COALESCE(completed_at, ?)
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		models.JobCompleted, models.JobCompletedWithErrors,
		formatTime(time.Now()),
		jobID,
		models.JobCompleted, models.JobCompletedWithErrors, models.JobFailed,
	)
	if err != nil {
		return models.IngestJob{}, fmt.Errorf("finalize job: %w", err)
	}
	return s.GetJob(ctx, jobID)
}

// SyncTotalDocuments sets the job's total to the number of staged work
// items and returns it. Deriving the total from the item rows themselves
// keeps it correct when staging is re-run after an interrupted attempt that
// committed the items but never recorded the count.
func (s *Store) SyncTotalDocuments(ctx context.Context, jobID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM work_items WHERE job_id = ?`, jobID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count work items: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE ingest_jobs SET total_documents = ? WHERE id = ?`,
		total, jobID,
	); err != nil {
		return 0, fmt.Errorf("sync total documents: %w", err)
	}
	return total, nil
}

// IncrementJobCounters bumps the success or failed counter by one. The update
// is a single serialized statement, so concurrent workers never lose
// increments, and the guard keeps success+failed from exceeding total.
func (s *Store) IncrementJobCounters(ctx context.Context, jobID string, success bool) error {
	column := "failed_documents"
	if success {
		column = "success_documents"
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_jobs SET `+column+` = `+column+` + 1
		WHERE id = ? AND success_documents + failed_documents < total_documents`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("increment job counters: %w", err)
	}
	return nil
}

func scanJob(row *sql.Row) (models.IngestJob, error) {
	var (
		job                models.IngestJob
		status             string
		created            string
		started, completed sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.CorrelationID, &job.ClientID, &job.SourcePath,
		&job.Country, &job.AppName, &status, &job.FailureReason,
		&job.TotalDocuments, &job.SuccessDocuments, &job.FailedDocuments,
		&created, &started, &completed,
	)
	if err == sql.ErrNoRows {
		return models.IngestJob{}, ErrJobNotFound
	}
	if err != nil {
		return models.IngestJob{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = models.JobStatus(status)
	job.CreatedAt = parseTime(created)
	job.StartedAt = nullableTime(started)
	job.CompletedAt = nullableTime(completed)
	return job, nil
}
