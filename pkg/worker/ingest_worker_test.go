package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/docuvault/ingest/config"
	"github.com/docuvault/ingest/internal/models"
	"github.com/docuvault/ingest/internal/store"
	"github.com/docuvault/ingest/pkg/logger"
	"github.com/docuvault/ingest/pkg/queue"
)

type stubRunner struct {
	job  models.IngestJob
	err  error
	last models.IngestMessage
}

func (r *stubRunner) Run(_ context.Context, msg models.IngestMessage) (models.IngestJob, error) {
	r.last = msg
	return r.job, r.err
}

func testQueueConfig(maxDelivery int) *config.QueueConfig {
	return &config.QueueConfig{
		RedisAddr:        "localhost:6379",
		Queue:            "ingest",
		MaxDeliveryCount: maxDelivery,
		MaxRenewDuration: time.Minute,
	}
}

func newTestWorker(t *testing.T, cfg *config.QueueConfig, runner Runner) (*IngestWorker, *store.Store) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewIngestWorker(cfg, runner, db, nil, logger.NewTestLogger()), db
}

func ingestTask(t *testing.T, msg models.IngestMessage) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	return asynq.NewTask(queue.TaskTypeArchiveIngest, payload)
}

func TestHandleCompletesOnSuccess(t *testing.T) {
	runner := &stubRunner{job: models.IngestJob{ID: "job-1", CorrelationID: "corr-1", Status: models.JobCompleted}}
	w, _ := newTestWorker(t, testQueueConfig(5), runner)

	msg := models.IngestMessage{CorrelationID: "corr-1", ArchivePath: "/outbound/a.zip"}
	err := w.handleArchiveIngest(context.Background(), ingestTask(t, msg))

	require.NoError(t, err)
	require.Equal(t, msg, runner.last)
}

func TestHandleDeadLettersMalformedPayload(t *testing.T) {
	w, _ := newTestWorker(t, testQueueConfig(5), &stubRunner{})

	task := asynq.NewTask(queue.TaskTypeArchiveIngest, []byte("{not json"))
	err := w.handleArchiveIngest(context.Background(), task)

	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Contains(t, err.Error(), "InvalidMessage")
}

func TestHandleDeadLettersInvalidMessage(t *testing.T) {
	runner := &stubRunner{}
	w, _ := newTestWorker(t, testQueueConfig(5), runner)

	// Well-formed JSON but missing the archive path.
	err := w.handleArchiveIngest(context.Background(),
		ingestTask(t, models.IngestMessage{CorrelationID: "corr-1"}))

	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, runner.last.CorrelationID)
}

func TestHandleRedeliversOnTransientFailure(t *testing.T) {
	runner := &stubRunner{err: errors.New("object store unavailable")}
	w, _ := newTestWorker(t, testQueueConfig(5), runner)

	err := w.handleArchiveIngest(context.Background(),
		ingestTask(t, models.IngestMessage{CorrelationID: "corr-1", ArchivePath: "/outbound/a.zip"}))

	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleDeadLettersAtDeliveryCeiling(t *testing.T) {
	runner := &stubRunner{err: errors.New("object store unavailable")}
	w, db := newTestWorker(t, testQueueConfig(1), runner)

	ctx := context.Background()
	job, err := db.GetOrCreateJob(ctx, models.IngestMessage{
		CorrelationID: "corr-1",
		ArchivePath:   "/outbound/a.zip",
	})
	require.NoError(t, err)

	err = w.handleArchiveIngest(ctx,
		ingestTask(t, models.IngestMessage{CorrelationID: "corr-1", ArchivePath: "/outbound/a.zip"}))

	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Contains(t, err.Error(), "MaxDeliveryExceeded")

	failed, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, failed.Status)
	require.Contains(t, failed.FailureReason, "delivery ceiling")
}

func TestDeliveryCountDefaultsToFirstDelivery(t *testing.T) {
	require.Equal(t, 1, deliveryCount(context.Background()))
}

func TestStopIsIdempotent(t *testing.T) {
	w, _ := newTestWorker(t, testQueueConfig(3), &stubRunner{})

	// The signal handler and the context watcher can both reach Stop;
	// the second call must not close stopChan again.
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
