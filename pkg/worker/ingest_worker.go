package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/docuvault/ingest/config"
	"github.com/docuvault/ingest/internal/models"
	"github.com/docuvault/ingest/internal/store"
	"github.com/docuvault/ingest/pkg/logger"
	"github.com/docuvault/ingest/pkg/queue"
)

// Runner executes the ingestion pipeline for one message.
type Runner interface {
	Run(ctx context.Context, msg models.IngestMessage) (models.IngestJob, error)
}

// IngestWorker consumes archive ingestion tasks. Jobs can run for hours, so
// the server processes one task at a time and each handler is bounded by the
// configured lock ceiling.
type IngestWorker struct {
	BaseWorker
	runner Runner
	jobs   store.JobStore
	status *queue.StatusCache
	cfg    *config.QueueConfig
}

func NewIngestWorker(cfg *config.QueueConfig, runner Runner, jobs store.JobStore, status *queue.StatusCache, log logger.Logger) *IngestWorker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{cfg.Queue: 1},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n+1) * time.Minute
			},
		},
	)

	w := &IngestWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		runner: runner,
		jobs:   jobs,
		status: status,
		cfg:    cfg,
	}
	w.mux.HandleFunc(queue.TaskTypeArchiveIngest, w.handleArchiveIngest)
	return w
}

// handleArchiveIngest applies the delivery policy for one task delivery.
// Returning nil completes the message, returning a plain error schedules a
// redelivery, and wrapping asynq.SkipRetry dead-letters it.
func (w *IngestWorker) handleArchiveIngest(ctx context.Context, t *asynq.Task) error {
	delivery := deliveryCount(ctx)

	var msg models.IngestMessage
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		w.logger.Error("Dead-lettering malformed message",
			logger.String("payload", string(t.Payload())),
			logger.Error(err),
		)
		return fmt.Errorf("InvalidMessage: unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := msg.Validate(); err != nil {
		w.logger.Error("Dead-lettering invalid message",
			logger.String("correlationId", msg.CorrelationID),
			logger.Error(err),
		)
		return fmt.Errorf("InvalidMessage: %v: %w", err, asynq.SkipRetry)
	}

	w.logger.Info("Received ingest message",
		logger.String("correlationId", msg.CorrelationID),
		logger.String("archivePath", msg.ArchivePath),
		logger.Int("delivery", delivery),
	)

	// The lock ceiling bounds the whole job; an exceeded bound surfaces as
	// context cancellation inside the pipeline and the message redelivers.
	runCtx, cancel := context.WithTimeout(ctx, w.cfg.MaxRenewDuration)
	defer cancel()

	job, err := w.runner.Run(runCtx, msg)
	if job.ID != "" {
		w.saveStatus(ctx, job)
	}
	if err == nil {
		return nil
	}

	if delivery >= w.cfg.MaxDeliveryCount {
		w.logger.Error("Delivery ceiling reached; dead-lettering message",
			logger.String("correlationId", msg.CorrelationID),
			logger.Int("delivery", delivery),
			logger.Error(err),
		)
		w.failJobFinal(ctx, msg.CorrelationID, err)
		return fmt.Errorf("MaxDeliveryExceeded: %v: %w", err, asynq.SkipRetry)
	}

	w.logger.Warn("Ingest failed; message will redeliver",
		logger.String("correlationId", msg.CorrelationID),
		logger.Int("delivery", delivery),
		logger.Error(err),
	)
	return err
}

// failJobFinal pins the job to Failed when its message is dead-lettered, so
// the tracked state cannot report an in-flight job with no deliveries left.
func (w *IngestWorker) failJobFinal(ctx context.Context, correlationID string, cause error) {
	job, err := w.jobs.GetJobByCorrelation(ctx, correlationID)
	if err != nil {
		w.logger.Warn("No job to fail for dead-lettered message",
			logger.String("correlationId", correlationID),
			logger.Error(err),
		)
		return
	}
	if job.Status.Terminal() {
		return
	}
	reason := fmt.Sprintf("delivery ceiling reached: %v", cause)
	if err := w.jobs.MarkJobFailed(ctx, job.ID, reason); err != nil {
		w.logger.Error("Failed to mark dead-lettered job failed",
			logger.String("jobId", job.ID),
			logger.Error(err),
		)
		return
	}
	job.Status = models.JobFailed
	job.FailureReason = reason
	w.saveStatus(ctx, job)
}

func (w *IngestWorker) saveStatus(ctx context.Context, job models.IngestJob) {
	if w.status == nil {
		return
	}
	if err := w.status.SaveStatus(ctx, job); err != nil {
		w.logger.Warn("Failed to cache job status",
			logger.String("correlationId", job.CorrelationID),
			logger.Error(err),
		)
	}
}

// deliveryCount derives the 1-based delivery number from the task's retry
// count.
func deliveryCount(ctx context.Context) int {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 1
	}
	return retried + 1
}
