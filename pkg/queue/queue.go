// Package queue publishes ingest tasks and mirrors job status into Redis for
// cheap external polling.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/docuvault/ingest/config"
	"github.com/docuvault/ingest/internal/models"
)

// TaskTypeArchiveIngest identifies the archive ingestion task.
const TaskTypeArchiveIngest = "archive:ingest"

// statusTTL bounds how long a mirrored job status survives in Redis.
const statusTTL = 24 * time.Hour

// ErrStatusNotFound is returned when no status is cached for a correlation id.
var ErrStatusNotFound = errors.New("job status not found")

// JobStatus is the externally visible snapshot of a job.
type JobStatus struct {
	CorrelationID    string    `json:"correlationId"`
	Status           string    `json:"status"`
	FailureReason    string    `json:"failureReason,omitempty"`
	TotalDocuments   int       `json:"totalDocuments"`
	SuccessDocuments int       `json:"successDocuments"`
	FailedDocuments  int       `json:"failedDocuments"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Publisher enqueues archive ingestion tasks. The correlation id doubles as
// the task id, so re-publishing the same archive while a task is still queued
// is a no-op.
type Publisher struct {
	client *asynq.Client
	cfg    *config.QueueConfig
}

func NewPublisher(cfg *config.QueueConfig) *Publisher {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Publisher{client: client, cfg: cfg}
}

// Publish enqueues one ingest message.
func (p *Publisher) Publish(ctx context.Context, msg models.IngestMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid ingest message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal ingest message: %w", err)
	}

	task := asynq.NewTask(TaskTypeArchiveIngest, payload,
		asynq.TaskID(msg.CorrelationID),
		asynq.Queue(p.cfg.Queue),
		asynq.MaxRetry(p.cfg.MaxDeliveryCount-1),
		asynq.Timeout(p.cfg.MaxRenewDuration),
		asynq.Retention(statusTTL),
	)
	if _, err := p.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue ingest task: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// StatusCache mirrors job status into Redis keyed by correlation id.
type StatusCache struct {
	redis *redis.Client
}

func NewStatusCache(cfg *config.QueueConfig) *StatusCache {
	return &StatusCache{
		redis: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
	}
}

func statusKey(correlationID string) string {
	return fmt.Sprintf("ingest_status:%s", correlationID)
}

// SaveStatus writes the job snapshot with a bounded TTL.
func (c *StatusCache) SaveStatus(ctx context.Context, job models.IngestJob) error {
	status := JobStatus{
		CorrelationID:    job.CorrelationID,
		Status:           string(job.Status),
		FailureReason:    job.FailureReason,
		TotalDocuments:   job.TotalDocuments,
		SuccessDocuments: job.SuccessDocuments,
		FailedDocuments:  job.FailedDocuments,
		UpdatedAt:        time.Now().UTC(),
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal job status: %w", err)
	}
	if err := c.redis.Set(ctx, statusKey(job.CorrelationID), data, statusTTL).Err(); err != nil {
		return fmt.Errorf("save job status: %w", err)
	}
	return nil
}

// GetStatus reads the cached snapshot for a correlation id.
func (c *StatusCache) GetStatus(ctx context.Context, correlationID string) (JobStatus, error) {
	data, err := c.redis.Get(ctx, statusKey(correlationID)).Bytes()
	if err == redis.Nil {
		return JobStatus{}, ErrStatusNotFound
	}
	if err != nil {
		return JobStatus{}, fmt.Errorf("get job status: %w", err)
	}
	var status JobStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return JobStatus{}, fmt.Errorf("unmarshal job status: %w", err)
	}
	return status, nil
}

func (c *StatusCache) Close() error {
	return c.redis.Close()
}
