package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docuvault/ingest/config"
	"github.com/docuvault/ingest/internal/alerts"
	"github.com/docuvault/ingest/internal/models"
	"github.com/docuvault/ingest/internal/store"
	"github.com/docuvault/ingest/pkg/logger"
	"github.com/docuvault/ingest/pkg/resilience"
	"github.com/docuvault/ingest/pkg/storage"
)

// Engine promotes a job's staged documents into the production bucket with
// bounded parallelism. A document failure is recorded against that document
// and never aborts its siblings; only infrastructure failures (context
// cancellation, unrecoverable persistence errors) abort the run.
type Engine struct {
	jobs       store.JobStore
	items      store.WorkItemStore
	production store.ProductionStore
	objects    storage.Store
	policies   *resilience.Policies
	cfg        *config.ProcessingConfig
	alerts     alerts.Alerts
	logger     logger.Logger
}

func NewEngine(
	jobs store.JobStore,
	items store.WorkItemStore,
	production store.ProductionStore,
	objects storage.Store,
	policies *resilience.Policies,
	cfg *config.ProcessingConfig,
	al alerts.Alerts,
	log logger.Logger,
) *Engine {
	return &Engine{
		jobs:       jobs,
		items:      items,
		production: production,
		objects:    objects,
		policies:   policies,
		cfg:        cfg,
		alerts:     al,
		logger:     log,
	}
}

// ProcessJob claims and processes pending work items in pages until none
// remain. Claiming marks items Processing under a lease, so a crashed run's
// in-flight items become claimable again once the lease lapses.
func (e *Engine) ProcessJob(ctx context.Context, job models.IngestJob) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var batch []models.WorkItem
		if err := e.policies.Database.Execute(ctx, func(ctx context.Context) error {
			var err error
			batch, err = e.items.ClaimPending(ctx, job.ID, e.cfg.DBBatchSize, e.cfg.ProcessingLease, e.cfg.RetryFailedDocuments)
			return err
		}); err != nil {
			return fmt.Errorf("claim work items: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		e.logger.Info("Processing batch",
			logger.String("jobId", job.ID),
			logger.Int("items", len(batch)),
			logger.Int("parallelism", e.cfg.MaxParallelism),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.MaxParallelism)
		for _, item := range batch {
			item := item
			g.Go(func() error {
				return e.processItem(gctx, job, item)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

// processItem promotes one document. Promotion errors are recorded against
// the item and absorbed; failures to record the outcome are infrastructure
// errors and abort the run.
func (e *Engine) processItem(ctx context.Context, job models.IngestJob, item models.WorkItem) error {
	if err := e.promote(ctx, job, item); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		e.logger.Warn("Document promotion failed",
			logger.String("jobId", job.ID),
			logger.String("fileGuid", item.FileGUID),
			logger.String("filepath", item.Filepath),
			logger.Error(err),
		)
		e.alerts.DocumentFailure(job.ID, item.FileGUID, err.Error())

		if markErr := e.policies.Database.Execute(ctx, func(ctx context.Context) error {
			return e.items.MarkItemFailed(ctx, item.ID, err.Error())
		}); markErr != nil {
			return fmt.Errorf("mark item failed: %w", markErr)
		}
		if countErr := e.policies.Database.Execute(ctx, func(ctx context.Context) error {
			return e.jobs.IncrementJobCounters(ctx, job.ID, false)
		}); countErr != nil {
			return fmt.Errorf("count failed document: %w", countErr)
		}
		return nil
	}

	if err := e.policies.Database.Execute(ctx, func(ctx context.Context) error {
		return e.items.MarkItemSucceeded(ctx, item.ID)
	}); err != nil {
		return fmt.Errorf("mark item succeeded: %w", err)
	}
	if err := e.policies.Database.Execute(ctx, func(ctx context.Context) error {
		return e.jobs.IncrementJobCounters(ctx, job.ID, true)
	}); err != nil {
		return fmt.Errorf("count succeeded document: %w", err)
	}
	return nil
}

// promote copies one staged document into the production bucket, tags it and
// records it. The production insert is idempotent, so a redelivered or
// re-leased item converges on the same record.
func (e *Engine) promote(ctx context.Context, job models.IngestJob, item models.WorkItem) error {
	key := job.CorrelationID + "/" + strings.TrimLeft(item.Filepath, "/")

	if err := e.policies.ObjectStore.Execute(ctx, func(ctx context.Context) error {
		_, err := e.objects.Stat(ctx, e.cfg.StageBucket, key)
		return err
	}); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("document %s not present in staged archive", item.Filepath)
		}
		return fmt.Errorf("stat staged document: %w", err)
	}

	if err := e.policies.ObjectStore.Execute(ctx, func(ctx context.Context) error {
		return e.objects.Copy(ctx, e.cfg.StageBucket, key, e.cfg.ProdBucket, key)
	}); err != nil {
		return fmt.Errorf("copy to production: %w", err)
	}

	if err := e.waitForCopy(ctx, key); err != nil {
		return err
	}

	tags := e.documentTags(job, item)
	if len(tags) > 0 {
		if err := e.policies.ObjectStore.Execute(ctx, func(ctx context.Context) error {
			return e.objects.SetTags(ctx, e.cfg.ProdBucket, key, tags)
		}); err != nil {
			return fmt.Errorf("tag production document: %w", err)
		}
	}

	var inserted bool
	if err := e.policies.Database.Execute(ctx, func(ctx context.Context) error {
		var err error
		inserted, err = e.production.InsertProductionRecord(ctx, models.ProductionRecord{
			JobID:     job.ID,
			FileGUID:  item.FileGUID,
			Location:  e.cfg.ProdBucket + "/" + key,
			Extension: item.Extension,
			Tags:      tags,
		})
		return err
	}); err != nil {
		return fmt.Errorf("record production document: %w", err)
	}
	if !inserted {
		e.logger.Debug("Production record already exists",
			logger.String("jobId", job.ID),
			logger.String("fileGuid", item.FileGUID),
		)
	}
	return nil
}

// waitForCopy polls the copy status until it resolves or the configured
// bound elapses.
func (e *Engine) waitForCopy(ctx context.Context, key string) error {
	deadline := time.Now().Add(e.cfg.CopyTimeout)
	for {
		var state storage.CopyState
		if err := e.policies.ObjectStore.Execute(ctx, func(ctx context.Context) error {
			var err error
			state, err = e.objects.CopyStatus(ctx, e.cfg.ProdBucket, key)
			return err
		}); err != nil {
			return fmt.Errorf("check copy status: %w", err)
		}

		switch state {
		case storage.CopySuccess:
			return nil
		case storage.CopyFailed:
			return fmt.Errorf("copy of %s failed", key)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrCopyTimeout, key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.CopyPollInterval):
		}
	}
}

// documentTags merges the job-level identity tags with the item's declared
// tags. Declared tags win on key collision.
func (e *Engine) documentTags(job models.IngestJob, item models.WorkItem) map[string]string {
	tags := make(map[string]string, len(item.Tags)+4)
	if job.Country != "" {
		tags["country"] = job.Country
	}
	if job.AppName != "" {
		tags["appname"] = job.AppName
	}
	if item.DocType != "" {
		tags["doctype"] = item.DocType
	}
	if item.FileGUID != "" {
		tags["fileguid"] = item.FileGUID
	}
	for k, v := range item.Tags {
		tags[k] = v
	}
	return tags
}
