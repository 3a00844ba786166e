// Package pipeline implements the ingestion engine: the per-job state machine
// that stages, extracts and promotes an archive's documents, and the
// bounded-parallelism processing loop behind it.
package pipeline

import (
	"context"
	"fmt"

	"github.com/docuvault/ingest/config"
	"github.com/docuvault/ingest/internal/alerts"
	"github.com/docuvault/ingest/internal/mft"
	"github.com/docuvault/ingest/internal/models"
	"github.com/docuvault/ingest/internal/store"
	"github.com/docuvault/ingest/pkg/logger"
	"github.com/docuvault/ingest/pkg/resilience"
	"github.com/docuvault/ingest/pkg/storage"
)

// Orchestrator sequences one job per inbound message: ensure job, stage
// archive, extract, stage metadata, process documents, finalize. It owns all
// job-level state transitions; per-document state belongs to the Engine.
type Orchestrator struct {
	jobs     store.JobStore
	objects  storage.Store
	source   mft.Source
	engine   *Engine
	stager   *Stager
	policies *resilience.Policies
	cfg      *config.ProcessingConfig
	alerts   alerts.Alerts
	logger   logger.Logger
}

func NewOrchestrator(
	jobs store.JobStore,
	objects storage.Store,
	source mft.Source,
	engine *Engine,
	stager *Stager,
	policies *resilience.Policies,
	cfg *config.ProcessingConfig,
	al alerts.Alerts,
	log logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		jobs:     jobs,
		objects:  objects,
		source:   source,
		engine:   engine,
		stager:   stager,
		policies: policies,
		cfg:      cfg,
		alerts:   al,
		logger:   log,
	}
}

// Run drives the job for one inbound message to a terminal or processed
// state. The returned job reflects the final persisted state. Errors after
// the job exists have already marked it Failed; the error still propagates so
// the delivery policy can decide the message disposition.
func (o *Orchestrator) Run(ctx context.Context, msg models.IngestMessage) (models.IngestJob, error) {
	var job models.IngestJob
	err := o.policies.Database.Execute(ctx, func(ctx context.Context) error {
		var err error
		job, err = o.jobs.GetOrCreateJob(ctx, msg)
		return err
	})
	if err != nil {
		return models.IngestJob{}, fmt.Errorf("ensure job: %w", err)
	}

	// A redelivered message for a completed job is a duplicate; a Failed job
	// re-runs, its stages are idempotent.
	switch job.Status {
	case models.JobCompleted, models.JobCompletedWithErrors:
		o.logger.Info("Job already completed; skipping redelivered message",
			logger.String("jobId", job.ID),
			logger.String("correlationId", job.CorrelationID),
			logger.String("status", string(job.Status)),
		)
		return job, nil
	}

	if err := o.policies.Database.Execute(ctx, func(ctx context.Context) error {
		return o.jobs.MarkJobStarted(ctx, job.ID)
	}); err != nil {
		return job, fmt.Errorf("mark job started: %w", err)
	}
	o.alerts.JobStarted(job.ID, job.ClientID)

	if err := o.runStages(ctx, job); err != nil {
		reason := err.Error()
		if markErr := o.policies.Database.Execute(ctx, func(ctx context.Context) error {
			return o.jobs.MarkJobFailed(ctx, job.ID, reason)
		}); markErr != nil {
			o.logger.Error("Failed to mark job failed",
				logger.String("jobId", job.ID),
				logger.Error(markErr),
			)
		}
		o.alerts.JobCompleted(job.ID, false, reason)
		return job, err
	}

	var final models.IngestJob
	if err := o.policies.Database.Execute(ctx, func(ctx context.Context) error {
		var err error
		final, err = o.jobs.FinalizeJob(ctx, job.ID)
		return err
	}); err != nil {
		return job, fmt.Errorf("finalize job: %w", err)
	}

	o.alerts.JobCompleted(final.ID, true, "")
	o.logger.Info("Job finished",
		logger.String("jobId", final.ID),
		logger.String("status", string(final.Status)),
		logger.Int("total", final.TotalDocuments),
		logger.Int("success", final.SuccessDocuments),
		logger.Int("failed", final.FailedDocuments),
	)
	return final, nil
}

// runStages executes the pipeline stages after the job exists. Document-level
// failures are data-model outcomes inside the engine; any error returned here
// is a pipeline failure.
func (o *Orchestrator) runStages(ctx context.Context, job models.IngestJob) error {
	archiveKey, err := o.stageArchive(ctx, job)
	if err != nil {
		return err
	}

	descriptorKey, err := o.extractArchive(ctx, job, archiveKey)
	if err != nil {
		return err
	}

	staged, total, err := o.stageMetadata(ctx, job, descriptorKey)
	if err != nil {
		return err
	}
	o.logger.Info("Metadata staged",
		logger.String("jobId", job.ID),
		logger.Int("newDocuments", staged),
		logger.Int("totalDocuments", total),
	)

	return o.engine.ProcessJob(ctx, job)
}

// stageMetadata parses the descriptor entry into work items and syncs the
// job's total from the staged rows. The total comes from the rows rather
// than the staged count, so a redelivered run whose prior attempt died
// after committing the items still reports every document.
func (o *Orchestrator) stageMetadata(ctx context.Context, job models.IngestJob, descriptorKey string) (int, int, error) {
	obj, err := o.getObject(ctx, o.cfg.StageBucket, descriptorKey)
	if err != nil {
		return 0, 0, fmt.Errorf("open descriptor %s: %w", descriptorKey, err)
	}
	defer func() { _ = obj.Close() }()

	staged, err := o.stager.Stage(ctx, job, descriptorKey, obj)
	if err != nil {
		return 0, 0, err
	}

	var total int
	if err := o.policies.Database.Execute(ctx, func(ctx context.Context) error {
		var err error
		total, err = o.jobs.SyncTotalDocuments(ctx, job.ID)
		return err
	}); err != nil {
		return 0, 0, fmt.Errorf("sync total documents: %w", err)
	}
	return staged, total, nil
}

func (o *Orchestrator) getObject(ctx context.Context, bucket, key string) (storage.Object, error) {
	var obj storage.Object
	err := o.policies.ObjectStore.Execute(ctx, func(ctx context.Context) error {
		var err error
		obj, err = o.objects.Get(ctx, bucket, key)
		return err
	})
	return obj, err
}
