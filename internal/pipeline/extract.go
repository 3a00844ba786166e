package pipeline

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/docuvault/ingest/internal/mft"
	"github.com/docuvault/ingest/internal/models"
	"github.com/docuvault/ingest/pkg/logger"
	"github.com/docuvault/ingest/pkg/storage"
)

// stageArchive streams the archive from the MFT source into the staging
// bucket at {correlationId}/{archiveFileName}. When the destination already
// exists the transfer is skipped, so redelivered messages do not re-download.
func (o *Orchestrator) stageArchive(ctx context.Context, job models.IngestJob) (string, error) {
	name := path.Base(strings.ReplaceAll(job.SourcePath, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = job.CorrelationID + ".zip"
	}
	key := job.CorrelationID + "/" + name

	var staged bool
	err := o.policies.ObjectStore.Execute(ctx, func(ctx context.Context) error {
		_, err := o.objects.Stat(ctx, o.cfg.StageBucket, key)
		if errors.Is(err, storage.ErrNotFound) {
			staged = false
			return nil
		}
		if err != nil {
			return err
		}
		staged = true
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("check staged archive: %w", err)
	}
	if staged {
		o.logger.Info("Archive already staged; skipping upload",
			logger.String("jobId", job.ID),
			logger.String("key", key),
		)
		return key, nil
	}

	var remoteExists bool
	if err := o.policies.ArchiveSource.Execute(ctx, func(ctx context.Context) error {
		var err error
		remoteExists, err = o.source.Exists(ctx, job.SourcePath)
		return err
	}); err != nil {
		return "", fmt.Errorf("check remote archive: %w", err)
	}
	if !remoteExists {
		return "", fmt.Errorf("archive %s: %w", job.SourcePath, mft.ErrNotFound)
	}

	// The remote stream can't rewind, so the retry wraps the whole
	// open-and-upload unit.
	if err := o.policies.ArchiveSource.Execute(ctx, func(ctx context.Context) error {
		rc, err := o.source.Open(ctx, job.SourcePath)
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		return o.objects.Put(ctx, o.cfg.StageBucket, key, rc, -1)
	}); err != nil {
		return "", fmt.Errorf("stage archive: %w", err)
	}

	o.logger.Info("Archive staged",
		logger.String("jobId", job.ID),
		logger.String("key", key),
	)
	return key, nil
}

// extractArchive unpacks the staged archive's entries under the job's
// correlation prefix, streaming each entry straight to storage, and returns
// the key of the metadata descriptor entry. A missing descriptor is a fatal
// job failure.
func (o *Orchestrator) extractArchive(ctx context.Context, job models.IngestJob, archiveKey string) (string, error) {
	var info storage.ObjectInfo
	if err := o.policies.ObjectStore.Execute(ctx, func(ctx context.Context) error {
		var err error
		info, err = o.objects.Stat(ctx, o.cfg.StageBucket, archiveKey)
		return err
	}); err != nil {
		return "", fmt.Errorf("stat staged archive: %w", err)
	}

	obj, err := o.getObject(ctx, o.cfg.StageBucket, archiveKey)
	if err != nil {
		return "", fmt.Errorf("open staged archive: %w", err)
	}
	defer func() { _ = obj.Close() }()

	zr, err := zip.NewReader(obj, info.Size)
	if err != nil {
		return "", fmt.Errorf("open zip %s: %w", archiveKey, err)
	}

	descriptorKey := ""
	extracted := 0
	for _, entry := range zr.File {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if entry.FileInfo().IsDir() {
			continue
		}
		rel := strings.ReplaceAll(entry.Name, "\\", "/")
		key := job.CorrelationID + "/" + strings.TrimLeft(rel, "/")

		if err := o.policies.ObjectStore.Execute(ctx, func(ctx context.Context) error {
			rc, err := entry.Open()
			if err != nil {
				return err
			}
			defer func() { _ = rc.Close() }()
			return o.objects.Put(ctx, o.cfg.StageBucket, key, rc, int64(entry.UncompressedSize64))
		}); err != nil {
			return "", fmt.Errorf("extract entry %s: %w", entry.Name, err)
		}
		extracted++

		if strings.EqualFold(path.Base(rel), o.cfg.MetadataFileName) {
			descriptorKey = key
		}
	}

	o.logger.Info("Archive extracted",
		logger.String("jobId", job.ID),
		logger.Int("entries", extracted),
	)

	if descriptorKey == "" {
		return "", ErrDescriptorMissing
	}
	return descriptorKey, nil
}
