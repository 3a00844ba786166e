package config

import (
	"fmt"
	"sync"
	"time"
)

var (
	processingOnce   sync.Once
	processingConfig *ProcessingConfig
)

// ProcessingConfig controls the ingestion pipeline and the document
// processing engine.
type ProcessingConfig struct {
	// MaxParallelism bounds concurrent in-flight documents per batch.
	MaxParallelism int
	// DBBatchSize is the work-item fetch page size.
	DBBatchSize int
	// MetadataFileName locates the descriptor entry inside the archive.
	MetadataFileName string
	// StageBucket holds the staged archive and its extracted entries.
	StageBucket string
	// ProdBucket holds promoted documents.
	ProdBucket string
	// CopyTimeout bounds the storage-side copy wait per document.
	CopyTimeout time.Duration
	// CopyPollInterval is the sleep between copy-status polls.
	CopyPollInterval time.Duration
	// ProcessingLease is how long a Processing work item stays claimed
	// before it becomes eligible for re-pickup.
	ProcessingLease time.Duration
	// RetryFailedDocuments re-claims Failed items on later engine runs.
	RetryFailedDocuments bool
}

func GetProcessingConfig() *ProcessingConfig {
	processingOnce.Do(func() {
		loadEnv()

		processingConfig = &ProcessingConfig{
			MaxParallelism:       getEnvInt("INGEST_MAX_PARALLELISM", 32),
			DBBatchSize:          getEnvInt("INGEST_DB_BATCH_SIZE", 1000),
			MetadataFileName:     getEnv("INGEST_METADATA_FILENAME", "metadata.json"),
			StageBucket:          getEnv("INGEST_STAGE_BUCKET", "stage"),
			ProdBucket:           getEnv("INGEST_PROD_BUCKET", "prod"),
			CopyTimeout:          getEnvDuration("INGEST_COPY_TIMEOUT", 15*time.Minute),
			CopyPollInterval:     getEnvDuration("INGEST_COPY_POLL_INTERVAL", 2*time.Second),
			ProcessingLease:      getEnvDuration("INGEST_PROCESSING_LEASE", 30*time.Minute),
			RetryFailedDocuments: getEnvBool("INGEST_RETRY_FAILED_DOCUMENTS", false),
		}
	})
	return processingConfig
}

// Validate rejects configurations the engine cannot run with.
func (c *ProcessingConfig) Validate() error {
	if c.MaxParallelism <= 0 {
		return fmt.Errorf("max parallelism must be > 0, got %d", c.MaxParallelism)
	}
	if c.DBBatchSize <= 0 {
		return fmt.Errorf("db batch size must be > 0, got %d", c.DBBatchSize)
	}
	if c.MetadataFileName == "" {
		return fmt.Errorf("metadata file name is required")
	}
	if c.StageBucket == "" || c.ProdBucket == "" {
		return fmt.Errorf("stage and prod buckets are required")
	}
	return nil
}
