package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docuvault/ingest/config"
	"github.com/docuvault/ingest/internal/alerts"
	"github.com/docuvault/ingest/internal/mft"
	"github.com/docuvault/ingest/internal/pipeline"
	"github.com/docuvault/ingest/internal/store"
	"github.com/docuvault/ingest/pkg/logger"
	"github.com/docuvault/ingest/pkg/queue"
	"github.com/docuvault/ingest/pkg/resilience"
	minioStore "github.com/docuvault/ingest/pkg/storage/minio"
	"github.com/docuvault/ingest/pkg/worker"
)

func main() {
	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	processingCfg := config.GetProcessingConfig()
	if err := processingCfg.Validate(); err != nil {
		log.Fatal("Invalid processing config:", logger.Error(err))
	}
	queueCfg := config.GetQueueConfig()
	mftCfg := config.GetMFTConfig()
	dbCfg := config.GetDBConfig()

	// init state store
	db, err := store.Open(dbCfg.Path)
	if err != nil {
		log.Fatal("Failed to open state store:", logger.Error(err))
	}
	defer db.Close()

	// init object store
	objects, err := minioStore.NewMinioStore(config.GetMinioConfig(), log)
	if err != nil {
		log.Fatal("Failed to init object store:", logger.Error(err))
	}
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	for _, bucket := range []string{processingCfg.StageBucket, processingCfg.ProdBucket} {
		if err := objects.EnsureBucket(bootCtx, bucket); err != nil {
			log.Fatal("Failed to ensure bucket:",
				logger.String("bucket", bucket),
				logger.Error(err),
			)
		}
	}
	bootCancel()

	// init archive source
	source, err := mft.NewSource(mftCfg, log)
	if err != nil {
		log.Fatal("Failed to init archive source:", logger.Error(err))
	}

	policies := resilience.NewPolicies(func(class resilience.Class, attempt int, delay time.Duration, err error) {
		log.Warn("Retrying operation",
			logger.String("class", string(class)),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err),
		)
	})

	al := alerts.NewLogAlerts(log)
	engine := pipeline.NewEngine(db, db, db, objects, policies, processingCfg, al, log)
	stager := pipeline.NewStager(db, policies, log)
	orchestrator := pipeline.NewOrchestrator(db, objects, source, engine, stager, policies, processingCfg, al, log)

	status := queue.NewStatusCache(queueCfg)
	defer status.Close()

	w := worker.NewIngestWorker(queueCfg, orchestrator, db, status, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		log.Fatal("Failed to start worker:", logger.Error(err))
	}
	log.Info("Ingest worker started",
		logger.String("queue", queueCfg.Queue),
		logger.String("source", mftCfg.Source),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down worker...")

	// graceful shutdown: Stop blocks until the in-flight job hands back
	// or the server's shutdown timeout requeues it.
	if err := w.Stop(); err != nil {
		log.Error("Worker forced to shutdown:", logger.Error(err))
	}
	cancel()
}
