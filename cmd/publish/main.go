// Command publish enqueues one archive ingestion task. It exists for
// operational re-drives and local testing; production messages arrive from
// the upstream transfer system.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/google/uuid"

	"github.com/docuvault/ingest/config"
	"github.com/docuvault/ingest/internal/models"
	"github.com/docuvault/ingest/pkg/logger"
	"github.com/docuvault/ingest/pkg/queue"
)

func main() {
	var (
		correlationID = flag.String("correlation-id", "", "correlation id (generated when empty)")
		archivePath   = flag.String("archive", "", "archive path on the transfer host (required)")
		clientID      = flag.String("client", "", "client identifier")
		country       = flag.String("country", "", "country tag")
		appName       = flag.String("app", "", "application tag")
	)
	flag.Parse()

	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("console"),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	msg := models.IngestMessage{
		CorrelationID: *correlationID,
		ArchivePath:   *archivePath,
		ClientID:      *clientID,
		Country:       *country,
		AppName:       *appName,
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}

	publisher := queue.NewPublisher(config.GetQueueConfig())
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := publisher.Publish(ctx, msg); err != nil {
		log.Fatal("Failed to publish ingest task:", logger.Error(err))
	}
	log.Info("Ingest task published",
		logger.String("correlationId", msg.CorrelationID),
		logger.String("archivePath", msg.ArchivePath),
	)
}
