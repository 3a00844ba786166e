// Package worker hosts the queue consumers. The ingest worker applies the
// delivery policy: complete on success, redeliver on transient failure, and
// dead-letter poison or repeatedly failing messages.
package worker

import (
	"context"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/docuvault/ingest/pkg/logger"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopOnce sync.Once
	stopChan chan struct{}
}

func (w *BaseWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		_ = w.Stop()
	}()

	return nil
}

// Stop drains the server: no new tasks are dequeued and Shutdown blocks
// until in-flight handlers finish or the shutdown timeout requeues them.
// Both the signal path and the context watcher in Start call it, so it
// fires at most once.
func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.server.Stop()
		w.server.Shutdown()
	})
	return nil
}
