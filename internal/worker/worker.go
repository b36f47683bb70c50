// Package worker drains the upload queue: it moves each staged file to its
// permanent key and records the file outcome against its job.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errDeliveriesClosed = errors.New("delivery channel closed")

// MessageSource is the part of the RabbitMQ client the worker consumes from.
type MessageSource interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Cancel(consumerTag string) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Source        MessageSource
	Processor     *Processor
	WorkerID      string
	QueueName     string
	Concurrency   int
	PrefetchCount int
}

// Worker represents the background file mover
type Worker struct {
	logger        *slog.Logger
	source        MessageSource
	processor     *Processor
	workerID      string
	queueName     string
	concurrency   int
	prefetchCount int
	jobsChan      chan amqp.Delivery
	wg            sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := max(cfg.Concurrency, 1)
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	return &Worker{
		logger:        cfg.Logger,
		source:        cfg.Source,
		processor:     cfg.Processor,
		workerID:      cfg.WorkerID,
		queueName:     cfg.QueueName,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobsChan:      make(chan amqp.Delivery),
	}
}

// Start consumes work items until ctx is canceled, then waits for the
// in-flight items to be acked or requeued. It returns an error when the
// broker closes the delivery channel while ctx is still live.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	dispatchErr := w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)

	if err := w.source.Cancel(w.workerID); err != nil {
		w.logger.Warn("Failed to cancel consumer",
			slog.String("worker_id", w.workerID),
			slog.Any("error", err),
		)
	}

	w.wg.Wait()
	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))

	return dispatchErr
}
