package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/metrics"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop processes deliveries until jobsChan is closed
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started", slog.String("worker_name", workerName))

	for delivery := range w.jobsChan {
		w.handle(ctx, workerName, delivery)
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

func (w *Worker) handle(ctx context.Context, workerName string, delivery amqp.Delivery) {
	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	err := w.processor.Process(ctx, delivery.Body)

	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("message_id", delivery.MessageId),
				slog.Any("error", ackErr),
			)
		}
		return
	}

	requeue := shouldRequeue(err)

	w.logger.Error("Work item processing failed",
		slog.String("worker_name", workerName),
		slog.String("message_id", delivery.MessageId),
		slog.Bool("requeue", requeue),
		slog.Any("error", err),
	)

	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("message_id", delivery.MessageId),
			slog.Any("error", nackErr),
		)
	}
}

// shouldRequeue determines if a work item should be redelivered based on the error type
func shouldRequeue(err error) bool {
	// malformed items go to the dead-letter exchange
	if errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	return domain.IsRetryable(err)
}
