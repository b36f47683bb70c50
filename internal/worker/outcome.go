package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/metrics"
	"github.com/cuongbtq/upload-pipeline/internal/notify"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

// recordOutcome writes a file outcome, retrying lost lock races until it
// lands or ctx ends.
func recordOutcome(ctx context.Context, ledger storage.Ledger, logger *slog.Logger, fileID string, status domain.FileStatus, reason string) (*domain.Outcome, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 20 * time.Millisecond
	eb.MaxInterval = time.Second
	eb.MaxElapsedTime = 0

	outcome, err := backoff.RetryNotifyWithData(func() (*domain.Outcome, error) {
		outcome, err := ledger.RecordFileOutcome(ctx, fileID, status, reason)
		if err != nil && !errors.Is(err, domain.ErrConcurrencyConflict) {
			return nil, backoff.Permanent(err)
		}
		return outcome, err
	}, backoff.WithContext(eb, ctx), func(err error, next time.Duration) {
		metrics.OutcomeConflictsTotal.Inc()
		logger.Debug("Outcome write conflicted, retrying",
			slog.String("file_id", fileID),
			slog.Duration("retry_after", next),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record outcome of file %s: %w", fileID, err)
	}

	return outcome, nil
}

// publishOutcome updates metrics and emits the notifications of an applied outcome.
func publishOutcome(ctx context.Context, notifier notify.Notifier, logger *slog.Logger, outcome *domain.Outcome, at time.Time) {
	metrics.FilesProcessedTotal.WithLabelValues(string(outcome.File.Status)).Inc()

	logger.Info("File outcome recorded",
		slog.String("file_id", outcome.File.FileID),
		slog.String("job_id", outcome.Job.JobID),
		slog.String("status", string(outcome.File.Status)),
		slog.Int("processed_files", outcome.Job.ProcessedFiles),
		slog.Int("total_files", outcome.Job.TotalFiles),
	)

	if outcome.Finalized {
		metrics.JobsFinalizedTotal.WithLabelValues(string(outcome.Job.Status)).Inc()
	}

	for _, event := range domain.EventsFor(outcome, at) {
		notifier.Notify(ctx, event)
	}
}
