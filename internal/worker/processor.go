package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cuongbtq/upload-pipeline/internal/blob"
	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/metrics"
	"github.com/cuongbtq/upload-pipeline/internal/notify"
	"github.com/cuongbtq/upload-pipeline/internal/queue"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

// ProcessorConfig holds the collaborators and retry policy of a Processor
type ProcessorConfig struct {
	Ledger      storage.Ledger
	Blobs       blob.Store
	Notifier    notify.Notifier
	Logger      *slog.Logger
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	FileTimeout time.Duration
	Now         func() time.Time
}

// Processor runs one work item through move and outcome recording.
type Processor struct {
	ledger      storage.Ledger
	blobs       blob.Store
	notifier    notify.Notifier
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	fileTimeout time.Duration
	now         func() time.Time
}

// NewProcessor creates a new Processor
func NewProcessor(cfg ProcessorConfig) *Processor {
	p := &Processor{
		ledger:      cfg.Ledger,
		blobs:       cfg.Blobs,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
		maxAttempts: max(cfg.MaxAttempts, 1),
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		fileTimeout: cfg.FileTimeout,
		now:         cfg.Now,
	}
	if p.notifier == nil {
		p.notifier = notify.Nop{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 200 * time.Millisecond
	}
	if p.maxDelay < p.baseDelay {
		p.maxDelay = p.baseDelay
	}
	return p
}

// Process handles one message body. A nil return means the delivery can be
// acked: either the outcome was recorded or the file already had one.
// Errors wrapping ErrInvalidPayload must not be redelivered; RetryableError
// means the outcome was not recorded and the item should come back.
func (p *Processor) Process(ctx context.Context, body []byte) error {
	item, err := queue.Decode(body)
	if err != nil {
		return err
	}

	file, err := p.ledger.GetFile(ctx, item.FileID)
	if err != nil {
		if errors.Is(err, domain.ErrFileNotFound) {
			return fmt.Errorf("%w: file %s does not exist", domain.ErrInvalidPayload, item.FileID)
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load file %s: %w", item.FileID, err))
	}
	if file.JobID != item.JobID {
		return fmt.Errorf("%w: file %s does not belong to job %s", domain.ErrInvalidPayload, item.FileID, item.JobID)
	}

	if file.Status.IsTerminal() {
		metrics.DuplicateDeliveriesTotal.Inc()
		p.logger.Info("File already has an outcome, skipping",
			slog.String("file_id", file.FileID),
			slog.String("job_id", file.JobID),
			slog.String("status", string(file.Status)),
		)
		return nil
	}

	status, reason := p.moveFile(ctx, item)

	// shutdown interrupted the move; leave the file for redelivery
	if ctx.Err() != nil {
		return domain.NewRetryableError(fmt.Errorf("move of file %s interrupted: %w", item.FileID, ctx.Err()))
	}

	outcome, err := recordOutcome(ctx, p.ledger, p.logger, item.FileID, status, reason)
	if err != nil {
		return domain.NewRetryableError(err)
	}

	if !outcome.Applied {
		metrics.DuplicateDeliveriesTotal.Inc()
		return nil
	}

	publishOutcome(ctx, p.notifier, p.logger, outcome, p.now().UTC())
	return nil
}

// moveFile moves the staged bytes, retrying transient failures, and returns
// the terminal status to record.
func (p *Processor) moveFile(ctx context.Context, item domain.WorkItem) (domain.FileStatus, string) {
	fileCtx := ctx
	if p.fileTimeout > 0 {
		var cancel context.CancelFunc
		fileCtx, cancel = context.WithTimeout(ctx, p.fileTimeout)
		defer cancel()
	}

	attempts := item.MaxAttempts
	if attempts <= 0 {
		attempts = p.maxAttempts
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.baseDelay
	eb.MaxInterval = p.maxDelay
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(attempts-item.Attempt-1, 0))), fileCtx)

	attempt := item.Attempt
	start := time.Now()

	err := backoff.RetryNotify(func() error {
		attempt++
		err := p.blobs.Move(fileCtx, item.StagedLocation, item.FinalLocation)
		if err != nil && blob.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		metrics.FileMoveRetriesTotal.Inc()
		p.logger.Warn("File move failed, retrying",
			slog.String("file_id", item.FileID),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("retry_after", next),
			slog.Any("error", err),
		)
	})

	metrics.FileMoveDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		p.logger.Info("File moved",
			slog.String("file_id", item.FileID),
			slog.String("job_id", item.JobID),
			slog.Int("attempt", attempt),
		)
		return domain.FileStatusCompleted, ""

	case ctx.Err() != nil:
		return domain.FileStatusFailed, ""

	case errors.Is(fileCtx.Err(), context.DeadlineExceeded):
		p.logger.Warn("File move exceeded its deadline",
			slog.String("file_id", item.FileID),
			slog.Duration("timeout", p.fileTimeout),
		)
		return domain.FileStatusFailed, domain.ReasonDeadlineExceeded

	case blob.IsPermanent(err):
		p.logger.Error("File move failed permanently",
			slog.String("file_id", item.FileID),
			slog.Any("error", err),
		)
		return domain.FileStatusFailed, "move failed: " + err.Error()

	default:
		p.logger.Error("File move exhausted its attempts",
			slog.String("file_id", item.FileID),
			slog.Int("attempts", attempt),
			slog.Any("error", err),
		)
		return domain.FileStatusFailed, fmt.Sprintf("%s after %d attempts: %v", domain.ErrMaxRetriesExceeded, attempt, err)
	}
}
