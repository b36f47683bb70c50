package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/metrics"
	"github.com/cuongbtq/upload-pipeline/internal/notify"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

// ReaperConfig holds reaper configuration
type ReaperConfig struct {
	Ledger     storage.Ledger
	Notifier   notify.Notifier
	Logger     *slog.Logger
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	Now        func() time.Time
}

// Reaper fails files whose work item was lost, so their jobs still finish.
type Reaper struct {
	ledger     storage.Ledger
	notifier   notify.Notifier
	logger     *slog.Logger
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
}

// NewReaper creates a new Reaper
func NewReaper(cfg ReaperConfig) *Reaper {
	r := &Reaper{
		ledger:     cfg.Ledger,
		notifier:   cfg.Notifier,
		logger:     cfg.Logger,
		interval:   cfg.Interval,
		staleAfter: cfg.StaleAfter,
		batchSize:  cfg.BatchSize,
		now:        cfg.Now,
	}
	if r.notifier == nil {
		r.notifier = notify.Nop{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.batchSize <= 0 {
		r.batchSize = 100
	}
	return r
}

// Run reaps every interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("Reaper started",
		slog.Duration("interval", r.interval),
		slog.Duration("stale_after", r.staleAfter),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reaper stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Reaper pass failed", slog.Any("error", err))
			}
		}
	}
}

// RunOnce fails one batch of stale files and returns how many it failed.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	now := r.now().UTC()

	files, err := r.ledger.ListStaleFiles(ctx, now.Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, file := range files {
		outcome, err := recordOutcome(ctx, r.ledger, r.logger, file.FileID, domain.FileStatusFailed, domain.ReasonDeadlineExceeded)
		if err != nil {
			if ctx.Err() != nil {
				return reaped, ctx.Err()
			}
			if errors.Is(err, domain.ErrFileNotFound) {
				continue
			}
			r.logger.Error("Failed to reap file",
				slog.String("file_id", file.FileID),
				slog.Any("error", err),
			)
			continue
		}
		if !outcome.Applied {
			continue
		}

		metrics.FilesReapedTotal.Inc()
		r.logger.Warn("Reaped stuck file",
			slog.String("file_id", file.FileID),
			slog.String("job_id", file.JobID),
			slog.Time("last_update", file.UpdatedAt),
		)
		publishOutcome(ctx, r.notifier, r.logger, outcome, now)
		reaped++
	}

	if reaped > 0 {
		r.logger.Info("Reaper pass finished", slog.Int("reaped", reaped))
	}

	return reaped, nil
}
