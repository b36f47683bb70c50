// Package upload accepts batches of staged files, answers status polls and
// serves the owner's stored files.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/upload-pipeline/internal/blob"
	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/metrics"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

// Enqueuer hands work items to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item domain.WorkItem) error
}

// Limits bound what one submission may contain. Zero values disable a check.
type Limits struct {
	MaxFiles         int
	MaxFileSize      int64
	AllowedMIMETypes []string
}

// Item is one staged file of a submission.
type Item struct {
	OriginalName string
	MimeType     string
	StagedKey    string
}

// SubmitResult is returned to the uploader right after submission.
type SubmitResult struct {
	JobID  string
	Status domain.JobStatus
	Files  []domain.File
}

// Coordinator turns a batch of staged files into a job and its work items.
type Coordinator struct {
	ledger      storage.Ledger
	blobs       blob.Store
	queue       Enqueuer
	limits      Limits
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// CoordinatorConfig holds the collaborators of a Coordinator
type CoordinatorConfig struct {
	Ledger      storage.Ledger
	Blobs       blob.Store
	Queue       Enqueuer
	Limits      Limits
	MaxAttempts int
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		ledger:      cfg.Ledger,
		blobs:       cfg.Blobs,
		queue:       cfg.Queue,
		limits:      cfg.Limits,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger,
		now:         now,
	}
}

// Submit records a job with one file per item, then enqueues one work item
// per file. Nothing is persisted when validation or the job write fails.
// A file whose work item cannot be enqueued is recorded as failed so the
// job still reaches a terminal state.
func (c *Coordinator) Submit(ctx context.Context, ownerID string, items []Item) (*SubmitResult, error) {
	sizes, err := c.validate(ctx, ownerID, items)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	job := &domain.Job{
		JobID:      uuid.NewString(),
		OwnerID:    ownerID,
		TotalFiles: len(items),
		Status:     domain.JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	files := make([]domain.File, len(items))
	for i, item := range items {
		fileID := uuid.NewString()
		files[i] = domain.File{
			FileID:       fileID,
			JobID:        job.JobID,
			OwnerID:      ownerID,
			Position:     i,
			OriginalName: item.OriginalName,
			MimeType:     item.MimeType,
			Size:         sizes[i],
			StagedKey:    item.StagedKey,
			StorageKey:   blob.FinalKey(ownerID, job.JobID, fileID, item.OriginalName),
			Status:       domain.FileStatusProcessing,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	if err := c.ledger.CreateJob(ctx, job, files); err != nil {
		return nil, fmt.Errorf("failed to create upload job: %w", err)
	}

	c.logger.Info("Upload job created",
		slog.String("job_id", job.JobID),
		slog.String("owner_id", ownerID),
		slog.Int("total_files", job.TotalFiles),
	)

	status := c.enqueueAll(ctx, job.JobID, files)

	metrics.JobsSubmittedTotal.Inc()
	metrics.FilesSubmittedTotal.Add(float64(len(files)))

	recordActivity(ctx, c.ledger, c.logger, ownerID, domain.ActivityFileUpload, map[string]any{
		"job_id":     job.JobID,
		"file_count": len(files),
	})

	return &SubmitResult{JobID: job.JobID, Status: status, Files: files}, nil
}

// enqueueAll publishes the work items and returns the job status to report.
func (c *Coordinator) enqueueAll(ctx context.Context, jobID string, files []domain.File) domain.JobStatus {
	status := domain.JobStatusPending
	marked := false

	for i := range files {
		item := domain.WorkItemFor(&files[i], c.maxAttempts, c.now().UTC())

		if err := c.queue.Enqueue(ctx, item); err != nil {
			metrics.EnqueueFailuresTotal.Inc()
			c.logger.Error("Failed to enqueue file",
				slog.String("job_id", jobID),
				slog.String("file_id", item.FileID),
				slog.Any("error", err),
			)
			if s := c.failUnqueued(ctx, item.FileID, err); s != "" {
				status = s
			}
			continue
		}

		if !marked {
			marked = true
			moved, err := c.ledger.MarkJobProcessing(ctx, jobID)
			if err != nil {
				c.logger.Error("Failed to mark job processing",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
			}
			if moved && status == domain.JobStatusPending {
				status = domain.JobStatusProcessing
			}
		}
	}

	if job, err := c.ledger.GetJob(context.WithoutCancel(ctx), jobID); err == nil {
		status = job.Status
	}

	return status
}

// failUnqueued records the file as failed through the regular outcome path.
func (c *Coordinator) failUnqueued(ctx context.Context, fileID string, cause error) domain.JobStatus {
	reason := domain.ReasonEnqueueFailed + ": " + cause.Error()

	outcome, err := c.ledger.RecordFileOutcome(context.WithoutCancel(ctx), fileID, domain.FileStatusFailed, reason)
	if err != nil {
		c.logger.Error("Failed to record enqueue failure",
			slog.String("file_id", fileID),
			slog.Any("error", err),
		)
		return ""
	}
	return outcome.Job.Status
}

func (c *Coordinator) validate(ctx context.Context, ownerID string, items []Item) ([]int64, error) {
	if _, err := uuid.Parse(ownerID); err != nil {
		return nil, domain.NewValidationError("owner_id", "must be a valid UUID")
	}
	if len(items) == 0 {
		return nil, domain.NewValidationError("files", "at least one file is required")
	}
	if c.limits.MaxFiles > 0 && len(items) > c.limits.MaxFiles {
		return nil, domain.NewValidationError("files", "at most %d files per upload", c.limits.MaxFiles)
	}

	sizes := make([]int64, len(items))
	for i, item := range items {
		field := fmt.Sprintf("files[%d]", i)

		if strings.TrimSpace(item.OriginalName) == "" {
			return nil, domain.NewValidationError(field, "file name is required")
		}
		if !c.mimeAllowed(item.MimeType) {
			return nil, domain.NewValidationError(field, "file type %q is not allowed", item.MimeType)
		}

		info, err := c.blobs.Stat(ctx, item.StagedKey)
		if err != nil {
			if blob.IsPermanent(err) {
				return nil, domain.NewValidationError(field, "staged file is not readable")
			}
			return nil, fmt.Errorf("failed to check staged file %s: %w", item.StagedKey, err)
		}
		if c.limits.MaxFileSize > 0 && info.Size > c.limits.MaxFileSize {
			return nil, domain.NewValidationError(field, "file exceeds %d bytes", c.limits.MaxFileSize)
		}
		sizes[i] = info.Size
	}

	return sizes, nil
}

func (c *Coordinator) mimeAllowed(mimeType string) bool {
	if len(c.limits.AllowedMIMETypes) == 0 {
		return true
	}
	base, _, _ := strings.Cut(mimeType, ";")
	return slices.Contains(c.limits.AllowedMIMETypes, strings.TrimSpace(base))
}

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	var verr *domain.ValidationError
	return errors.As(err, &verr) ||
		errors.Is(err, domain.ErrPermissionDenied) ||
		errors.Is(err, domain.ErrJobNotFound) ||
		errors.Is(err, domain.ErrFileNotFound) ||
		errors.Is(err, domain.ErrFileNotReady) ||
		errors.Is(err, domain.ErrFileNotDeletable)
}
