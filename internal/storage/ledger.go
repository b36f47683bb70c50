// Package storage persists upload jobs, their files and the activity log.
package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
)

// Ledger is the system of record for jobs and files. Every mutation of a
// job's counters goes through RecordFileOutcome, which applies the file
// status and the job increment as one atomic step.
type Ledger interface {
	// CreateJob persists job and files together or not at all.
	CreateJob(ctx context.Context, job *domain.Job, files []domain.File) error
	// MarkJobProcessing moves a pending job to processing. It reports false
	// when the job had already left pending.
	MarkJobProcessing(ctx context.Context, jobID string) (bool, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	// GetJobSnapshot reads a job and its files from one consistent view.
	GetJobSnapshot(ctx context.Context, jobID string) (*domain.JobSnapshot, error)
	GetFile(ctx context.Context, fileID string) (*domain.File, error)
	// RecordFileOutcome sets a processing file to a terminal status and
	// advances its job. A file that is already terminal is left alone and
	// the returned outcome has Applied set to false.
	RecordFileOutcome(ctx context.Context, fileID string, status domain.FileStatus, reason string) (*domain.Outcome, error)
	// ListFiles returns up to PageSize+1 files so callers can detect a next page.
	ListFiles(ctx context.Context, filter FileFilter) ([]domain.File, error)
	// DeleteFile removes a terminal file record.
	DeleteFile(ctx context.Context, fileID string) error
	// ListStaleFiles returns files still processing whose last update is older than olderThan.
	ListStaleFiles(ctx context.Context, olderThan time.Time, limit int) ([]domain.File, error)
	RecordActivity(ctx context.Context, activity *domain.Activity) error
	// ListActivities returns up to PageSize+1 of a user's activities, newest first.
	ListActivities(ctx context.Context, filter ActivityFilter) ([]domain.Activity, error)
}

// FileFilter selects a page of one owner's files, newest first.
type FileFilter struct {
	OwnerID  string
	Status   domain.FileStatus
	PageSize int
	Cursor   *FileCursor
}

// FileCursor is the keyset position after which the next page starts.
type FileCursor struct {
	CreatedAt time.Time
	FileID    string
}

// ActivityFilter selects a page of one user's activity log, newest first.
// From and To bound created_at inclusively when set.
type ActivityFilter struct {
	UserID   string
	Action   domain.ActivityAction
	From     time.Time
	To       time.Time
	PageSize int
	Cursor   *ActivityCursor
}

// ActivityCursor is the keyset position after which the next page starts.
type ActivityCursor struct {
	CreatedAt  time.Time
	ActivityID string
}
