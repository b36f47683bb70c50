package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
)

// MemoryLedger is an in-process Ledger. One mutex serializes every write,
// which gives RecordFileOutcome the same atomicity as the row locks of the
// Postgres ledger.
type MemoryLedger struct {
	mu         sync.Mutex
	jobs       map[string]*domain.Job
	files      map[string]*domain.File
	activities []domain.Activity
	now        func() time.Time
}

// MemoryOption configures a MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithClock replaces time.Now for timestamps written by the ledger.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLedger) { l.now = now }
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		jobs:  make(map[string]*domain.Job),
		files: make(map[string]*domain.File),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLedger) CreateJob(ctx context.Context, job *domain.Job, files []domain.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.jobs[job.JobID]; ok {
		return fmt.Errorf("failed to create job: duplicate job_id %s", job.JobID)
	}
	for i := range files {
		if _, ok := l.files[files[i].FileID]; ok {
			return fmt.Errorf("failed to create files: duplicate file_id %s", files[i].FileID)
		}
	}

	j := *job
	l.jobs[j.JobID] = &j
	for i := range files {
		f := files[i]
		l.files[f.FileID] = &f
	}

	return nil
}

func (l *MemoryLedger) MarkJobProcessing(ctx context.Context, jobID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[jobID]
	if !ok {
		return false, nil
	}
	return job.MarkProcessing(l.now().UTC()), nil
}

func (l *MemoryLedger) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	j := *job
	return &j, nil
}

func (l *MemoryLedger) GetJobSnapshot(ctx context.Context, jobID string) (*domain.JobSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	files := []domain.File{}
	for _, f := range l.files {
		if f.JobID == jobID {
			files = append(files, *f)
		}
	}
	slices.SortFunc(files, func(a, b domain.File) int { return a.Position - b.Position })

	return &domain.JobSnapshot{Job: *job, Files: files}, nil
}

func (l *MemoryLedger) GetFile(ctx context.Context, fileID string) (*domain.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.files[fileID]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	file := *f
	return &file, nil
}

func (l *MemoryLedger) RecordFileOutcome(ctx context.Context, fileID string, status domain.FileStatus, reason string) (*domain.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, ok := l.files[fileID]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	job, ok := l.jobs[file.JobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	if file.Status.IsTerminal() {
		return &domain.Outcome{Applied: false, File: *file, Job: *job}, nil
	}

	now := l.now().UTC()
	next := *job
	finalized, latched, err := next.ApplyFileOutcome(status, reason, now)
	if err != nil {
		return nil, fmt.Errorf("failed to apply outcome of file %s: %w", fileID, err)
	}

	*job = next
	file.Status = status
	file.UpdatedAt = now
	if status == domain.FileStatusFailed {
		file.Error = reason
	}

	return &domain.Outcome{
		Applied:        true,
		File:           *file,
		Job:            *job,
		Finalized:      finalized,
		FailureLatched: latched,
	}, nil
}

func (l *MemoryLedger) ListFiles(ctx context.Context, filter FileFilter) ([]domain.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files := []domain.File{}
	for _, f := range l.files {
		if f.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		if filter.Cursor != nil && !before(f, filter.Cursor) {
			continue
		}
		files = append(files, *f)
	}

	slices.SortFunc(files, func(a, b domain.File) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.FileID > b.FileID:
			return -1
		case a.FileID < b.FileID:
			return 1
		}
		return 0
	})

	if len(files) > filter.PageSize+1 {
		files = files[:filter.PageSize+1]
	}
	return files, nil
}

// before reports whether f sorts after the cursor in newest-first order.
func before(f *domain.File, c *FileCursor) bool {
	if f.CreatedAt.Equal(c.CreatedAt) {
		return f.FileID < c.FileID
	}
	return f.CreatedAt.Before(c.CreatedAt)
}

func (l *MemoryLedger) DeleteFile(ctx context.Context, fileID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.files[fileID]
	if !ok {
		return domain.ErrFileNotFound
	}
	if !f.Status.IsTerminal() {
		return domain.ErrFileNotDeletable
	}
	delete(l.files, fileID)
	return nil
}

func (l *MemoryLedger) ListStaleFiles(ctx context.Context, olderThan time.Time, limit int) ([]domain.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files := []domain.File{}
	for _, f := range l.files {
		if f.Status == domain.FileStatusProcessing && f.UpdatedAt.Before(olderThan) {
			files = append(files, *f)
		}
	}
	slices.SortFunc(files, func(a, b domain.File) int { return a.UpdatedAt.Compare(b.UpdatedAt) })

	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (l *MemoryLedger) RecordActivity(ctx context.Context, activity *domain.Activity) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.activities = append(l.activities, *activity)
	return nil
}

func (l *MemoryLedger) ListActivities(ctx context.Context, filter ActivityFilter) ([]domain.Activity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	activities := []domain.Activity{}
	for _, a := range l.activities {
		if a.UserID != filter.UserID {
			continue
		}
		if filter.Action != "" && a.Action != filter.Action {
			continue
		}
		if !filter.From.IsZero() && a.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && a.CreatedAt.After(filter.To) {
			continue
		}
		if c := filter.Cursor; c != nil {
			if a.CreatedAt.After(c.CreatedAt) || (a.CreatedAt.Equal(c.CreatedAt) && a.ActivityID >= c.ActivityID) {
				continue
			}
		}
		activities = append(activities, a)
	}

	slices.SortFunc(activities, func(a, b domain.Activity) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ActivityID, a.ActivityID)
	})

	if len(activities) > filter.PageSize+1 {
		activities = activities[:filter.PageSize+1]
	}
	return activities, nil
}

// Activities returns a copy of the recorded activity log.
func (l *MemoryLedger) Activities() []domain.Activity {
	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.Clone(l.activities)
}
