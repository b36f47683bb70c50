package domain

import (
	"fmt"
	"time"
)

// Job tracks one multi-file upload from submission to completion.
type Job struct {
	JobID          string     `db:"job_id" json:"job_id"`
	OwnerID        string     `db:"owner_id" json:"owner_id"`
	TotalFiles     int        `db:"total_files" json:"total_files"`
	ProcessedFiles int        `db:"processed_files" json:"processed_files"`
	FailedFiles    int        `db:"failed_files" json:"failed_files"`
	Status         JobStatus  `db:"status" json:"status"`
	Error          string     `db:"error_message" json:"error,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// File is one file of a job, staged on upload and moved by a worker.
type File struct {
	FileID       string     `db:"file_id" json:"file_id"`
	JobID        string     `db:"job_id" json:"job_id"`
	OwnerID      string     `db:"owner_id" json:"owner_id"`
	Position     int        `db:"position" json:"position"`
	OriginalName string     `db:"original_name" json:"original_name"`
	MimeType     string     `db:"mime_type" json:"mime_type"`
	Size         int64      `db:"size_bytes" json:"size"`
	StagedKey    string     `db:"staged_key" json:"-"`
	StorageKey   string     `db:"storage_key" json:"storage_key"`
	Status       FileStatus `db:"status" json:"status"`
	Error        string     `db:"error_message" json:"error,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// JobSnapshot is a read-consistent view of a job and its files.
type JobSnapshot struct {
	Job   Job    `json:"job"`
	Files []File `json:"files"`
}

// Outcome is the result of recording one file's terminal status.
type Outcome struct {
	// Applied is false when the file was already terminal and nothing changed.
	Applied bool
	File    File
	Job     Job
	// Finalized is true for exactly one outcome per job: the one that made
	// ProcessedFiles reach TotalFiles.
	Finalized bool
	// FailureLatched is true for the outcome that first moved the job to failed.
	FailureLatched bool
}

// ApplyFileOutcome advances the job counters for one file reaching status.
// The caller must hold whatever lock serializes writers of this job.
func (j *Job) ApplyFileOutcome(status FileStatus, reason string, now time.Time) (finalized, failureLatched bool, err error) {
	if !status.IsTerminal() {
		return false, false, fmt.Errorf("file status %q is not terminal", status)
	}
	if j.ProcessedFiles >= j.TotalFiles {
		return false, false, ErrJobFinalized
	}

	wasFailed := j.Status == JobStatusFailed

	j.ProcessedFiles++
	if status == FileStatusFailed {
		j.FailedFiles++
		if j.Error == "" {
			j.Error = reason
		}
	}

	switch {
	case j.FailedFiles > 0:
		j.Status = JobStatusFailed
	case j.ProcessedFiles == j.TotalFiles:
		j.Status = JobStatusCompleted
	default:
		j.Status = JobStatusProcessing
	}

	finalized = j.ProcessedFiles == j.TotalFiles
	if finalized {
		j.CompletedAt = &now
	}
	j.UpdatedAt = now

	return finalized, !wasFailed && j.Status == JobStatusFailed, nil
}

// MarkProcessing moves a pending job to processing; other states are left alone.
func (j *Job) MarkProcessing(now time.Time) bool {
	if j.Status != JobStatusPending {
		return false
	}
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	return true
}
