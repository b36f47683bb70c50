package domain

import (
	"fmt"
	"time"
)

// WorkItem is the queue payload asking a worker to move one staged file.
type WorkItem struct {
	FileID         string    `json:"file_id"`
	JobID          string    `json:"job_id"`
	OwnerID        string    `json:"owner_id"`
	StagedLocation string    `json:"staged_location"`
	FinalLocation  string    `json:"final_location"`
	Attempt        int       `json:"attempt"`
	MaxAttempts    int       `json:"max_attempts"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Validate checks the fields a worker needs before acting on the item
func (w *WorkItem) Validate() error {
	switch {
	case w.FileID == "":
		return fmt.Errorf("%w: missing file_id", ErrInvalidPayload)
	case w.JobID == "":
		return fmt.Errorf("%w: missing job_id", ErrInvalidPayload)
	case w.StagedLocation == "":
		return fmt.Errorf("%w: missing staged_location", ErrInvalidPayload)
	case w.FinalLocation == "":
		return fmt.Errorf("%w: missing final_location", ErrInvalidPayload)
	case w.MaxAttempts < 0:
		return fmt.Errorf("%w: negative max_attempts", ErrInvalidPayload)
	}
	return nil
}

// WorkItemFor builds the queue payload for a freshly created file
func WorkItemFor(f *File, maxAttempts int, now time.Time) WorkItem {
	return WorkItem{
		FileID:         f.FileID,
		JobID:          f.JobID,
		OwnerID:        f.OwnerID,
		StagedLocation: f.StagedKey,
		FinalLocation:  f.StorageKey,
		MaxAttempts:    maxAttempts,
		EnqueuedAt:     now,
	}
}
