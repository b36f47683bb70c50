package domain

import "time"

// EventKind names a notification emitted by the worker pool.
type EventKind string

// Notification kinds
const (
	EventFileCompleted EventKind = "file_completed"
	EventFileFailed    EventKind = "file_failed"
	EventJobProgressed EventKind = "job_progressed"
	EventJobCompleted  EventKind = "job_completed"
	EventJobFailed     EventKind = "job_failed"
)

// Event is the payload handed to the notification sink.
type Event struct {
	Kind           EventKind `json:"kind"`
	JobID          string    `json:"job_id"`
	OwnerID        string    `json:"owner_id"`
	FileID         string    `json:"file_id,omitempty"`
	ProcessedFiles int       `json:"processed_files"`
	TotalFiles     int       `json:"total_files"`
	Status         JobStatus `json:"status"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventsFor lists the events one applied outcome produces, in emit order.
func EventsFor(outcome *Outcome, at time.Time) []Event {
	if outcome == nil || !outcome.Applied {
		return nil
	}

	job := outcome.Job
	base := Event{
		JobID:          job.JobID,
		OwnerID:        job.OwnerID,
		ProcessedFiles: job.ProcessedFiles,
		TotalFiles:     job.TotalFiles,
		Status:         job.Status,
		OccurredAt:     at,
	}

	fileEvent := base
	fileEvent.FileID = outcome.File.FileID
	if outcome.File.Status == FileStatusFailed {
		fileEvent.Kind = EventFileFailed
		fileEvent.Error = outcome.File.Error
	} else {
		fileEvent.Kind = EventFileCompleted
	}

	progressed := base
	progressed.Kind = EventJobProgressed

	events := []Event{fileEvent, progressed}

	if outcome.FailureLatched {
		failed := base
		failed.Kind = EventJobFailed
		failed.Error = job.Error
		events = append(events, failed)
	}

	if outcome.Finalized && job.Status == JobStatusCompleted {
		completed := base
		completed.Kind = EventJobCompleted
		events = append(events, completed)
	}

	return events
}
