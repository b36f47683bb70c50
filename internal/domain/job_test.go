package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_ApplyFileOutcome(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name          string
		job           Job
		status        FileStatus
		reason        string
		wantStatus    JobStatus
		wantProcessed int
		wantFinalized bool
		wantLatched   bool
		wantError     string
		wantErr       error
	}{
		{
			name:          "first success of three stays processing",
			job:           Job{TotalFiles: 3, Status: JobStatusProcessing},
			status:        FileStatusCompleted,
			wantStatus:    JobStatusProcessing,
			wantProcessed: 1,
		},
		{
			name:          "pending job passes through processing",
			job:           Job{TotalFiles: 2, Status: JobStatusPending},
			status:        FileStatusCompleted,
			wantStatus:    JobStatusProcessing,
			wantProcessed: 1,
		},
		{
			name:          "last success completes",
			job:           Job{TotalFiles: 3, ProcessedFiles: 2, Status: JobStatusProcessing},
			status:        FileStatusCompleted,
			wantStatus:    JobStatusCompleted,
			wantProcessed: 3,
			wantFinalized: true,
		},
		{
			name:          "first failure latches failed",
			job:           Job{TotalFiles: 3, ProcessedFiles: 1, Status: JobStatusProcessing},
			status:        FileStatusFailed,
			reason:        "disk full",
			wantStatus:    JobStatusFailed,
			wantProcessed: 2,
			wantLatched:   true,
			wantError:     "disk full",
		},
		{
			name:          "success after failure keeps failed and first error",
			job:           Job{TotalFiles: 3, ProcessedFiles: 2, FailedFiles: 1, Status: JobStatusFailed, Error: "disk full"},
			status:        FileStatusCompleted,
			wantStatus:    JobStatusFailed,
			wantProcessed: 3,
			wantFinalized: true,
			wantError:     "disk full",
		},
		{
			name:          "second failure keeps first error",
			job:           Job{TotalFiles: 2, ProcessedFiles: 1, FailedFiles: 1, Status: JobStatusFailed, Error: "first"},
			status:        FileStatusFailed,
			reason:        "second",
			wantStatus:    JobStatusFailed,
			wantProcessed: 2,
			wantFinalized: true,
			wantError:     "first",
		},
		{
			name:          "single file failure latches and finalizes",
			job:           Job{TotalFiles: 1, Status: JobStatusProcessing},
			status:        FileStatusFailed,
			reason:        "source missing",
			wantStatus:    JobStatusFailed,
			wantProcessed: 1,
			wantFinalized: true,
			wantLatched:   true,
			wantError:     "source missing",
		},
		{
			name:          "outcome past total is rejected",
			job:           Job{TotalFiles: 1, ProcessedFiles: 1, Status: JobStatusCompleted},
			status:        FileStatusCompleted,
			wantStatus:    JobStatusCompleted,
			wantProcessed: 1,
			wantErr:       ErrJobFinalized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job

			finalized, latched, err := job.ApplyFileOutcome(tt.status, tt.reason, now)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStatus, job.Status)
			assert.Equal(t, tt.wantProcessed, job.ProcessedFiles)
			assert.Equal(t, tt.wantFinalized, finalized)
			assert.Equal(t, tt.wantLatched, latched)
			assert.Equal(t, tt.wantError, job.Error)
			assert.LessOrEqual(t, job.ProcessedFiles, job.TotalFiles)
			if finalized {
				require.NotNil(t, job.CompletedAt)
				assert.Equal(t, now, *job.CompletedAt)
			}
		})
	}
}

func TestJob_ApplyFileOutcome_RejectsNonTerminal(t *testing.T) {
	job := Job{TotalFiles: 1, Status: JobStatusProcessing}

	_, _, err := job.ApplyFileOutcome(FileStatusProcessing, "", time.Now())
	require.Error(t, err)
	assert.Equal(t, 0, job.ProcessedFiles)
}

func TestJob_MarkProcessing(t *testing.T) {
	for _, status := range []JobStatus{JobStatusProcessing, JobStatusCompleted, JobStatusFailed} {
		job := Job{Status: status}
		assert.False(t, job.MarkProcessing(time.Now()))
		assert.Equal(t, status, job.Status)
	}

	job := Job{Status: JobStatusPending}
	assert.True(t, job.MarkProcessing(time.Now()))
	assert.Equal(t, JobStatusProcessing, job.Status)
}

func TestEventsFor(t *testing.T) {
	now := time.Now()

	t.Run("not applied emits nothing", func(t *testing.T) {
		assert.Empty(t, EventsFor(&Outcome{Applied: false}, now))
		assert.Empty(t, EventsFor(nil, now))
	})

	t.Run("completion of last file", func(t *testing.T) {
		events := EventsFor(&Outcome{
			Applied:   true,
			File:      File{FileID: "f1", Status: FileStatusCompleted},
			Job:       Job{JobID: "j1", OwnerID: "u1", TotalFiles: 1, ProcessedFiles: 1, Status: JobStatusCompleted},
			Finalized: true,
		}, now)

		require.Len(t, events, 3)
		assert.Equal(t, EventFileCompleted, events[0].Kind)
		assert.Equal(t, "f1", events[0].FileID)
		assert.Equal(t, EventJobProgressed, events[1].Kind)
		assert.Equal(t, EventJobCompleted, events[2].Kind)
		assert.Equal(t, "u1", events[2].OwnerID)
	})

	t.Run("first failure", func(t *testing.T) {
		events := EventsFor(&Outcome{
			Applied:        true,
			File:           File{FileID: "f2", Status: FileStatusFailed, Error: "boom"},
			Job:            Job{JobID: "j1", TotalFiles: 3, ProcessedFiles: 1, Status: JobStatusFailed, Error: "boom"},
			FailureLatched: true,
		}, now)

		require.Len(t, events, 3)
		assert.Equal(t, EventFileFailed, events[0].Kind)
		assert.Equal(t, "boom", events[0].Error)
		assert.Equal(t, EventJobProgressed, events[1].Kind)
		assert.Equal(t, EventJobFailed, events[2].Kind)
	})

	t.Run("finalizing an already failed job does not re-announce", func(t *testing.T) {
		events := EventsFor(&Outcome{
			Applied:   true,
			File:      File{FileID: "f3", Status: FileStatusCompleted},
			Job:       Job{JobID: "j1", TotalFiles: 3, ProcessedFiles: 3, Status: JobStatusFailed},
			Finalized: true,
		}, now)

		require.Len(t, events, 2)
		assert.Equal(t, EventJobProgressed, events[1].Kind)
	})
}

func TestWorkItem_Validate(t *testing.T) {
	valid := WorkItem{FileID: "f", JobID: "j", StagedLocation: "staging/a.pdf", FinalLocation: "files/u/j/f.pdf", MaxAttempts: 3}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(w *WorkItem)
	}{
		{"missing file id", func(w *WorkItem) { w.FileID = "" }},
		{"missing job id", func(w *WorkItem) { w.JobID = "" }},
		{"missing staged location", func(w *WorkItem) { w.StagedLocation = "" }},
		{"missing final location", func(w *WorkItem) { w.FinalLocation = "" }},
		{"negative max attempts", func(w *WorkItem) { w.MaxAttempts = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := valid
			tt.mutate(&item)
			assert.ErrorIs(t, item.Validate(), ErrInvalidPayload)
		})
	}
}

func TestErrors(t *testing.T) {
	err := NewRetryableError(ErrConcurrencyConflict)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.False(t, IsRetryable(ErrJobNotFound))

	verr := NewValidationError("files", "at most %d files", 5)
	var target *ValidationError
	require.ErrorAs(t, verr, &target)
	assert.Equal(t, "files", target.Field)
	assert.Equal(t, "validation failed: files: at most 5 files", verr.Error())
}
