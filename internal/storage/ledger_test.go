package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
)

// newJob builds a pending job with n processing files owned by ownerID.
func newJob(ownerID string, n int, createdAt time.Time) (*domain.Job, []domain.File) {
	job := &domain.Job{
		JobID:      uuid.NewString(),
		OwnerID:    ownerID,
		TotalFiles: n,
		Status:     domain.JobStatusPending,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}

	files := make([]domain.File, n)
	for i := range files {
		id := uuid.NewString()
		files[i] = domain.File{
			FileID:       id,
			JobID:        job.JobID,
			OwnerID:      ownerID,
			Position:     i,
			OriginalName: "doc.pdf",
			MimeType:     "application/pdf",
			Size:         128,
			StagedKey:    "staging/" + id + ".pdf",
			StorageKey:   "files/" + ownerID + "/" + job.JobID + "/" + id + ".pdf",
			Status:       domain.FileStatusProcessing,
			CreatedAt:    createdAt,
			UpdatedAt:    createdAt,
		}
	}

	return job, files
}

// runLedgerSuite checks the behaviour every Ledger implementation shares.
func runLedgerSuite(t *testing.T, newLedger func(t *testing.T) Ledger) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("create and snapshot", func(t *testing.T) {
		ledger := newLedger(t)
		job, files := newJob(uuid.NewString(), 3, now)

		require.NoError(t, ledger.CreateJob(ctx, job, files))

		snap, err := ledger.GetJobSnapshot(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, snap.Job.Status)
		assert.Equal(t, 3, snap.Job.TotalFiles)
		assert.Equal(t, 0, snap.Job.ProcessedFiles)
		require.Len(t, snap.Files, 3)
		for i, f := range snap.Files {
			assert.Equal(t, files[i].FileID, f.FileID)
			assert.Equal(t, domain.FileStatusProcessing, f.Status)
		}
	})

	t.Run("unknown ids", func(t *testing.T) {
		ledger := newLedger(t)

		_, err := ledger.GetJobSnapshot(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrJobNotFound)

		_, err = ledger.GetJob(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)

		_, err = ledger.GetFile(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrFileNotFound)

		_, err = ledger.RecordFileOutcome(ctx, uuid.NewString(), domain.FileStatusCompleted, "")
		assert.ErrorIs(t, err, domain.ErrFileNotFound)
	})

	t.Run("mark processing only from pending", func(t *testing.T) {
		ledger := newLedger(t)
		job, files := newJob(uuid.NewString(), 1, now)
		require.NoError(t, ledger.CreateJob(ctx, job, files))

		moved, err := ledger.MarkJobProcessing(ctx, job.JobID)
		require.NoError(t, err)
		assert.True(t, moved)

		moved, err = ledger.MarkJobProcessing(ctx, job.JobID)
		require.NoError(t, err)
		assert.False(t, moved)

		_, err = ledger.RecordFileOutcome(ctx, files[0].FileID, domain.FileStatusCompleted, "")
		require.NoError(t, err)

		moved, err = ledger.MarkJobProcessing(ctx, job.JobID)
		require.NoError(t, err)
		assert.False(t, moved)

		got, err := ledger.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
	})

	t.Run("all files succeed", func(t *testing.T) {
		ledger := newLedger(t)
		job, files := newJob(uuid.NewString(), 3, now)
		require.NoError(t, ledger.CreateJob(ctx, job, files))
		_, err := ledger.MarkJobProcessing(ctx, job.JobID)
		require.NoError(t, err)

		var finalized int
		for i, f := range files {
			outcome, err := ledger.RecordFileOutcome(ctx, f.FileID, domain.FileStatusCompleted, "")
			require.NoError(t, err)
			assert.True(t, outcome.Applied)
			assert.Equal(t, i+1, outcome.Job.ProcessedFiles)
			if outcome.Finalized {
				finalized++
			}
		}

		assert.Equal(t, 1, finalized)
		got, err := ledger.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
		assert.Equal(t, 3, got.ProcessedFiles)
		assert.Empty(t, got.Error)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("one failure fails the job and counts as processed", func(t *testing.T) {
		ledger := newLedger(t)
		job, files := newJob(uuid.NewString(), 3, now)
		require.NoError(t, ledger.CreateJob(ctx, job, files))

		_, err := ledger.RecordFileOutcome(ctx, files[0].FileID, domain.FileStatusCompleted, "")
		require.NoError(t, err)

		outcome, err := ledger.RecordFileOutcome(ctx, files[1].FileID, domain.FileStatusFailed, "source missing")
		require.NoError(t, err)
		assert.True(t, outcome.FailureLatched)
		assert.Equal(t, domain.JobStatusFailed, outcome.Job.Status)
		assert.Equal(t, "source missing", outcome.File.Error)

		outcome, err = ledger.RecordFileOutcome(ctx, files[2].FileID, domain.FileStatusCompleted, "")
		require.NoError(t, err)
		assert.True(t, outcome.Finalized)
		assert.False(t, outcome.FailureLatched)

		snap, err := ledger.GetJobSnapshot(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, snap.Job.Status)
		assert.Equal(t, 3, snap.Job.ProcessedFiles)
		assert.Equal(t, 1, snap.Job.FailedFiles)
		assert.Equal(t, "source missing", snap.Job.Error)
		assert.Equal(t, domain.FileStatusFailed, snap.Files[1].Status)
	})

	t.Run("second outcome for a file is a no-op", func(t *testing.T) {
		ledger := newLedger(t)
		job, files := newJob(uuid.NewString(), 2, now)
		require.NoError(t, ledger.CreateJob(ctx, job, files))

		first, err := ledger.RecordFileOutcome(ctx, files[0].FileID, domain.FileStatusCompleted, "")
		require.NoError(t, err)
		require.True(t, first.Applied)

		second, err := ledger.RecordFileOutcome(ctx, files[0].FileID, domain.FileStatusFailed, "late")
		require.NoError(t, err)
		assert.False(t, second.Applied)
		assert.Equal(t, domain.FileStatusCompleted, second.File.Status)
		assert.Equal(t, 1, second.Job.ProcessedFiles)

		got, err := ledger.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.ProcessedFiles)
		assert.NotEqual(t, domain.JobStatusFailed, got.Status)
	})

	t.Run("concurrent outcomes finalize exactly once", func(t *testing.T) {
		ledger := newLedger(t)
		const n = 10
		job, files := newJob(uuid.NewString(), n, now)
		require.NoError(t, ledger.CreateJob(ctx, job, files))
		_, err := ledger.MarkJobProcessing(ctx, job.JobID)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			finalized int
			seen      []int
		)
		for _, f := range files {
			wg.Add(1)
			go func(fileID string) {
				defer wg.Done()
				for {
					outcome, err := ledger.RecordFileOutcome(ctx, fileID, domain.FileStatusCompleted, "")
					if errors.Is(err, domain.ErrConcurrencyConflict) {
						continue
					}
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					seen = append(seen, outcome.Job.ProcessedFiles)
					if outcome.Finalized {
						finalized++
					}
					mu.Unlock()
					return
				}
			}(f.FileID)
		}
		wg.Wait()

		assert.Equal(t, 1, finalized)
		assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seen)

		got, err := ledger.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, n, got.ProcessedFiles)
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
	})

	t.Run("list files pages newest first", func(t *testing.T) {
		ledger := newLedger(t)
		owner := uuid.NewString()

		for i := 0; i < 3; i++ {
			job, files := newJob(owner, 2, now.Add(time.Duration(i)*time.Minute))
			require.NoError(t, ledger.CreateJob(ctx, job, files))
		}
		other, otherFiles := newJob(uuid.NewString(), 1, now)
		require.NoError(t, ledger.CreateJob(ctx, other, otherFiles))

		page, err := ledger.ListFiles(ctx, FileFilter{OwnerID: owner, PageSize: 4})
		require.NoError(t, err)
		require.Len(t, page, 5, "one extra row signals another page")
		for i := 1; i < len(page); i++ {
			assert.False(t, page[i].CreatedAt.After(page[i-1].CreatedAt))
		}

		last := page[3]
		rest, err := ledger.ListFiles(ctx, FileFilter{
			OwnerID:  owner,
			PageSize: 4,
			Cursor:   &FileCursor{CreatedAt: last.CreatedAt, FileID: last.FileID},
		})
		require.NoError(t, err)
		assert.Len(t, rest, 2)
		for _, f := range rest {
			assert.Equal(t, owner, f.OwnerID)
		}
	})

	t.Run("delete only terminal files", func(t *testing.T) {
		ledger := newLedger(t)
		job, files := newJob(uuid.NewString(), 2, now)
		require.NoError(t, ledger.CreateJob(ctx, job, files))

		err := ledger.DeleteFile(ctx, files[0].FileID)
		assert.ErrorIs(t, err, domain.ErrFileNotDeletable)

		_, err = ledger.RecordFileOutcome(ctx, files[0].FileID, domain.FileStatusCompleted, "")
		require.NoError(t, err)
		require.NoError(t, ledger.DeleteFile(ctx, files[0].FileID))

		_, err = ledger.GetFile(ctx, files[0].FileID)
		assert.ErrorIs(t, err, domain.ErrFileNotFound)

		err = ledger.DeleteFile(ctx, files[0].FileID)
		assert.ErrorIs(t, err, domain.ErrFileNotFound)
	})

	t.Run("stale processing files", func(t *testing.T) {
		ledger := newLedger(t)
		old := now.Add(-2 * time.Hour)
		job, files := newJob(uuid.NewString(), 2, old)
		require.NoError(t, ledger.CreateJob(ctx, job, files))
		_, err := ledger.RecordFileOutcome(ctx, files[0].FileID, domain.FileStatusCompleted, "")
		require.NoError(t, err)

		fresh, freshFiles := newJob(uuid.NewString(), 1, now)
		require.NoError(t, ledger.CreateJob(ctx, fresh, freshFiles))

		stale, err := ledger.ListStaleFiles(ctx, now.Add(-time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, files[1].FileID, stale[0].FileID)
	})

	t.Run("record activity", func(t *testing.T) {
		ledger := newLedger(t)
		details, err := json.Marshal(map[string]any{"job_id": uuid.NewString(), "file_count": 2})
		require.NoError(t, err)

		err = ledger.RecordActivity(ctx, &domain.Activity{
			ActivityID: uuid.NewString(),
			UserID:     uuid.NewString(),
			Action:     domain.ActivityFileUpload,
			Details:    details,
			CreatedAt:  now,
		})
		require.NoError(t, err)
	})

	t.Run("list activities newest first with filters", func(t *testing.T) {
		ledger := newLedger(t)
		user := uuid.NewString()

		details, err := json.Marshal(map[string]any{"file_id": "f-1"})
		require.NoError(t, err)

		actions := []domain.ActivityAction{
			domain.ActivityFileUpload,
			domain.ActivityFileDownload,
			domain.ActivityFileUpload,
			domain.ActivityFileDelete,
		}
		ids := make([]string, len(actions))
		for i, action := range actions {
			ids[i] = uuid.NewString()
			require.NoError(t, ledger.RecordActivity(ctx, &domain.Activity{
				ActivityID: ids[i],
				UserID:     user,
				Action:     action,
				Details:    details,
				CreatedAt:  now.Add(time.Duration(i) * time.Minute),
			}))
		}
		require.NoError(t, ledger.RecordActivity(ctx, &domain.Activity{
			ActivityID: uuid.NewString(),
			UserID:     uuid.NewString(),
			Action:     domain.ActivityFileUpload,
			CreatedAt:  now,
		}))

		page, err := ledger.ListActivities(ctx, ActivityFilter{UserID: user, PageSize: 2})
		require.NoError(t, err)
		require.Len(t, page, 3, "one extra row signals a next page")
		assert.Equal(t, ids[3], page[0].ActivityID)
		assert.Equal(t, ids[2], page[1].ActivityID)
		assert.JSONEq(t, string(details), string(page[0].Details))

		rest, err := ledger.ListActivities(ctx, ActivityFilter{
			UserID:   user,
			PageSize: 2,
			Cursor:   &ActivityCursor{CreatedAt: page[1].CreatedAt, ActivityID: page[1].ActivityID},
		})
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, ids[1], rest[0].ActivityID)
		assert.Equal(t, ids[0], rest[1].ActivityID)

		uploads, err := ledger.ListActivities(ctx, ActivityFilter{UserID: user, Action: domain.ActivityFileUpload, PageSize: 10})
		require.NoError(t, err)
		require.Len(t, uploads, 2)
		assert.Equal(t, ids[2], uploads[0].ActivityID)

		ranged, err := ledger.ListActivities(ctx, ActivityFilter{
			UserID:   user,
			From:     now.Add(time.Minute),
			To:       now.Add(2 * time.Minute),
			PageSize: 10,
		})
		require.NoError(t, err)
		require.Len(t, ranged, 2, "both range bounds are inclusive")
		assert.Equal(t, ids[2], ranged[0].ActivityID)
		assert.Equal(t, ids[1], ranged[1].ActivityID)

		none, err := ledger.ListActivities(ctx, ActivityFilter{UserID: uuid.NewString(), PageSize: 10})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
