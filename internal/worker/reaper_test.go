package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

func TestReaper_RunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	ledger := storage.NewMemoryLedger(storage.WithClock(func() time.Time { return now }))
	blobs := newLocalStore(t)
	notifier := &recordingNotifier{}

	stale := seedJob(t, ledger, blobs, now.Add(-time.Hour), "a", "b")
	fresh := seedJob(t, ledger, blobs, now.Add(-time.Minute), "c")

	// one stale file already landed
	_, err := ledger.RecordFileOutcome(ctx, stale.files[0].FileID, domain.FileStatusCompleted, "")
	require.NoError(t, err)

	reaper := NewReaper(ReaperConfig{
		Ledger:     ledger,
		Notifier:   notifier,
		Logger:     testLogger(),
		Interval:   time.Minute,
		StaleAfter: 10 * time.Minute,
		Now:        func() time.Time { return now },
	})

	reaped, err := reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	job, err := ledger.GetJob(ctx, stale.job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.ProcessedFiles)
	assert.Equal(t, domain.ReasonDeadlineExceeded, job.Error)

	file, err := ledger.GetFile(ctx, fresh.files[0].FileID)
	require.NoError(t, err)
	assert.Equal(t, domain.FileStatusProcessing, file.Status)

	assert.Equal(t, 1, notifier.count(domain.EventFileFailed))
	assert.Equal(t, 1, notifier.count(domain.EventJobFailed))

	reaped, err = reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)
}

func TestReaper_LateWorkerIsANoop(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	ledger := storage.NewMemoryLedger()
	blobs := newLocalStore(t)
	s := seedJob(t, ledger, blobs, now.Add(-time.Hour), "late")

	reaper := NewReaper(ReaperConfig{
		Ledger:     ledger,
		Logger:     testLogger(),
		Interval:   time.Minute,
		StaleAfter: time.Minute,
	})
	reaped, err := reaper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reaped)

	p := newProcessor(ledger, blobs, &recordingNotifier{})
	require.NoError(t, p.Process(ctx, s.bodies[0]))

	job, err := ledger.GetJob(ctx, s.job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.ProcessedFiles)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
}

func TestReaper_RunStopsWithContext(t *testing.T) {
	reaper := NewReaper(ReaperConfig{
		Ledger:     storage.NewMemoryLedger(),
		Logger:     testLogger(),
		Interval:   5 * time.Millisecond,
		StaleAfter: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	assert.NoError(t, reaper.Run(ctx))
}
