package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/upload-pipeline/internal/blob"
	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/queue"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seeded is a job created directly in the ledger with its bytes staged.
type seeded struct {
	job    *domain.Job
	files  []domain.File
	bodies [][]byte
}

func seedJob(t *testing.T, ledger storage.Ledger, blobs blob.Store, updatedAt time.Time, contents ...string) *seeded {
	t.Helper()
	ctx := context.Background()

	owner := uuid.NewString()
	job := &domain.Job{
		JobID:      uuid.NewString(),
		OwnerID:    owner,
		TotalFiles: len(contents),
		Status:     domain.JobStatusProcessing,
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
	}

	s := &seeded{job: job}
	for i, content := range contents {
		obj, err := blobs.WriteStaged(ctx, "doc.txt", strings.NewReader(content))
		require.NoError(t, err)

		fileID := uuid.NewString()
		s.files = append(s.files, domain.File{
			FileID:       fileID,
			JobID:        job.JobID,
			OwnerID:      owner,
			Position:     i,
			OriginalName: "doc.txt",
			MimeType:     "text/plain",
			Size:         obj.Size,
			StagedKey:    obj.Key,
			StorageKey:   blob.FinalKey(owner, job.JobID, fileID, "doc.txt"),
			Status:       domain.FileStatusProcessing,
			CreatedAt:    updatedAt,
			UpdatedAt:    updatedAt,
		})
	}
	require.NoError(t, ledger.CreateJob(ctx, job, s.files))

	for i := range s.files {
		body, err := queue.Encode(domain.WorkItemFor(&s.files[i], 3, updatedAt))
		require.NoError(t, err)
		s.bodies = append(s.bodies, body)
	}
	return s
}

// recordingNotifier keeps every event it is handed.
type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, event domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count(kind domain.EventKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Kind == kind {
			c++
		}
	}
	return c
}

var errFlaky = errors.New("connection reset by peer")

// flakyStore fails Move with errFlaky for the first failures calls, and
// blocks until ctx ends when block is set.
type flakyStore struct {
	blob.Store
	mu       sync.Mutex
	failures int
	moves    int
	block    bool
}

func (s *flakyStore) Move(ctx context.Context, from, to string) error {
	s.mu.Lock()
	s.moves++
	fail := s.moves <= s.failures
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errFlaky
	}
	return s.Store.Move(ctx, from, to)
}

func (s *flakyStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moves
}

// conflictingLedger fails the first conflicts outcome writes with a lock conflict.
type conflictingLedger struct {
	storage.Ledger
	mu        sync.Mutex
	conflicts int
}

func (l *conflictingLedger) RecordFileOutcome(ctx context.Context, fileID string, status domain.FileStatus, reason string) (*domain.Outcome, error) {
	l.mu.Lock()
	if l.conflicts > 0 {
		l.conflicts--
		l.mu.Unlock()
		return nil, domain.ErrConcurrencyConflict
	}
	l.mu.Unlock()
	return l.Ledger.RecordFileOutcome(ctx, fileID, status, reason)
}

func newLocalStore(t *testing.T) *blob.LocalStore {
	t.Helper()
	store, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func newProcessor(ledger storage.Ledger, blobs blob.Store, notifier *recordingNotifier) *Processor {
	return NewProcessor(ProcessorConfig{
		Ledger:      ledger,
		Blobs:       blobs,
		Notifier:    notifier,
		Logger:      testLogger(),
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		FileTimeout: 5 * time.Second,
	})
}
