package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/upload-pipeline/internal/api/dto"
	"github.com/cuongbtq/upload-pipeline/internal/config"
	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/notify"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

const testConfig = "../config/testdata/valid_config.yaml"

type harness struct {
	ledger   *storage.MemoryLedger
	out      *bytes.Buffer
	events   []domain.Event
	migrated int
	released int
}

// Notify records events; the CLI reaps sequentially.
func (h *harness) Notify(ctx context.Context, event domain.Event) {
	h.events = append(h.events, event)
}

func newHarness() *harness {
	return &harness{ledger: storage.NewMemoryLedger(), out: &bytes.Buffer{}}
}

func (h *harness) run(args ...string) error {
	cmd := NewRootCmd(Options{
		Out: h.out,
		OpenLedger: func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Ledger, func(), error) {
			return h.ledger, func() { h.released++ }, nil
		},
		OpenNotifier: func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Notifier, func(), error) {
			return h, func() { h.released++ }, nil
		},
		Migrate: func(cfg *config.Config, logger *slog.Logger) error {
			h.migrated++
			return nil
		},
	})
	cmd.SetArgs(append([]string{"--config", testConfig}, args...))
	return cmd.ExecuteContext(context.Background())
}

func seed(t *testing.T, ledger storage.Ledger, updatedAt time.Time, statuses ...domain.FileStatus) *domain.Job {
	t.Helper()

	owner := uuid.NewString()
	job := &domain.Job{
		JobID:      uuid.NewString(),
		OwnerID:    owner,
		TotalFiles: len(statuses),
		Status:     domain.JobStatusProcessing,
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
	}
	files := make([]domain.File, len(statuses))
	for i, status := range statuses {
		files[i] = domain.File{
			FileID:       uuid.NewString(),
			JobID:        job.JobID,
			OwnerID:      owner,
			Position:     i,
			OriginalName: "report.pdf",
			MimeType:     "application/pdf",
			Size:         4,
			Status:       status,
			CreatedAt:    updatedAt,
			UpdatedAt:    updatedAt,
		}
	}
	require.NoError(t, ledger.CreateJob(context.Background(), job, files))
	return job
}

func TestMigrate(t *testing.T) {
	h := newHarness()

	require.NoError(t, h.run("migrate"))
	assert.Equal(t, 1, h.migrated)
	assert.Contains(t, h.out.String(), "Migrations applied")
}

func TestStatus(t *testing.T) {
	h := newHarness()
	job := seed(t, h.ledger, time.Now().UTC(), domain.FileStatusProcessing, domain.FileStatusProcessing)

	t.Run("text", func(t *testing.T) {
		h.out.Reset()
		require.NoError(t, h.run("status", job.JobID, "--owner", job.OwnerID))

		out := h.out.String()
		assert.Contains(t, out, "Job: "+job.JobID)
		assert.Contains(t, out, "Status: processing")
		assert.Contains(t, out, "Progress: 0/2 (0 failed)")
		assert.Contains(t, out, "report.pdf")
	})

	t.Run("json", func(t *testing.T) {
		h.out.Reset()
		require.NoError(t, h.run("status", job.JobID, "--owner", job.OwnerID, "--json"))

		var resp dto.JobStatusResponse
		require.NoError(t, json.Unmarshal(h.out.Bytes(), &resp))
		assert.Equal(t, job.JobID, resp.Job.JobID)
		assert.Len(t, resp.Files, 2)
	})

	t.Run("wrong owner", func(t *testing.T) {
		err := h.run("status", job.JobID, "--owner", uuid.NewString())
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
	})

	t.Run("unknown job", func(t *testing.T) {
		err := h.run("status", uuid.NewString(), "--owner", job.OwnerID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrJobNotFound))
	})

	t.Run("owner required", func(t *testing.T) {
		require.Error(t, h.run("status", job.JobID))
	})

	assert.Equal(t, 4, h.released)
}

func TestReap(t *testing.T) {
	h := newHarness()
	stale := seed(t, h.ledger, time.Now().UTC().Add(-time.Hour), domain.FileStatusProcessing)
	fresh := seed(t, h.ledger, time.Now().UTC(), domain.FileStatusProcessing)

	require.NoError(t, h.run("reap", "--stale-after", "10m"))
	assert.Contains(t, h.out.String(), "Reaped 1 files")

	got, err := h.ledger.GetJob(context.Background(), stale.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)

	got, err = h.ledger.GetJob(context.Background(), fresh.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)

	kinds := make(map[domain.EventKind]int)
	for _, event := range h.events {
		assert.Equal(t, stale.JobID, event.JobID, "only the reaped job is announced")
		kinds[event.Kind]++
	}
	assert.Equal(t, 1, kinds[domain.EventFileFailed])
	assert.Equal(t, 1, kinds[domain.EventJobFailed])
	assert.Equal(t, 2, h.released, "ledger and notifier are both released")
}

func TestReap_DefaultsToConfiguredStaleAfter(t *testing.T) {
	h := newHarness()
	// valid_config.yaml sets reaper.stale_after to 1h
	stale := seed(t, h.ledger, time.Now().UTC().Add(-2*time.Hour), domain.FileStatusProcessing)
	seed(t, h.ledger, time.Now().UTC().Add(-30*time.Minute), domain.FileStatusProcessing)

	require.NoError(t, h.run("reap"))
	assert.Contains(t, h.out.String(), "Reaped 1 files")

	got, err := h.ledger.GetJob(context.Background(), stale.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
}

func TestInvalidConfig(t *testing.T) {
	cmd := NewRootCmd(Options{Out: &bytes.Buffer{}})
	cmd.SetArgs([]string{"--config", "../config/testdata/missing_database.yaml", "migrate"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
