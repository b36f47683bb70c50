package blob

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	minioAccessKey = "uploads"
	minioSecretKey = "test-password"
)

// setupMinIO starts MinIO in a container and returns its host:port.
// It is skipped unless TEST_INTEGRATION is set.
func setupMinIO(t *testing.T) string {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Skipping integration test: TEST_INTEGRATION is not set")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/minio/minio:latest",
			Cmd:          []string{"server", "/data"},
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioAccessKey,
				"MINIO_ROOT_PASSWORD": minioSecretKey,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").
				WithPort("9000/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)
	return endpoint
}

func TestS3Store(t *testing.T) {
	endpoint := setupMinIO(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := S3Config{
		Endpoint:  endpoint,
		AccessKey: minioAccessKey,
		SecretKey: minioSecretKey,
		Bucket:    "uploads",
		Region:    "us-east-1",
	}

	t.Run("missing bucket without create", func(t *testing.T) {
		_, err := NewS3Store(ctx, cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	})

	cfg.CreateBucket = true
	store, err := NewS3Store(ctx, cfg, logger)
	require.NoError(t, err)

	t.Run("bucket is reused", func(t *testing.T) {
		_, err := NewS3Store(ctx, cfg, logger)
		require.NoError(t, err)
	})

	t.Run("write staged", func(t *testing.T) {
		obj := stage(t, store, "Report.PDF", "hello")

		assert.True(t, strings.HasPrefix(obj.Key, "staging/"))
		assert.True(t, strings.HasSuffix(obj.Key, ".pdf"))
		assert.Equal(t, int64(5), obj.Size)

		info, err := store.Stat(ctx, obj.Key)
		require.NoError(t, err)
		assert.Equal(t, int64(5), info.Size)
		assert.Equal(t, "hello", readAll(t, store, obj.Key))
	})

	t.Run("move", func(t *testing.T) {
		obj := stage(t, store, "photo.png", "pixels")
		dst := FinalKey("owner-1", "job-1", "file-1", "photo.png")

		require.NoError(t, store.Move(ctx, obj.Key, dst))
		assert.Equal(t, "pixels", readAll(t, store, dst))

		_, err := store.Stat(ctx, obj.Key)
		assert.ErrorIs(t, err, ErrNotFound, "source is removed after the copy")

		require.NoError(t, store.Move(ctx, obj.Key, dst), "repeating a finished move succeeds")
	})

	t.Run("move missing source", func(t *testing.T) {
		err := store.Move(ctx, "staging/missing.png", FinalKey("owner-1", "job-1", "file-2", "missing.png"))
		assert.ErrorIs(t, err, ErrNotFound)
		assert.True(t, IsPermanent(err))
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := store.Stat(ctx, "files/nobody/nothing.txt")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = store.Open(ctx, "files/nobody/nothing.txt")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid key", func(t *testing.T) {
		_, err := store.Stat(ctx, "../escape")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("delete", func(t *testing.T) {
		obj := stage(t, store, "notes.txt", "bye")

		require.NoError(t, store.Delete(ctx, obj.Key))
		_, err := store.Stat(ctx, obj.Key)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.Delete(ctx, obj.Key), "deleting a missing object is not an error")
	})
}
