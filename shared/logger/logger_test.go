package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jsonLines decodes every line written by a json logger.
func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{level: "debug", want: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{level: "info", want: []string{"INFO", "WARN", "ERROR"}},
		{level: "warn", want: []string{"WARN", "ERROR"}},
		{level: "error", want: []string{"ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := New(&Config{Level: tt.level, Format: "json", writer: &buf})
			require.NoError(t, err)

			l.Debug("File moved")
			l.Info("File moved")
			l.Warn("File moved")
			l.Error("File moved")

			var levels []string
			for _, entry := range jsonLines(t, &buf) {
				levels = append(levels, entry["level"].(string))
			}
			assert.Equal(t, tt.want, levels)
		})
	}
}

func TestNew_JSONAttributes(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: "info", Format: "json", EnableSource: true, writer: &buf})
	require.NoError(t, err)

	l.Info("Job finalized",
		slog.String("job_id", "job-1"),
		slog.Int("total_files", 3),
	)

	entries := jsonLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "Job finalized", entries[0]["msg"])
	assert.Equal(t, "job-1", entries[0]["job_id"])
	assert.EqualValues(t, 3, entries[0]["total_files"])
	assert.Contains(t, entries[0], "source")
}

func TestNew_ConsoleFormat(t *testing.T) {
	for _, format := range []string{"console", ""} {
		var buf bytes.Buffer
		l, err := New(&Config{Level: "info", Format: format, writer: &buf})
		require.NoError(t, err)

		l.Info("Worker started", slog.Int("concurrency", 4))

		out := buf.String()
		assert.Contains(t, out, "Worker started")
		// tint colours the key apart from its value
		assert.Contains(t, out, "concurrency")
		assert.Contains(t, out, "4")
		assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())), "console output is not json")
	}
}

func TestNew_UnknownFormatFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Format: "logfmt", writer: &buf})
	require.NoError(t, err)

	l.Info("Reaper started")
	require.Len(t, jsonLines(t, &buf), 1)
}

func TestLogger_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	root, err := New(&Config{Level: "info", Format: "json", writer: &buf})
	require.NoError(t, err)

	scoped := root.WithAttrs(slog.String("service", "upload-worker"), slog.String("worker_id", "host-1"))
	scoped.Info("Processing file", slog.String("file_id", "f-1"))
	root.Info("Shutting down")

	entries := jsonLines(t, &buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "upload-worker", entries[0]["service"])
	assert.Equal(t, "host-1", entries[0]["worker_id"])
	assert.Equal(t, "f-1", entries[0]["file_id"])

	assert.NotContains(t, entries[1], "service", "the root logger stays unscoped")
	assert.NoError(t, scoped.Close(), "scoped loggers own no output")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"DEBUG":   slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}

	for input, want := range tests {
		assert.Equal(t, want, parseLevel(input), "level %q", input)
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads.log")

	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	l.Info("Server started", slog.Int("port", 8080))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	entries := jsonLines(t, bytes.NewBuffer(data))
	require.Len(t, entries, 1)
	assert.Equal(t, "Server started", entries[0]["msg"])
}

func TestNew_FileOutputUnwritable(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "uploads.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
}

func TestNewDefault(t *testing.T) {
	l := NewDefault()
	require.NotNil(t, l)
	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, l.Enabled(context.Background(), slog.LevelDebug))
	assert.NoError(t, l.Close())
}
