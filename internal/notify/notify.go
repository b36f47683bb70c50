// Package notify delivers pipeline events to the real-time layer. Delivery
// is fire-and-forget: failures are logged and never reach the caller.
package notify

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
)

// Notifier receives pipeline events.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event)
}

// LogNotifier writes events to the log; used when Redis is disabled.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event domain.Event) {
	n.logger.Info("Upload event",
		slog.String("kind", string(event.Kind)),
		slog.String("job_id", event.JobID),
		slog.String("owner_id", event.OwnerID),
		slog.String("file_id", event.FileID),
		slog.Int("processed_files", event.ProcessedFiles),
		slog.Int("total_files", event.TotalFiles),
		slog.String("status", string(event.Status)),
	)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, domain.Event) {}
