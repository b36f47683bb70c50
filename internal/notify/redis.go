package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/metrics"
)

// publisher is the slice of the Redis client the notifier needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes events as JSON on the owner's and the job's
// channels; the socket layer subscribes to them.
type RedisNotifier struct {
	client  publisher
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRedisNotifier creates a new RedisNotifier
func NewRedisNotifier(client publisher, prefix string, timeout time.Duration, logger *slog.Logger) *RedisNotifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisNotifier{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		logger:  logger,
	}
}

// UserChannel is the channel carrying every event of one owner.
func (n *RedisNotifier) UserChannel(ownerID string) string {
	return fmt.Sprintf("%s:user:%s", n.prefix, ownerID)
}

// JobChannel is the channel carrying the events of one job.
func (n *RedisNotifier) JobChannel(jobID string) string {
	return fmt.Sprintf("%s:job:%s", n.prefix, jobID)
}

func (n *RedisNotifier) Notify(ctx context.Context, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.fail(event, "", err)
		return
	}

	// Detached from ctx so a cancelled request or a shutting-down worker
	// still delivers the event.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	for _, channel := range []string{n.UserChannel(event.OwnerID), n.JobChannel(event.JobID)} {
		if err := n.client.Publish(pubCtx, channel, payload).Err(); err != nil {
			n.fail(event, channel, err)
		}
	}
}

func (n *RedisNotifier) fail(event domain.Event, channel string, err error) {
	metrics.NotificationFailuresTotal.Inc()
	n.logger.Warn("Failed to publish notification",
		slog.String("kind", string(event.Kind)),
		slog.String("job_id", event.JobID),
		slog.String("channel", channel),
		slog.Any("error", err),
	)
}
