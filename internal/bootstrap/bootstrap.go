// Package bootstrap builds the clients shared by the service binaries from
// their configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/upload-pipeline/internal/blob"
	"github.com/cuongbtq/upload-pipeline/internal/config"
	"github.com/cuongbtq/upload-pipeline/internal/notify"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
	"github.com/cuongbtq/upload-pipeline/shared/logger"
	"github.com/cuongbtq/upload-pipeline/shared/postgresql"
	"github.com/cuongbtq/upload-pipeline/shared/rabbitmq"
	"github.com/cuongbtq/upload-pipeline/shared/redisclient"
)

// Logger initializes and configures the application logger
func Logger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// PostgreSQL initializes the PostgreSQL database client
func PostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// Migrate applies the embedded ledger migrations
func Migrate(cfg *config.DatabaseConfig, logger *slog.Logger) error {
	return postgresql.Migrate(storage.Migrations, storage.MigrationsDir, cfg.DatabaseURL(), logger)
}

// RabbitMQ initializes the RabbitMQ client
func RabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		DeadLetterExchange: cfg.Queue.DeadLetterExchange,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// BlobStore opens the configured storage backend
func BlobStore(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (blob.Store, error) {
	switch cfg.Driver {
	case config.StorageDriverLocal, "":
		store, err := blob.NewLocalStore(cfg.Local.Root)
		if err != nil {
			return nil, err
		}
		logger.Info("Using local blob store", slog.String("root", cfg.Local.Root))
		return store, nil
	case config.StorageDriverS3:
		store, err := blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			UseSSL:       cfg.S3.UseSSL,
			CreateBucket: cfg.S3.CreateBucket,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}

// Redis connects to Redis; it returns a nil client when Redis is disabled
func Redis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return redisclient.NewClient(ctx, redisclient.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, logger)
}

// Notifier publishes events to Redis when a client is given and logs them otherwise
func Notifier(client *redis.Client, cfg *config.RedisConfig, logger *slog.Logger) notify.Notifier {
	if client == nil {
		return notify.NewLogNotifier(logger)
	}
	return notify.NewRedisNotifier(client, cfg.ChannelPrefix, cfg.PublishTimeout, logger)
}
