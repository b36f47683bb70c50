package redisclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection with PING
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Connected to Redis",
		slog.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB),
	)

	return client, nil
}
