package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/upload-pipeline/internal/bootstrap"
	"github.com/cuongbtq/upload-pipeline/internal/config"
	"github.com/cuongbtq/upload-pipeline/internal/metrics"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
	"github.com/cuongbtq/upload-pipeline/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorker(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.Logger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	id := workerID()
	serviceLogger := appLogger.WithAttrs(
		slog.String("service", cfg.App.Name),
		slog.String("worker_id", id),
	).Logger

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := bootstrap.PostgreSQL(ctx, &cfg.Database, serviceLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := bootstrap.RabbitMQ(&cfg.RabbitMQ, serviceLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	blobs, err := bootstrap.BlobStore(ctx, &cfg.Storage, serviceLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	redisClient, err := bootstrap.Redis(ctx, &cfg.Redis, serviceLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledger := storage.NewPostgresLedger(dbClient.GetDB(), serviceLogger)
	notifier := bootstrap.Notifier(redisClient, &cfg.Redis, serviceLogger)

	processor := worker.NewProcessor(worker.ProcessorConfig{
		Ledger:      ledger,
		Blobs:       blobs,
		Notifier:    notifier,
		Logger:      serviceLogger,
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseDelay:   cfg.Worker.RetryBaseDelay,
		MaxDelay:    cfg.Worker.RetryMaxDelay,
		FileTimeout: cfg.Worker.FileTimeout,
	})

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        serviceLogger,
		Source:        rabbitClient,
		Processor:     processor,
		WorkerID:      id,
		QueueName:     cfg.RabbitMQ.Queue.Name,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return workerInstance.Start(gctx)
	})

	if cfg.Reaper.Enabled {
		reaper := worker.NewReaper(worker.ReaperConfig{
			Ledger:     ledger,
			Notifier:   notifier,
			Logger:     serviceLogger,
			Interval:   cfg.Reaper.Interval,
			StaleAfter: cfg.Reaper.StaleAfter,
			BatchSize:  cfg.Reaper.BatchSize,
		})
		g.Go(func() error {
			return reaper.Run(gctx)
		})
	}

	if cfg.Metrics.Enabled {
		srv := metricsServer(cfg)
		g.Go(func() error {
			appLogger.Info("Starting metrics server", slog.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	appLogger.Info("Worker service started successfully")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		appLogger.Info("Received signal, shutting down gracefully")
		select {
		case runErr = <-done:
		case <-time.After(cfg.Worker.ShutdownTimeout):
			appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
			return fmt.Errorf("shutdown timed out after %s", cfg.Worker.ShutdownTimeout)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		appLogger.Error("Worker error", slog.Any("error", runErr))
		return runErr
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

func metricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, metrics.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// workerID names the consumer so deliveries can be traced to a process
func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
