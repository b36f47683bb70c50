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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/upload-pipeline/internal/api/handler"
	"github.com/cuongbtq/upload-pipeline/internal/api/router"
	"github.com/cuongbtq/upload-pipeline/internal/bootstrap"
	"github.com/cuongbtq/upload-pipeline/internal/config"
	"github.com/cuongbtq/upload-pipeline/internal/queue"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
	"github.com/cuongbtq/upload-pipeline/internal/upload"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.Logger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	serviceLogger := appLogger.WithAttrs(slog.String("service", cfg.App.Name)).Logger

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		if err := bootstrap.Migrate(&cfg.Database, serviceLogger); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

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
	status := upload.NewStatusQuery(ledger, cfg.Upload.StatusCacheSize, cfg.Upload.StatusCacheTTL)

	deps := &handler.Dependencies{
		Logger: serviceLogger,
		Blobs:  blobs,
		Coordinator: upload.NewCoordinator(upload.CoordinatorConfig{
			Ledger: ledger,
			Blobs:  blobs,
			Queue:  queue.NewPublisher(rabbitClient),
			Limits: upload.Limits{
				MaxFiles:         cfg.Upload.MaxFiles,
				MaxFileSize:      cfg.Upload.MaxFileSize,
				AllowedMIMETypes: cfg.Upload.AllowedMIMETypes,
			},
			MaxAttempts: cfg.Worker.MaxAttempts,
			Logger:      serviceLogger,
		}),
		Status:      status,
		Files:       upload.NewFiles(ledger, blobs, status, serviceLogger),
		Activities:  upload.NewActivities(ledger),
		Database:    dbClient,
		Broker:      rabbitClient,
		MaxFiles:    cfg.Upload.MaxFiles,
		MaxFileSize: cfg.Upload.MaxFileSize,
	}

	r := initRouter(cfg, deps, redisClient)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down server...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies, redisClient *redis.Client) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	opts := router.Options{ServiceName: cfg.App.Name}

	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}

	if cfg.RateLimit.Enabled && redisClient != nil {
		opts.RateLimit = &router.RateLimiterConfig{
			Client:    redisClient,
			Limit:     cfg.RateLimit.Limit,
			Window:    cfg.RateLimit.Window,
			KeyPrefix: cfg.Redis.ChannelPrefix + ":rl:",
			Logger:    deps.Logger,
		}
	}

	return router.SetupRouter(deps, opts)
}
