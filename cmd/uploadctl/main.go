package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/upload-pipeline/internal/cli"
	"github.com/cuongbtq/upload-pipeline/shared/logger"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger := logger.NewDefault()

	cmd := cli.NewRootCmd(cli.Options{
		Logger: appLogger.WithAttrs(slog.String("service", "uploadctl")).Logger,
	})
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
