// Package cli implements uploadctl, the operator command line for the
// upload pipeline.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/upload-pipeline/internal/bootstrap"
	"github.com/cuongbtq/upload-pipeline/internal/config"
	"github.com/cuongbtq/upload-pipeline/internal/notify"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

// LedgerOpener connects to the ledger; the returned func releases it.
type LedgerOpener func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Ledger, func(), error)

// NotifierOpener builds the notifier reaped files are announced through;
// the returned func releases it.
type NotifierOpener func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Notifier, func(), error)

// Options configures the root command
type Options struct {
	Out          io.Writer
	Logger       *slog.Logger
	OpenLedger   LedgerOpener
	OpenNotifier NotifierOpener
	Migrate      func(cfg *config.Config, logger *slog.Logger) error
}

type app struct {
	opts       Options
	configPath string
	cfg        *config.Config
}

// NewRootCmd builds the uploadctl command tree
func NewRootCmd(opts Options) *cobra.Command {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.OpenLedger == nil {
		opts.OpenLedger = openPostgresLedger
	}
	if opts.OpenNotifier == nil {
		opts.OpenNotifier = openNotifier
	}
	if opts.Migrate == nil {
		opts.Migrate = func(cfg *config.Config, logger *slog.Logger) error {
			return bootstrap.Migrate(&cfg.Database, logger)
		}
	}

	a := &app{opts: opts}

	rootCmd := &cobra.Command{
		Use:           "uploadctl",
		Short:         "Upload pipeline operator CLI",
		Long:          "Command line interface to migrate the ledger, inspect jobs and reap stuck files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}
	if opts.Out != nil {
		rootCmd.SetOut(opts.Out)
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "configs/config.yaml",
		"Path to configuration file")

	rootCmd.AddCommand(a.newMigrateCmd())
	rootCmd.AddCommand(a.newStatusCmd())
	rootCmd.AddCommand(a.newReapCmd())

	return rootCmd
}

func openPostgresLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Ledger, func(), error) {
	client, err := bootstrap.PostgreSQL(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewPostgresLedger(client.GetDB(), logger), func() { client.Close() }, nil
}

func openNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Notifier, func(), error) {
	client, err := bootstrap.Redis(ctx, &cfg.Redis, logger)
	if err != nil {
		return nil, nil, err
	}
	release := func() {}
	if client != nil {
		release = func() { client.Close() }
	}
	return bootstrap.Notifier(client, &cfg.Redis, logger), release, nil
}
