package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/upload-pipeline/internal/worker"
)

func (a *app) newReapCmd() *cobra.Command {
	var staleAfter time.Duration

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Fail files stuck in processing once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if staleAfter <= 0 {
				staleAfter = a.cfg.Reaper.StaleAfter
			}
			if staleAfter <= 0 {
				return fmt.Errorf("stale-after must be greater than 0")
			}

			ledger, release, err := a.opts.OpenLedger(cmd.Context(), a.cfg, a.opts.Logger)
			if err != nil {
				return err
			}
			defer release()

			notifier, closeNotifier, err := a.opts.OpenNotifier(cmd.Context(), a.cfg, a.opts.Logger)
			if err != nil {
				return err
			}
			defer closeNotifier()

			reaper := worker.NewReaper(worker.ReaperConfig{
				Ledger:     ledger,
				Notifier:   notifier,
				Logger:     a.opts.Logger,
				StaleAfter: staleAfter,
				BatchSize:  a.cfg.Reaper.BatchSize,
			})

			n, err := reaper.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("reap failed after %d files: %w", n, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Reaped %d files\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "Age after which a processing file counts as stuck (defaults to reaper.stale_after)")

	return cmd
}
