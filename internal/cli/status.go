package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/upload-pipeline/internal/api/dto"
	"github.com/cuongbtq/upload-pipeline/internal/upload"
)

func (a *app) newStatusCmd() *cobra.Command {
	var (
		owner   string
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a job and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			ledger, release, err := a.opts.OpenLedger(ctx, a.cfg, a.opts.Logger)
			if err != nil {
				return err
			}
			defer release()

			snapshot, err := upload.NewStatusQuery(ledger, 0, 0).GetStatus(ctx, args[0], owner)
			if err != nil {
				return fmt.Errorf("failed to get job status: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(dto.JobStatusResponse{
					Job:   dto.NewJobDTO(&snapshot.Job),
					Files: dto.NewFileDTOs(snapshot.Files),
				})
			}

			job := snapshot.Job
			fmt.Fprintf(out, "Job: %s\n", job.JobID)
			fmt.Fprintf(out, "Status: %s\n", job.Status)
			fmt.Fprintf(out, "Progress: %d/%d (%d failed)\n", job.ProcessedFiles, job.TotalFiles, job.FailedFiles)
			if job.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", job.Error)
			}
			for _, f := range snapshot.Files {
				line := fmt.Sprintf("  %s  %-10s  %s", f.FileID, f.Status, f.OriginalName)
				if f.Error != "" {
					line += "  (" + f.Error + ")"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner id the job must belong to")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}
