package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/alfredjeanlab/castboard/internal/maintenance"
	"github.com/spf13/cobra"
)

var mediaCmd = &cobra.Command{
	Use:     "media",
	Short:   "Reconcile profile images between the bucket and the database",
	GroupID: "data",
}

type mediaTask func(r *maintenance.Runner, ctx context.Context, opts maintenance.Options) (*maintenance.Report, error)

func newMediaCmd(use, short string, task mediaTask, mutates bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			prefix, _ := cmd.Flags().GetString("prefix")
			concurrency, _ := cmd.Flags().GetInt("concurrency")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			cfg, db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			objects, err := openObjects(ctx, cfg)
			if err != nil {
				return err
			}
			if prefix == "" {
				prefix = cfg.S3Prefix
			}

			opts := maintenance.Options{
				Prefix:      prefix,
				DryRun:      dryRun,
				Concurrency: concurrency,
			}
			if !jsonOutput {
				opts.Out = os.Stdout
			}

			report, err := task(maintenance.NewRunner(db, objects, logger), ctx, opts)
			if report != nil {
				if jsonOutput {
					printJSON(report)
				} else {
					printReport(os.Stdout, report)
				}
			}
			if err != nil {
				return err
			}
			if report.Errors > 0 {
				return fmt.Errorf("%s finished with %d errors", report.Task, report.Errors)
			}
			return nil
		},
	}
	cmd.Flags().String("prefix", "", "object key prefix (default CASTBOARD_S3_PREFIX)")
	cmd.Flags().Bool("dry-run", false, "report what would change without changing it")
	if mutates {
		cmd.Flags().Int("concurrency", maintenance.DefaultConcurrency, "objects processed at once")
	}
	return cmd
}

func init() {
	mediaCmd.AddCommand(newMediaCmd("analyze", "Report orphaned objects, dangling rows and pending quarantines",
		(*maintenance.Runner).Analyze, false))
	mediaCmd.AddCommand(newMediaCmd("quarantine", "Move objects of deleted images under the quarantine prefix",
		(*maintenance.Runner).Quarantine, true))
	mediaCmd.AddCommand(newMediaCmd("import", "Create image rows for orphaned objects",
		(*maintenance.Runner).Import, true))
}
