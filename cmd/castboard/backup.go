package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alfredjeanlab/castboard/internal/backup"
	"github.com/alfredjeanlab/castboard/internal/ui"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:     "backup",
	Short:   "Export the database as JSONL to the bucket or stdout",
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		toStdout, _ := cmd.Flags().GetBool("stdout")
		key, _ := cmd.Flags().GetString("key")

		cfg, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		if toStdout {
			_, err := backup.ExportJSONL(ctx, db, os.Stdout)
			return err
		}

		objects, err := openObjects(ctx, cfg)
		if err != nil {
			return fmt.Errorf("%w (use --stdout to export without a bucket)", err)
		}
		if key == "" {
			key = cfg.BackupKey
		}
		dest := backup.NewObjectDestination(objects, key)
		if err := backup.NewScheduler(db, []backup.Destination{dest}, 0, logger).RunOnce(ctx); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s s3://%s/%s\n", ui.RenderOK("Backup written to"), cfg.S3Bucket, key)
		return nil
	},
}

func init() {
	backupCmd.Flags().Bool("stdout", false, "write the export to stdout instead of the bucket")
	backupCmd.Flags().String("key", "", "object key (default CASTBOARD_BACKUP_KEY)")
}
