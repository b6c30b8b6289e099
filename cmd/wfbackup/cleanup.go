package main

import (
	"context"
	"fmt"

	"github.com/BadgerOps/wfbackup/internal/backup"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	cleanupKeepDays int
	cleanupDryRun   bool
)

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete backups older than the retention window",
		Long: `Delete every archive whose modification time is more than --keep-days
days in the past. An archive exactly at the cutoff is kept.`,
		Example: `  wfbackup cleanup
  wfbackup cleanup --keep-days 7
  wfbackup cleanup --keep-days 7 --dry-run`,
		Args: cobra.NoArgs,
		RunE: cleanupRun,
	}

	cmd.Flags().IntVar(&cleanupKeepDays, "keep-days", -1, "retention window in days (default: retention.keep_days from config)")
	cmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be deleted without deleting")

	return cmd
}

func cleanupRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalManager == nil {
		return fmt.Errorf("archive store not initialized")
	}

	opts := backup.CleanupOptions{
		KeepDays: globalCfg.Retention.KeepDays,
		DryRun:   cleanupDryRun,
	}
	if cmd != nil && cmd.Flags().Changed("keep-days") {
		opts.KeepDays = cleanupKeepDays
	}

	report, err := globalManager.Cleanup(context.Background(), opts)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	verb := "Deleted"
	if report.DryRun {
		verb = "Would delete"
	}
	fmt.Printf("%s %d old backups\n", verb, len(report.Deleted))
	if !quiet {
		for _, a := range report.Deleted {
			fmt.Printf("  %s (%s)\n", a.Name, humanize.IBytes(uint64(a.Size)))
		}
		if len(report.Deleted) > 0 {
			fmt.Printf("Reclaimed: %s, kept %d\n", humanize.IBytes(uint64(report.Reclaimed)), report.Kept)
		}
	}
	return nil
}
