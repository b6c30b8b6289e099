package main

import (
	"context"
	"fmt"

	"github.com/BadgerOps/wfbackup/internal/backup"
	"github.com/spf13/cobra"
)

var (
	restoreTo            string
	restoreKeepExtracted bool
)

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore ARCHIVE",
		Short: "Restore the workflow file from a backup",
		Long: `Restore workflow.json from an archive into the restore directory as
workflow_restored.json. ARCHIVE is a path, or a bare archive name looked up
in the backup directory.

By default the archive is unpacked into a temporary directory that is
removed afterwards; --keep-extracted unpacks it into the restore directory
and leaves the extracted tree in place.`,
		Example: `  wfbackup restore workflow_backup_20260314_092653.tar.gz
  wfbackup restore ./backups/workflow_backup_20260314_092653.tar.gz --to /tmp/restore
  wfbackup restore workflow_backup_20260314_092653.tar.gz --keep-extracted`,
		Args: cobra.ExactArgs(1),
		RunE: restoreRun,
	}

	cmd.Flags().StringVar(&restoreTo, "to", "", "restore directory (default: backup.restore_dir from config)")
	cmd.Flags().BoolVar(&restoreKeepExtracted, "keep-extracted", false, "keep the extracted archive tree in the restore directory")

	return cmd
}

func restoreRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalManager == nil {
		return fmt.Errorf("archive store not initialized")
	}

	opts := backup.RestoreOptions{
		RestoreDir:    globalCfg.Backup.RestoreDir,
		KeepExtracted: globalCfg.Backup.KeepExtracted || restoreKeepExtracted,
	}
	if restoreTo != "" {
		opts.RestoreDir = restoreTo
	}

	archivePath := resolveArchive(args[0])
	report, err := globalManager.Restore(context.Background(), archivePath, opts)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	switch {
	case !report.ArchiveFound:
		fmt.Printf("Backup not found: %s\n", archivePath)
		return fmt.Errorf("backup not found: %s", archivePath)
	case !report.Restored:
		fmt.Printf("No workflow file found in backup: %s\n", archivePath)
		return fmt.Errorf("no %s in %s", backup.WorkflowMember, archivePath)
	}

	fmt.Printf("Workflow restored to: %s\n", report.OutputPath)
	if report.ExtractedDir != "" && !quiet {
		fmt.Printf("Extracted archive kept in: %s\n", report.ExtractedDir)
	}
	return nil
}
