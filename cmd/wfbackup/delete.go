package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete ARCHIVE",
		Aliases: []string{"rm"},
		Short:   "Delete a backup archive",
		Long: `Delete one archive. ARCHIVE is a path, or a bare archive name looked up
in the backup directory.`,
		Example: `  wfbackup delete workflow_backup_20260314_092653.tar.gz`,
		Args:    cobra.ExactArgs(1),
		RunE:    deleteRun,
	}

	return cmd
}

func deleteRun(cmd *cobra.Command, args []string) error {
	if globalManager == nil {
		return fmt.Errorf("archive store not initialized")
	}

	archivePath := resolveArchive(args[0])
	deleted, err := globalManager.Delete(context.Background(), archivePath)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	if !deleted {
		fmt.Printf("Backup not found: %s\n", archivePath)
		return fmt.Errorf("backup not found: %s", archivePath)
	}

	fmt.Printf("Backup deleted: %s\n", archivePath)
	return nil
}
