package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/BadgerOps/wfbackup/internal/backup"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listJSON bool

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List workflow backups, newest first",
		Example: `  wfbackup list
  wfbackup list --json`,
		Args: cobra.NoArgs,
		RunE: listRun,
	}

	cmd.Flags().BoolVar(&listJSON, "json", false, "print the catalog as JSON")

	return cmd
}

func listRun(cmd *cobra.Command, args []string) error {
	if globalManager == nil {
		return fmt.Errorf("archive store not initialized")
	}

	archives, err := globalManager.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	if listJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(archives)
	}

	if len(archives) == 0 {
		fmt.Println("No backups found.")
		return nil
	}

	fmt.Printf("Found %d backups:\n", len(archives))
	printArchives(archives, time.Now())
	fmt.Printf("\nTotal: %s\n", humanize.IBytes(uint64(backup.TotalSize(archives))))
	return nil
}

func printArchives(archives []backup.Archive, now time.Time) {
	fmt.Printf("  %-48s %10s  %-19s  %-14s  %s\n", "NAME", "SIZE", "CREATED", "AGE", "LAST OP")
	for _, a := range archives {
		fmt.Printf("  %-48s %10s  %-19s  %-14s  %s\n",
			a.Name,
			humanize.IBytes(uint64(a.Size)),
			a.Created.Local().Format("2006-01-02 15:04:05"),
			humanize.RelTime(a.Created, now, "ago", "from now"),
			lastOperation(a.Name),
		)
	}
}

// lastOperation summarizes the newest journal entry for an archive.
func lastOperation(name string) string {
	if globalStore == nil {
		return "-"
	}
	op, err := globalStore.LastOperation(name)
	if err != nil {
		logger.Warn("failed to read journal", "archive", name, "error", err)
		return "-"
	}
	if op == nil {
		return "-"
	}
	return op.Kind + " " + op.Status
}
