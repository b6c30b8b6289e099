package main

import (
	"fmt"

	"github.com/BadgerOps/wfbackup/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyKind  string
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the operation journal",
		Long: `Show recent create, restore, delete and cleanup operations recorded in the
journal database. Requires the journal (server.db_path other than "none").`,
		Example: `  wfbackup history
  wfbackup history --kind restore --limit 5`,
		Args: cobra.NoArgs,
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of operations to show")
	cmd.Flags().StringVar(&historyKind, "kind", "", "only show one kind (create, restore, delete, cleanup)")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("operation journal is disabled")
	}

	switch historyKind {
	case "", store.KindCreate, store.KindRestore, store.KindDelete, store.KindCleanup:
	default:
		return fmt.Errorf("unknown operation kind %q", historyKind)
	}

	ops, err := globalStore.ListOperations(historyKind, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	if len(ops) == 0 {
		fmt.Println("No operations recorded.")
		return nil
	}

	fmt.Printf("%-5s %-8s %-10s %-48s %10s  %s\n", "ID", "KIND", "STATUS", "ARCHIVE", "BYTES", "WHEN")
	for _, op := range ops {
		archive := op.Archive
		if archive == "" && op.Kind == store.KindCleanup {
			archive = fmt.Sprintf("(%d archives)", op.Count)
		}
		fmt.Printf("%-5d %-8s %-10s %-48s %10s  %s\n",
			op.ID,
			op.Kind,
			op.Status,
			archive,
			humanize.IBytes(uint64(op.Bytes)),
			humanize.Time(op.StartTime),
		)
		if op.ErrorMessage != "" {
			fmt.Printf("      error: %s\n", op.ErrorMessage)
		}
	}
	return nil
}
