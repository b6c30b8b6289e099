package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	createFile         string
	createMeta         []string
	createMetadataFile string
)

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new workflow backup",
		Long: `Create a timestamped archive of the workflow file in the backup directory.

Metadata can be attached with repeated --meta key=value flags and/or a
YAML or JSON --metadata-file; --meta values win on conflicts. A missing
workflow file is not an error: the archive is created without it.`,
		Example: `  wfbackup create
  wfbackup create --file ./workflow.json --meta author=ops --meta ticket=OPS-12
  wfbackup create --metadata-file release.yaml`,
		Args: cobra.NoArgs,
		RunE: createRun,
	}

	cmd.Flags().StringVar(&createFile, "file", "", "workflow file to back up (default: backup.workflow_file from config)")
	cmd.Flags().StringArrayVar(&createMeta, "meta", nil, "metadata key=value pair (repeatable)")
	cmd.Flags().StringVar(&createMetadataFile, "metadata-file", "", "YAML or JSON file with metadata")

	return cmd
}

func createRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalManager == nil {
		return fmt.Errorf("archive store not initialized")
	}

	workflowPath := createFile
	if workflowPath == "" {
		workflowPath = globalCfg.Backup.WorkflowFile
	}

	metadata, err := buildMetadata(createMetadataFile, createMeta)
	if err != nil {
		return err
	}

	// A nil map must reach the manager as a nil interface
	var meta any
	if metadata != nil {
		meta = metadata
	}

	report, err := globalManager.Create(context.Background(), workflowPath, meta)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	fmt.Printf("Backup created: %s\n", report.Archive.Path)
	if !quiet {
		fmt.Printf("  Size:    %s\n", humanize.IBytes(uint64(report.Archive.Size)))
		fmt.Printf("  Members: %d\n", len(report.Members))
		if !report.HasWorkflow {
			fmt.Printf("  Note:    workflow file %s not found, archive has no workflow payload\n", workflowPath)
		}
	}
	return nil
}

// buildMetadata merges a metadata file with key=value pairs. It returns nil
// when neither is given.
func buildMetadata(path string, pairs []string) (map[string]any, error) {
	var metadata map[string]any

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading metadata file: %w", err)
		}
		// JSON is a subset of YAML, so one decoder covers both
		if err := yaml.Unmarshal(data, &metadata); err != nil {
			return nil, fmt.Errorf("parsing metadata file: %w", err)
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q: expected key=value", pair)
		}
		if metadata == nil {
			metadata = make(map[string]any)
		}
		metadata[key] = value
	}

	return metadata, nil
}
