package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect wfbackup configuration. The config file is auto-discovered from
./wfbackup.yaml, /etc/wfbackup/wfbackup.yaml and
~/.config/wfbackup/wfbackup.yaml unless --config is given.`,
		Example: `  wfbackup config show
  wfbackup config validate --config ./wfbackup.yaml`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration in YAML format, with defaults filled
in and command-line overrides applied.`,
		Example: `  wfbackup config show
  wfbackup config show --config /etc/wfbackup/wfbackup.yaml`,
		Args: cobra.NoArgs,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	log.Debug("showing configuration", "path", cfgPath)

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if cfgPath != "" {
		fmt.Printf("# Loaded from %s\n", cfgPath)
	} else {
		fmt.Println("# Built-in defaults")
	}
	fmt.Print(string(data))

	return nil
}

func newConfigValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Args:  cobra.NoArgs,
		RunE:  configValidateRun,
	}

	return cmd
}

func configValidateRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := globalCfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Println("Configuration is valid.")
	return nil
}
