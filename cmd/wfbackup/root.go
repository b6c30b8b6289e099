package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BadgerOps/wfbackup/internal/backup"
	"github.com/BadgerOps/wfbackup/internal/config"
	"github.com/BadgerOps/wfbackup/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Global flags
	cfgPath   string
	backupDir string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger
	logFile   *lumberjack.Logger

	// Global components
	globalStore   *store.Store
	globalManager *backup.Manager
)

// initializeComponents opens the journal and the archive store
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	opts := backup.Options{
		Dir:         globalCfg.Backup.Dir,
		Compression: globalCfg.Backup.Compression,
		Logger:      logger,
	}

	// Journal is optional; db_path "none" turns it off
	globalStore = nil
	if dbPath := globalCfg.JournalPath(); dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
		st, err := store.New(dbPath, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		globalStore = st
		opts.Journal = st
	}

	mgr, err := backup.NewManager(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize archive store: %w", err)
	}
	globalManager = mgr

	logger.Debug("components initialized", "backup_dir", mgr.Dir(), "codec", mgr.Codec().Name(), "journal", globalStore != nil)
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":     true,
		"version":  true,
		"config":   true,
		"show":     true,
		"validate": true,
	}
	return skipInitCmds[cmdName]
}

// closeStore closes the global store connection and the log file
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wfbackup",
		Short: "Snapshot, list, restore and expire workflow backups",
		Long: `wfbackup keeps timestamped, compressed archives of a workflow definition
file. Each archive holds a copy of the workflow file and optional metadata.
Archives can be listed, restored, deleted by name, or expired by age.

Run "wfbackup serve" to expose the same operations over HTTP with
Prometheus metrics and scheduled snapshots.`,
		Example: `  wfbackup create --file workflow.json --meta author=ops
  wfbackup list
  wfbackup restore workflow_backup_20260314_092653.tar.gz --to ./restore
  wfbackup cleanup --keep-days 30
  wfbackup serve --listen 127.0.0.1:8085`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Bootstrap logging from flags until config is loaded
			setupLogging(nil)

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Override with command-line flags if provided
			if backupDir != "" {
				globalCfg.Backup.Dir = backupDir
			}

			setupLogging(&globalCfg.Log)
			logger.Debug("config loaded", "path", cfgPath, "backup_dir", globalCfg.Backup.Dir)

			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "", "override backup directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to log.level from config")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text or json); defaults to log.format from config")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	// Add subcommands
	cmd.AddCommand(
		newCreateCmd(),
		newListCmd(),
		newRestoreCmd(),
		newDeleteCmd(),
		newCleanupCmd(),
		newHistoryCmd(),
		newServeCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger. Flags win over logCfg; a
// configured log file is written alongside stderr and rotated by size.
func setupLogging(logCfg *config.LogConfig) {
	levelName := logLevel
	formatName := logFormat
	if logCfg != nil {
		if levelName == "" {
			levelName = logCfg.Level
		}
		if formatName == "" {
			formatName = logCfg.Format
		}
	}

	level := parseLevel(levelName)
	if quiet {
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	if logCfg != nil && logCfg.File != "" {
		if logFile != nil {
			_ = logFile.Close()
		}
		logFile = &lumberjack.Logger{
			Filename:   logCfg.File,
			MaxSize:    logCfg.MaxSizeMB,
			MaxBackups: logCfg.MaxBackups,
			MaxAge:     logCfg.MaxAgeDays,
			Compress:   logCfg.Compress,
		}
		out = io.MultiWriter(os.Stderr, logFile)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(formatName) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

// resolveArchive returns arg unchanged when it names an existing file.
// Otherwise a bare archive name is mapped to the backup directory.
func resolveArchive(arg string) string {
	if _, err := os.Stat(arg); err == nil {
		return arg
	}
	if filepath.Base(arg) == arg && globalManager != nil {
		return filepath.Join(globalManager.Dir(), arg)
	}
	return arg
}
