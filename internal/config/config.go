package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// JournalDisabled is the db_path value that turns the operation journal off.
const JournalDisabled = "none"

// Config is the top-level configuration
type Config struct {
	Backup    BackupConfig    `yaml:"backup"`
	Retention RetentionConfig `yaml:"retention"`
	Server    ServerConfig    `yaml:"server"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Log       LogConfig       `yaml:"log"`
}

// BackupConfig holds archive store settings
type BackupConfig struct {
	Dir           string `yaml:"dir"`
	WorkflowFile  string `yaml:"workflow_file"`
	Compression   string `yaml:"compression"`
	RestoreDir    string `yaml:"restore_dir"`
	KeepExtracted bool   `yaml:"keep_extracted"`
}

// RetentionConfig holds retention sweeper settings
type RetentionConfig struct {
	KeepDays int `yaml:"keep_days"`
}

// ServerConfig holds serve-mode settings
type ServerConfig struct {
	Listen      string `yaml:"listen"`
	DBPath      string `yaml:"db_path"`
	MaxBodySize string `yaml:"max_body_size"`
}

// ScheduleConfig holds scheduler settings
type ScheduleConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SnapshotCron string `yaml:"snapshot_cron"`
	CleanupCron  string `yaml:"cleanup_cron"`
}

// LogConfig holds logging settings. File enables a rotating log file in
// addition to stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backup: BackupConfig{
			Dir:          "backups",
			WorkflowFile: "workflow.json",
			Compression:  "gzip",
			RestoreDir:   ".",
		},
		Retention: RetentionConfig{
			KeepDays: 30,
		},
		Server: ServerConfig{
			Listen:      "127.0.0.1:8085",
			DBPath:      "",
			MaxBodySize: "1MiB",
		},
		Schedule: ScheduleConfig{
			Enabled:     false,
			CleanupCron: "0 3 * * *",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"wfbackup.yaml",
		"/etc/wfbackup/wfbackup.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "wfbackup", "wfbackup.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks values that would otherwise fail deep inside an operation.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backup.Dir) == "" {
		return fmt.Errorf("backup.dir must not be empty")
	}
	switch c.Backup.Compression {
	case "gzip", "zstd":
	default:
		return fmt.Errorf("backup.compression %q is not supported (gzip, zstd)", c.Backup.Compression)
	}
	if c.Retention.KeepDays < 0 {
		return fmt.Errorf("retention.keep_days must not be negative, got %d", c.Retention.KeepDays)
	}
	if _, err := c.MaxBodyBytes(); err != nil {
		return err
	}
	for key, expr := range map[string]string{
		"schedule.snapshot_cron": c.Schedule.SnapshotCron,
		"schedule.cleanup_cron":  c.Schedule.CleanupCron,
	} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("%s: invalid cron expression %q: %w", key, expr, err)
		}
	}
	return nil
}

// JournalPath returns the SQLite journal location, or "" when the journal
// is disabled. An empty db_path places the journal inside the backup dir.
func (c *Config) JournalPath() string {
	switch c.Server.DBPath {
	case JournalDisabled:
		return ""
	case "":
		return filepath.Join(c.Backup.Dir, "wfbackup.db")
	default:
		return c.Server.DBPath
	}
}

// MaxBodyBytes parses server.max_body_size ("1MiB", "2MB", ...).
func (c *Config) MaxBodyBytes() (int64, error) {
	if c.Server.MaxBodySize == "" {
		return 1 << 20, nil
	}
	n, err := humanize.ParseBytes(c.Server.MaxBodySize)
	if err != nil {
		return 0, fmt.Errorf("server.max_body_size: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("server.max_body_size must be positive")
	}
	return int64(n), nil
}
