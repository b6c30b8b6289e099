package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		getValue func(*Config) string
		want     string
	}{
		{"backup dir", func(c *Config) string { return c.Backup.Dir }, "backups"},
		{"workflow file", func(c *Config) string { return c.Backup.WorkflowFile }, "workflow.json"},
		{"compression", func(c *Config) string { return c.Backup.Compression }, "gzip"},
		{"restore dir", func(c *Config) string { return c.Backup.RestoreDir }, "."},
		{"listen address", func(c *Config) string { return c.Server.Listen }, "127.0.0.1:8085"},
		{"db path", func(c *Config) string { return c.Server.DBPath }, ""},
		{"cleanup cron", func(c *Config) string { return c.Schedule.CleanupCron }, "0 3 * * *"},
		{"log level", func(c *Config) string { return c.Log.Level }, "info"},
		{"log format", func(c *Config) string { return c.Log.Format }, "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.getValue(cfg)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if cfg.Retention.KeepDays != 30 {
		t.Errorf("Retention.KeepDays = %d, want 30", cfg.Retention.KeepDays)
	}
	if cfg.Schedule.Enabled {
		t.Errorf("Schedule.Enabled = true, want false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

// TestLoad tests loading a valid config file
func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "wfbackup.yaml")

	configContent := `
backup:
  dir: "/var/lib/wfbackup/archives"
  workflow_file: "/etc/n8n/workflow.json"
  compression: "zstd"
  restore_dir: "/tmp/restore"
  keep_extracted: true
retention:
  keep_days: 14
server:
  listen: "0.0.0.0:9000"
  db_path: "/var/lib/wfbackup/journal.db"
schedule:
  enabled: true
  snapshot_cron: "0 * * * *"
  cleanup_cron: "30 4 * * 0"
log:
  level: debug
  format: json
  file: /var/log/wfbackup.log
`
	if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backup.Dir != "/var/lib/wfbackup/archives" {
		t.Errorf("Backup.Dir = %q", cfg.Backup.Dir)
	}
	if cfg.Backup.Compression != "zstd" {
		t.Errorf("Backup.Compression = %q, want zstd", cfg.Backup.Compression)
	}
	if !cfg.Backup.KeepExtracted {
		t.Errorf("Backup.KeepExtracted = false, want true")
	}
	if cfg.Retention.KeepDays != 14 {
		t.Errorf("Retention.KeepDays = %d, want 14", cfg.Retention.KeepDays)
	}
	if cfg.Schedule.SnapshotCron != "0 * * * *" {
		t.Errorf("Schedule.SnapshotCron = %q", cfg.Schedule.SnapshotCron)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
	// Unset values keep their defaults.
	if cfg.Log.MaxBackups != 3 {
		t.Errorf("Log.MaxBackups = %d, want default 3", cfg.Log.MaxBackups)
	}
	if cfg.JournalPath() != "/var/lib/wfbackup/journal.db" {
		t.Errorf("JournalPath() = %q", cfg.JournalPath())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(configFile, []byte("backup: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configFile); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty backup dir", func(c *Config) { c.Backup.Dir = " " }, "backup.dir"},
		{"unknown codec", func(c *Config) { c.Backup.Compression = "bzip2" }, "bzip2"},
		{"negative keep days", func(c *Config) { c.Retention.KeepDays = -1 }, "keep_days"},
		{"bad cleanup cron", func(c *Config) { c.Schedule.CleanupCron = "every day" }, "cleanup_cron"},
		{"bad snapshot cron", func(c *Config) { c.Schedule.SnapshotCron = "61 * * * *" }, "snapshot_cron"},
		{"bad body size", func(c *Config) { c.Server.MaxBodySize = "lots" }, "max_body_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestJournalPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backup.Dir = "/data/backups"

	if got := cfg.JournalPath(); got != filepath.Join("/data/backups", "wfbackup.db") {
		t.Errorf("JournalPath() default = %q", got)
	}

	cfg.Server.DBPath = JournalDisabled
	if got := cfg.JournalPath(); got != "" {
		t.Errorf("JournalPath() disabled = %q, want empty", got)
	}
}

func TestMaxBodyBytes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.MaxBodySize = "2MB"
	n, err := cfg.MaxBodyBytes()
	if err != nil {
		t.Fatalf("MaxBodyBytes() error = %v", err)
	}
	if n != 2_000_000 {
		t.Errorf("MaxBodyBytes() = %d, want 2000000", n)
	}

	if n, err := DefaultConfig().MaxBodyBytes(); err != nil || n != 1<<20 {
		t.Errorf("default MaxBodyBytes() = %d, %v, want %d", n, err, 1<<20)
	}

	cfg.Server.MaxBodySize = ""
	if n, _ := cfg.MaxBodyBytes(); n != 1<<20 {
		t.Errorf("MaxBodyBytes() empty = %d, want %d", n, 1<<20)
	}
}
