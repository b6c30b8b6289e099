package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BadgerOps/wfbackup/internal/backup"
	"github.com/BadgerOps/wfbackup/internal/config"
	"github.com/BadgerOps/wfbackup/internal/store"
)

type cliEnv struct {
	root     string
	workflow string
	content  []byte
}

// setupTestCLI points the global components at a temp directory and
// restores them when the test ends.
func setupTestCLI(t *testing.T) *cliEnv {
	t.Helper()

	origCfg, origStore, origManager, origLogger := globalCfg, globalStore, globalManager, logger
	origQuiet := quiet
	t.Cleanup(func() {
		globalCfg, globalStore, globalManager, logger = origCfg, origStore, origManager, origLogger
		quiet = origQuiet
		createFile, createMeta, createMetadataFile = "", nil, ""
		restoreTo, restoreKeepExtracted = "", false
		cleanupKeepDays, cleanupDryRun = -1, false
		historyLimit, historyKind = 20, ""
		listJSON = false
	})

	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	quiet = false

	root := t.TempDir()
	content := []byte(`{"name":"nightly","steps":[1,2,3]}`)
	workflow := filepath.Join(root, "workflow.json")
	if err := os.WriteFile(workflow, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Backup.Dir = filepath.Join(root, "backups")
	cfg.Backup.WorkflowFile = workflow
	cfg.Backup.RestoreDir = filepath.Join(root, "restore")
	globalCfg = cfg

	st := newTestStore(t)
	globalStore = st

	mgr, err := backup.NewManager(backup.Options{
		Dir:     cfg.Backup.Dir,
		Journal: st,
		Logger:  logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	globalManager = mgr

	return &cliEnv{root: root, workflow: workflow, content: content}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	_ = w.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading captured stdout: %v", err)
	}
	_ = r.Close()
	return string(data)
}

// mustCreate runs the create command and returns the archive name.
func mustCreate(t *testing.T) string {
	t.Helper()
	if err := createRun(nil, nil); err != nil {
		t.Fatalf("createRun returned error: %v", err)
	}
	archives, err := globalManager.List(context.Background())
	if err != nil || len(archives) == 0 {
		t.Fatalf("no archive after create: %v", err)
	}
	return archives[0].Name
}

func TestCreateRun(t *testing.T) {
	setupTestCLI(t)
	createMeta = []string{"author=ops"}

	out := captureStdout(t, func() {
		if err := createRun(nil, nil); err != nil {
			t.Fatalf("createRun returned error: %v", err)
		}
	})

	if !strings.Contains(out, "Backup created: ") || !strings.Contains(out, backup.NamePrefix) {
		t.Fatalf("expected created message, got: %s", out)
	}
	if !strings.Contains(out, "Members: 2") {
		t.Errorf("expected two members, got: %s", out)
	}
}

func TestCreateRunMissingWorkflow(t *testing.T) {
	env := setupTestCLI(t)
	if err := os.Remove(env.workflow); err != nil {
		t.Fatal(err)
	}

	out := captureStdout(t, func() {
		if err := createRun(nil, nil); err != nil {
			t.Fatalf("createRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "no workflow payload") {
		t.Errorf("expected missing workflow note, got: %s", out)
	}
}

func TestBuildMetadata(t *testing.T) {
	dir := t.TempDir()
	metaFile := filepath.Join(dir, "meta.yaml")
	if err := os.WriteFile(metaFile, []byte("release: 1.2.3\nauthor: file\nlabels:\n  tier: gold\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	meta, err := buildMetadata(metaFile, []string{"author=flag", "note=a=b"})
	if err != nil {
		t.Fatalf("buildMetadata error: %v", err)
	}
	if meta["release"] != "1.2.3" {
		t.Errorf("release = %v", meta["release"])
	}
	if meta["author"] != "flag" {
		t.Errorf("--meta should override file values, got %v", meta["author"])
	}
	if meta["note"] != "a=b" {
		t.Errorf("value should keep everything after the first '=', got %v", meta["note"])
	}
	labels, ok := meta["labels"].(map[string]any)
	if !ok || labels["tier"] != "gold" {
		t.Errorf("nested labels = %#v", meta["labels"])
	}

	if meta, err := buildMetadata("", nil); err != nil || meta != nil {
		t.Errorf("no inputs: got %v, %v; want nil, nil", meta, err)
	}
	if _, err := buildMetadata("", []string{"novalue"}); err == nil {
		t.Error("expected error for pair without '='")
	}
	if _, err := buildMetadata("", []string{"=x"}); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := buildMetadata(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Error("expected error for missing metadata file")
	}
}

func TestListRun(t *testing.T) {
	setupTestCLI(t)

	out := captureStdout(t, func() {
		if err := listRun(nil, nil); err != nil {
			t.Fatalf("listRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "No backups found.") {
		t.Fatalf("expected empty message, got: %s", out)
	}

	var name string
	captureStdout(t, func() { name = mustCreate(t) })

	out = captureStdout(t, func() {
		if err := listRun(nil, nil); err != nil {
			t.Fatalf("listRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "Found 1 backups:") || !strings.Contains(out, name) {
		t.Fatalf("expected archive in listing, got: %s", out)
	}
	if !strings.Contains(out, "create completed") {
		t.Errorf("expected last journal entry in listing, got: %s", out)
	}
}

func TestListRunJSON(t *testing.T) {
	setupTestCLI(t)
	var name string
	captureStdout(t, func() { name = mustCreate(t) })
	listJSON = true

	out := captureStdout(t, func() {
		if err := listRun(nil, nil); err != nil {
			t.Fatalf("listRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, `"name": "`+name+`"`) {
		t.Fatalf("expected JSON catalog, got: %s", out)
	}
}

func TestRestoreRun(t *testing.T) {
	env := setupTestCLI(t)
	var name string
	captureStdout(t, func() { name = mustCreate(t) })

	out := captureStdout(t, func() {
		if err := restoreRun(nil, []string{name}); err != nil {
			t.Fatalf("restoreRun returned error: %v", err)
		}
	})

	restored := filepath.Join(globalCfg.Backup.RestoreDir, backup.RestoredName)
	if !strings.Contains(out, "Workflow restored to: "+restored) {
		t.Fatalf("expected restored message, got: %s", out)
	}
	got, err := os.ReadFile(restored)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, env.content) {
		t.Errorf("restored = %q, want %q", got, env.content)
	}
}

func TestRestoreRunOverrides(t *testing.T) {
	env := setupTestCLI(t)
	var name string
	captureStdout(t, func() { name = mustCreate(t) })

	restoreTo = filepath.Join(env.root, "elsewhere")
	restoreKeepExtracted = true
	out := captureStdout(t, func() {
		if err := restoreRun(nil, []string{filepath.Join(globalManager.Dir(), name)}); err != nil {
			t.Fatalf("restoreRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "Extracted archive kept in: "+restoreTo) {
		t.Errorf("expected kept-extraction message, got: %s", out)
	}
	stem := strings.TrimSuffix(name, ".tar.gz")
	if _, err := os.Stat(filepath.Join(restoreTo, stem, backup.WorkflowMember)); err != nil {
		t.Errorf("extracted tree missing: %v", err)
	}
}

func TestRestoreRunNotFound(t *testing.T) {
	setupTestCLI(t)

	var runErr error
	out := captureStdout(t, func() {
		runErr = restoreRun(nil, []string{"workflow_backup_20000101_000000.tar.gz"})
	})
	if runErr == nil {
		t.Fatal("expected error for missing archive")
	}
	if !strings.Contains(out, "Backup not found:") {
		t.Errorf("expected not-found message, got: %s", out)
	}
	if _, err := os.Stat(globalCfg.Backup.RestoreDir); !os.IsNotExist(err) {
		t.Error("restore dir should not be created")
	}
}

func TestDeleteRun(t *testing.T) {
	setupTestCLI(t)
	var name string
	captureStdout(t, func() { name = mustCreate(t) })

	out := captureStdout(t, func() {
		if err := deleteRun(nil, []string{name}); err != nil {
			t.Fatalf("deleteRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "Backup deleted: ") {
		t.Fatalf("expected deleted message, got: %s", out)
	}

	var runErr error
	captureStdout(t, func() { runErr = deleteRun(nil, []string{name}) })
	if runErr == nil {
		t.Fatal("second delete should report not found")
	}
}

func TestCleanupRun(t *testing.T) {
	setupTestCLI(t)
	var name string
	captureStdout(t, func() { name = mustCreate(t) })

	old := time.Now().Add(-60 * 24 * time.Hour)
	if err := os.Chtimes(filepath.Join(globalManager.Dir(), name), old, old); err != nil {
		t.Fatal(err)
	}

	cleanupDryRun = true
	out := captureStdout(t, func() {
		if err := cleanupRun(nil, nil); err != nil {
			t.Fatalf("cleanupRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "Would delete 1 old backups") {
		t.Fatalf("expected dry-run message, got: %s", out)
	}

	cleanupDryRun = false
	out = captureStdout(t, func() {
		if err := cleanupRun(nil, nil); err != nil {
			t.Fatalf("cleanupRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "Deleted 1 old backups") || !strings.Contains(out, name) {
		t.Fatalf("expected deleted message, got: %s", out)
	}
}

func TestHistoryRun(t *testing.T) {
	setupTestCLI(t)
	var name string
	captureStdout(t, func() { name = mustCreate(t) })

	out := captureStdout(t, func() {
		if err := historyRun(nil, nil); err != nil {
			t.Fatalf("historyRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, "create") || !strings.Contains(out, name) || !strings.Contains(out, "completed") {
		t.Fatalf("expected create record, got: %s", out)
	}

	historyKind = "bogus"
	if err := historyRun(nil, nil); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestHistoryRunJournalDisabled(t *testing.T) {
	setupTestCLI(t)
	globalStore = nil

	if err := historyRun(nil, nil); err == nil {
		t.Fatal("expected error when the journal is disabled")
	}
}

func TestResolveArchive(t *testing.T) {
	setupTestCLI(t)

	if got := resolveArchive("a.tar.gz"); got != filepath.Join(globalManager.Dir(), "a.tar.gz") {
		t.Errorf("bare name resolved to %q", got)
	}
	if got := resolveArchive("./a.tar.gz"); got != "./a.tar.gz" {
		t.Errorf("relative path resolved to %q", got)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	cwd := t.TempDir()
	if err := os.Chdir(cwd); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	if err := os.WriteFile("mine.tar.gz", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := resolveArchive("mine.tar.gz"); got != "mine.tar.gz" {
		t.Errorf("existing file in working directory resolved to %q", got)
	}
	if got := resolveArchive("other.tar.gz"); got != filepath.Join(globalManager.Dir(), "other.tar.gz") {
		t.Errorf("missing bare name resolved to %q", got)
	}
}

func TestRootCmdEndToEnd(t *testing.T) {
	env := setupTestCLI(t)
	origCfgPath, origBackupDir := cfgPath, backupDir
	t.Cleanup(func() { cfgPath, backupDir = origCfgPath, origBackupDir })

	cfgFile := filepath.Join(env.root, "wfbackup.yaml")
	cfgYAML := "backup:\n  workflow_file: " + env.workflow + "\n  compression: zstd\nserver:\n  db_path: none\n"
	if err := os.WriteFile(cfgFile, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(env.root, "e2e-backups")

	run := func(args ...string) string {
		cmd := NewRootCmd()
		cmd.SetArgs(append([]string{"--config", cfgFile, "--backup-dir", dir, "--log-level", "error"}, args...))
		return captureStdout(t, func() {
			if err := cmd.Execute(); err != nil {
				t.Fatalf("%v returned error: %v", args, err)
			}
		})
	}

	out := run("create", "--meta", "source=e2e")
	if !strings.Contains(out, "Backup created: "+dir) || !strings.Contains(out, ".tar.zst") {
		t.Fatalf("unexpected create output: %s", out)
	}
	if globalStore != nil {
		t.Error("journal should be disabled with db_path none")
	}

	out = run("list")
	if !strings.Contains(out, "Found 1 backups:") {
		t.Fatalf("unexpected list output: %s", out)
	}

	out = run("config", "show")
	if !strings.Contains(out, "compression: zstd") {
		t.Errorf("config show should reflect the file, got: %s", out)
	}
}

func TestSetupLoggingWritesFile(t *testing.T) {
	origLogger, origLevel, origFormat := logger, logLevel, logFormat
	origDefault := slog.Default()
	t.Cleanup(func() {
		logger, logLevel, logFormat = origLogger, origLevel, origFormat
		slog.SetDefault(origDefault)
	})
	logLevel, logFormat = "", ""

	logPath := filepath.Join(t.TempDir(), "logs", "wfbackup.log")
	setupLogging(&config.LogConfig{Level: "debug", Format: "json", File: logPath, MaxSizeMB: 1})
	logger.Debug("file sink check", "archive", "x.tar.gz")
	if logFile == nil {
		t.Fatal("expected rotating log file to be configured")
	}
	_ = logFile.Close()
	logFile = nil

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"file sink check"`) {
		t.Errorf("expected JSON debug record in log file, got: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for name, want := range tests {
		if got := parseLevel(name); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}
