package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestListOrderingAndFiltering(t *testing.T) {
	m, _ := newTestManager(t, "gzip")
	ctx := context.Background()

	src := writeWorkflow(t, []byte("{}"))
	var paths []string
	for i := 0; i < 3; i++ {
		stamp := fixedNow.Add(time.Duration(i) * time.Hour)
		m.now = func() time.Time { return stamp }
		report, err := m.Create(ctx, src, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(report.Archive.Path, stamp, stamp); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, report.Archive.Path)
	}

	// Noise the catalog must skip.
	for _, name := range []string{"notes.txt", "workflow.tar", ".hidden.tar.gz", "wfbackup.db"} {
		if err := os.WriteFile(filepath.Join(m.Dir(), name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(m.Dir(), "dir.tar.gz"), 0o755); err != nil {
		t.Fatal(err)
	}

	archives, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(archives) != 3 {
		t.Fatalf("expected 3 archives, got %d: %+v", len(archives), archives)
	}
	for i := 1; i < len(archives); i++ {
		if archives[i].Created.After(archives[i-1].Created) {
			t.Errorf("archives not newest first at %d: %v after %v", i, archives[i].Created, archives[i-1].Created)
		}
	}
	if archives[0].Path != paths[2] {
		t.Errorf("newest = %q, want %q", archives[0].Path, paths[2])
	}
	if TotalSize(archives) != archives[0].Size+archives[1].Size+archives[2].Size {
		t.Error("TotalSize mismatch")
	}
}

func TestListEqualTimesFallsBackToName(t *testing.T) {
	m, _ := newTestManager(t, "gzip")
	for _, name := range []string{"workflow_backup_20260101_000001.tar.gz", "workflow_backup_20260101_000003.tar.zst", "workflow_backup_20260101_000002.tar.gz"} {
		p := filepath.Join(m.Dir(), name)
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(p, fixedNow, fixedNow); err != nil {
			t.Fatal(err)
		}
	}

	archives, err := m.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"workflow_backup_20260101_000003.tar.zst",
		"workflow_backup_20260101_000002.tar.gz",
		"workflow_backup_20260101_000001.tar.gz",
	}
	for i, a := range archives {
		if a.Name != want[i] {
			t.Errorf("archives[%d] = %q, want %q", i, a.Name, want[i])
		}
	}
}

func TestListMissingDir(t *testing.T) {
	m, _ := newTestManager(t, "gzip")
	if err := os.RemoveAll(m.Dir()); err != nil {
		t.Fatal(err)
	}

	archives, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("List() on missing dir error: %v", err)
	}
	if archives == nil || len(archives) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", archives)
	}
}

func TestFind(t *testing.T) {
	m, _ := newTestManager(t, "zstd")
	report, err := m.Create(context.Background(), writeWorkflow(t, []byte("{}")), nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := m.Find(context.Background(), report.Archive.Name)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Path != report.Archive.Path {
		t.Fatalf("Find() = %+v, want %q", got, report.Archive.Path)
	}

	got, err = m.Find(context.Background(), "workflow_backup_19700101_000000.tar.gz")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("Find() for unknown name = %+v, want nil", got)
	}
}

func TestArchiveStemAndAge(t *testing.T) {
	a := Archive{Name: "workflow_backup_20260314_092653_abc123.tar.zst", Created: fixedNow}
	if a.Stem() != "workflow_backup_20260314_092653_abc123" {
		t.Errorf("Stem() = %q", a.Stem())
	}
	if got := a.Age(fixedNow.Add(48 * time.Hour)); got != 48*time.Hour {
		t.Errorf("Age() = %v, want 48h", got)
	}
}
