package backup

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/BadgerOps/wfbackup/internal/metrics"
	"github.com/BadgerOps/wfbackup/internal/store"
	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	suffixAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffixLength    = 6
	maxNameAttempts = 8
)

// CreateReport summarizes a sealed archive.
type CreateReport struct {
	Archive     Archive
	Members     []string
	HasWorkflow bool
	HasMetadata bool
	Duration    time.Duration
}

// Create snapshots workflowPath and metadata into a new archive.
//
// A missing workflow file is not an error: the archive is sealed without a
// workflow.json member. A nil metadata value adds no metadata.json member.
// The staging directory and any partially written archive are removed on
// every exit path.
func (m *Manager) Create(ctx context.Context, workflowPath string, metadata any) (*CreateReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	began := time.Now()
	op := &store.Operation{Kind: store.KindCreate, Path: workflowPath, StartTime: m.now()}

	report, err := m.create(ctx, op.StartTime, workflowPath, metadata)
	metrics.ObserveDuration(store.KindCreate, time.Since(began))
	if err != nil {
		metrics.IncError(store.KindCreate)
		op.Status = store.StatusFailed
		op.ErrorMessage = err.Error()
		m.record(op)
		m.logger.Error("backup failed", "workflow", workflowPath, "error", err)
		return nil, err
	}
	report.Duration = time.Since(began)

	op.Archive = report.Archive.Name
	op.Path = report.Archive.Path
	op.Bytes = report.Archive.Size
	op.Status = store.StatusCompleted
	m.record(op)
	metrics.IncCreated()

	m.logger.Info("backup created",
		"archive", report.Archive.Name,
		"path", report.Archive.Path,
		"size", report.Archive.Size,
		"members", len(report.Members),
		"duration", report.Duration,
	)
	return report, nil
}

func (m *Manager) create(ctx context.Context, stamp time.Time, workflowPath string, metadata any) (*CreateReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	archiveFile, stem, err := m.openUniqueArchive(NamePrefix + stamp.Format(TimestampLayout))
	if err != nil {
		return nil, err
	}
	archivePath := archiveFile.Name()
	sealed := false
	defer func() {
		if !sealed {
			_ = archiveFile.Close()
			_ = os.Remove(archivePath)
		}
	}()

	staging, err := os.MkdirTemp(m.dir, ".staging-"+stem+"-")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			m.logger.Warn("failed to remove staging directory", "path", staging, "error", err)
		}
	}()

	report := &CreateReport{}

	report.HasWorkflow, err = m.stageWorkflow(workflowPath, staging)
	if err != nil {
		return nil, err
	}
	report.HasMetadata, err = stageMetadata(metadata, staging)
	if err != nil {
		return nil, err
	}

	report.Members, err = m.seal(ctx, archiveFile, staging, stem)
	if err != nil {
		return nil, fmt.Errorf("sealing archive %s: %w", filepath.Base(archivePath), err)
	}
	sealed = true

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("reading sealed archive: %w", err)
	}
	report.Archive = Archive{
		Name:    info.Name(),
		Path:    archivePath,
		Size:    info.Size(),
		Created: info.ModTime(),
	}
	return report, nil
}

// openUniqueArchive creates the archive file exclusively. When the
// timestamp name is already taken a random suffix is appended, so an
// existing archive is never overwritten.
func (m *Manager) openUniqueArchive(stem string) (*os.File, string, error) {
	name := stem
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		p := filepath.Join(m.dir, name+m.codec.Extension())
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("creating archive %s: %w", p, err)
		}

		suffix, err := nanoid.Generate(suffixAlphabet, suffixLength)
		if err != nil {
			return nil, "", fmt.Errorf("generating archive name suffix: %w", err)
		}
		m.logger.Debug("archive name taken, adding suffix", "name", name, "suffix", suffix)
		name = stem + "_" + suffix
	}
	return nil, "", fmt.Errorf("no free archive name for %s after %d attempts", stem, maxNameAttempts)
}

// stageWorkflow copies the workflow file into the staging directory.
func (m *Manager) stageWorkflow(workflowPath, staging string) (bool, error) {
	if workflowPath == "" {
		m.logger.Warn("no workflow file given, archive will carry no workflow payload")
		return false, nil
	}

	info, err := os.Stat(workflowPath)
	if errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("workflow file not found, archive will carry no workflow payload", "path", workflowPath)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking workflow file: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("workflow path %s is a directory", workflowPath)
	}

	if _, err := copyFile(workflowPath, filepath.Join(staging, WorkflowMember)); err != nil {
		return false, fmt.Errorf("copying workflow file: %w", err)
	}
	return true, nil
}

// stageMetadata writes metadata as indented JSON into the staging directory.
func stageMetadata(metadata any, staging string) (bool, error) {
	if metadata == nil {
		return false, nil
	}

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshaling metadata: %w", err)
	}
	// A typed nil map or pointer.
	if string(data) == "null" {
		return false, nil
	}

	if err := os.WriteFile(filepath.Join(staging, MetadataMember), data, 0o644); err != nil {
		return false, fmt.Errorf("writing metadata: %w", err)
	}
	return true, nil
}

// seal writes the staging tree into f as a compressed tar stream with stem
// as the single top-level entry, then closes f. It returns the regular
// file members written.
func (m *Manager) seal(ctx context.Context, f *os.File, staging, stem string) ([]string, error) {
	cw, err := m.codec.NewWriter(f)
	if err != nil {
		return nil, fmt.Errorf("creating %s writer: %w", m.codec.Name(), err)
	}
	tw := tar.NewWriter(cw)

	var members []string
	walkErr := filepath.WalkDir(staging, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(staging, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !d.IsDir() && !info.Mode().IsRegular() {
			return fmt.Errorf("unsupported file type in staging directory: %s", rel)
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		name := stem
		if rel != "." {
			name = path.Join(stem, filepath.ToSlash(rel))
		}
		if d.IsDir() {
			name += "/"
		}
		header.Name = name

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		return addFileContents(tw, p, &members, name)
	})
	if walkErr != nil {
		_ = tw.Close()
		_ = cw.Close()
		return nil, walkErr
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}
	if err := cw.Close(); err != nil {
		return nil, fmt.Errorf("closing %s writer: %w", m.codec.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("syncing archive file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing archive file: %w", err)
	}
	return members, nil
}

// addFileContents streams one staged file into the tar writer.
func addFileContents(tw *tar.Writer, srcPath string, members *[]string, name string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = src.Close()
	}()

	if _, err := io.Copy(tw, src); err != nil {
		return err
	}
	*members = append(*members, name)
	return nil
}
