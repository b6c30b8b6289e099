package backup

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/BadgerOps/wfbackup/internal/metrics"
	"github.com/BadgerOps/wfbackup/internal/safety"
	"github.com/BadgerOps/wfbackup/internal/store"
)

// ErrUnsafeMember is returned when an archive member would land outside the
// extraction directory or is not a plain file or directory.
var ErrUnsafeMember = errors.New("unsafe archive member")

// Restore results, as used in metrics labels.
const (
	resultRestored   = "restored"
	resultNotFound   = "not_found"
	resultNoWorkflow = "no_workflow"
	resultError      = "error"
)

// RestoreOptions configures a restore.
type RestoreOptions struct {
	// RestoreDir receives workflow_restored.json. Defaults to ".".
	RestoreDir string
	// KeepExtracted unpacks the archive directly into RestoreDir and leaves
	// the tree there. Otherwise extraction happens in a temporary directory
	// that is removed afterwards.
	KeepExtracted bool
}

// RestoreReport describes the outcome of a restore.
type RestoreReport struct {
	Archive      string
	ArchiveFound bool
	Restored     bool
	Codec        string
	Members      int
	OutputPath   string
	Bytes        int64
	// ExtractedDir is set only when the extracted tree was kept.
	ExtractedDir string
}

// Restore recovers the workflow file from the archive at archivePath.
//
// A missing archive and an archive without a workflow.json member are not
// errors; the report says Restored=false. In the missing case nothing is
// written, not even the restore directory.
func (m *Manager) Restore(ctx context.Context, archivePath string, opts RestoreOptions) (*RestoreReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	began := time.Now()
	op := &store.Operation{
		Kind:      store.KindRestore,
		Archive:   filepath.Base(archivePath),
		Path:      archivePath,
		StartTime: m.now(),
	}

	report, err := m.restore(ctx, archivePath, opts)
	metrics.ObserveDuration(store.KindRestore, time.Since(began))
	if err != nil {
		metrics.IncError(store.KindRestore)
		metrics.IncRestore(resultError)
		op.Status = store.StatusFailed
		op.ErrorMessage = err.Error()
		m.record(op)
		m.logger.Error("restore failed", "archive", archivePath, "error", err)
		return nil, err
	}
	op.Count = report.Members

	switch {
	case !report.ArchiveFound:
		metrics.IncRestore(resultNotFound)
		op.Status = store.StatusNotFound
		m.logger.Warn("backup not found", "archive", archivePath)
	case !report.Restored:
		metrics.IncRestore(resultNoWorkflow)
		op.Status = store.StatusNotFound
		op.ErrorMessage = "archive contains no " + WorkflowMember
		m.logger.Warn("no workflow file found in archive", "archive", archivePath, "members", report.Members)
	default:
		metrics.IncRestore(resultRestored)
		op.Status = store.StatusCompleted
		op.Path = report.OutputPath
		op.Bytes = report.Bytes
		m.logger.Info("workflow restored",
			"archive", archivePath,
			"output", report.OutputPath,
			"bytes", report.Bytes,
			"codec", report.Codec,
		)
	}
	if report.ExtractedDir != "" {
		m.logger.Info("extracted archive kept", "dir", report.ExtractedDir)
	}

	m.record(op)
	return report, nil
}

func (m *Manager) restore(ctx context.Context, archivePath string, opts RestoreOptions) (*RestoreReport, error) {
	if opts.RestoreDir == "" {
		opts.RestoreDir = "."
	}
	report := &RestoreReport{Archive: archivePath}

	info, err := os.Stat(archivePath)
	if errors.Is(err, fs.ErrNotExist) {
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking archive: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("archive path %s is a directory", archivePath)
	}
	report.ArchiveFound = true

	if err := os.MkdirAll(opts.RestoreDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating restore directory: %w", err)
	}

	extractDir := opts.RestoreDir
	if !opts.KeepExtracted {
		extractDir, err = os.MkdirTemp(opts.RestoreDir, ".restore-")
		if err != nil {
			return nil, fmt.Errorf("creating extraction directory: %w", err)
		}
		defer func() {
			if err := os.RemoveAll(extractDir); err != nil {
				m.logger.Warn("failed to remove extraction directory", "path", extractDir, "error", err)
			}
		}()
	}

	result, err := extractArchive(ctx, archivePath, extractDir)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", filepath.Base(archivePath), err)
	}
	report.Codec = result.codec
	report.Members = result.members
	if opts.KeepExtracted {
		report.ExtractedDir = extractDir
	}
	if result.workflow == "" {
		return report, nil
	}

	outPath := filepath.Join(opts.RestoreDir, RestoredName)
	n, err := copyFile(result.workflow, outPath)
	if err != nil {
		return nil, fmt.Errorf("writing %s: %w", RestoredName, err)
	}
	report.Restored = true
	report.OutputPath = outPath
	report.Bytes = n
	return report, nil
}

type extractResult struct {
	codec   string
	members int
	// workflow is the extracted path of the first <top>/workflow.json member.
	workflow string
	// fallback is the first workflow.json at any other depth.
	fallback string
}

// extractArchive unpacks every member of the archive under dest. Only
// directories and regular files are accepted and every member path must
// resolve inside dest. The workflow member is <top>/workflow.json; archives
// not laid out that way fall back to the first workflow.json in archive
// order at any depth.
func extractArchive(ctx context.Context, archivePath, dest string) (*extractResult, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	br := bufio.NewReader(f)
	codec, err := detectCodec(br)
	if err != nil {
		return nil, err
	}
	cr, err := codec.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("opening %s stream: %w", codec.Name(), err)
	}
	defer func() {
		_ = cr.Close()
	}()

	result := &extractResult{codec: codec.Name()}
	tr := tar.NewReader(cr)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return nil, fmt.Errorf("%w %q: %w", ErrUnsafeMember, header.Name, err)
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar entry: %w", err)
		}
		if header.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		if path.Clean(header.Name) == "." {
			continue
		}

		target, err := safety.SafeJoinUnder(dest, header.Name)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrUnsafeMember, header.Name, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("creating directory %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := writeMember(tr, header, target); err != nil {
				return nil, fmt.Errorf("writing %s: %w", header.Name, err)
			}
			result.members++
			switch {
			case result.workflow == "" && isWorkflowMember(header.Name):
				result.workflow = target
			case result.fallback == "" && path.Base(header.Name) == WorkflowMember:
				result.fallback = target
			}
		default:
			return nil, fmt.Errorf("%w %q: type %q not allowed", ErrUnsafeMember, header.Name, string(header.Typeflag))
		}
	}
	if result.workflow == "" {
		result.workflow = result.fallback
	}
	return result, nil
}

// isWorkflowMember reports whether name is <top>/workflow.json.
func isWorkflowMember(name string) bool {
	parts := strings.Split(strings.Trim(path.Clean(name), "/"), "/")
	return len(parts) == 2 && parts[1] == WorkflowMember
}

func writeMember(tr *tar.Reader, header *tar.Header, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	perm := header.FileInfo().Mode().Perm() | 0o600
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, tr)
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	if !header.ModTime.IsZero() {
		if err := os.Chtimes(target, header.ModTime, header.ModTime); err != nil {
			return err
		}
	}
	return nil
}
