package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/wfbackup/internal/metrics"
	"github.com/BadgerOps/wfbackup/internal/store"
)

// ErrInvalidKeepDays is returned for a negative retention window.
var ErrInvalidKeepDays = errors.New("keep days must not be negative")

// Deletion reasons, as used in metrics labels.
const (
	reasonExplicit  = "explicit"
	reasonRetention = "retention"
)

// CleanupOptions configures a retention sweep.
type CleanupOptions struct {
	KeepDays int
	// DryRun reports what would be deleted without deleting anything.
	DryRun bool
}

// CleanupReport describes a retention sweep.
type CleanupReport struct {
	KeepDays  int
	Cutoff    time.Time
	DryRun    bool
	Deleted   []Archive
	Kept      int
	Reclaimed int64
}

// Delete removes the archive at archivePath. It reports false with a nil
// error when there is nothing to delete.
func (m *Manager) Delete(ctx context.Context, archivePath string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	op := &store.Operation{
		Kind:      store.KindDelete,
		Archive:   filepath.Base(archivePath),
		Path:      archivePath,
		StartTime: m.now(),
	}

	size, err := removeArchive(archivePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		op.Status = store.StatusNotFound
		m.record(op)
		m.logger.Warn("backup not found", "archive", archivePath)
		return false, nil
	case err != nil:
		metrics.IncError(store.KindDelete)
		op.Status = store.StatusFailed
		op.ErrorMessage = err.Error()
		m.record(op)
		m.logger.Error("failed to delete backup", "archive", archivePath, "error", err)
		return false, err
	}

	op.Status = store.StatusCompleted
	op.Bytes = size
	op.Count = 1
	m.record(op)
	metrics.AddDeleted(reasonExplicit, 1)
	m.logger.Info("backup deleted", "archive", archivePath, "size", size)
	return true, nil
}

// removeArchive deletes one archive file and returns its size. Directories
// are refused.
func removeArchive(archivePath string) (int64, error) {
	info, err := os.Lstat(archivePath)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("archive path %s is a directory", archivePath)
	}
	if err := os.Remove(archivePath); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Cleanup deletes every archive last modified strictly before
// now - KeepDays*24h. An archive exactly at the cutoff is kept.
func (m *Manager) Cleanup(ctx context.Context, opts CleanupOptions) (*CleanupReport, error) {
	if opts.KeepDays < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKeepDays, opts.KeepDays)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	began := time.Now()
	now := m.now()
	op := &store.Operation{Kind: store.KindCleanup, StartTime: now}
	report := &CleanupReport{
		KeepDays: opts.KeepDays,
		Cutoff:   now.Add(-time.Duration(opts.KeepDays) * 24 * time.Hour),
		DryRun:   opts.DryRun,
		Deleted:  []Archive{},
	}

	err := m.sweep(ctx, report)
	metrics.ObserveDuration(store.KindCleanup, time.Since(began))

	op.Count = len(report.Deleted)
	op.Bytes = report.Reclaimed
	if err != nil {
		metrics.IncError(store.KindCleanup)
		op.Status = store.StatusFailed
		op.ErrorMessage = err.Error()
		m.record(op)
		m.logger.Error("cleanup failed", "deleted", len(report.Deleted), "error", err)
		return nil, err
	}
	op.Status = store.StatusCompleted
	if !opts.DryRun {
		m.record(op)
		metrics.AddDeleted(reasonRetention, len(report.Deleted))
	}

	m.logger.Info("cleanup finished",
		"keep_days", opts.KeepDays,
		"cutoff", report.Cutoff.Format(time.RFC3339),
		"deleted", len(report.Deleted),
		"kept", report.Kept,
		"reclaimed", report.Reclaimed,
		"dry_run", opts.DryRun,
	)
	return report, nil
}

func (m *Manager) sweep(ctx context.Context, report *CleanupReport) error {
	archives, err := m.scan(ctx)
	if err != nil {
		return err
	}

	for _, a := range archives {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !a.Created.Before(report.Cutoff) {
			report.Kept++
			continue
		}

		if report.DryRun {
			m.logger.Info("would delete old backup", "archive", a.Name, "created", a.Created)
		} else {
			if _, err := removeArchive(a.Path); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return fmt.Errorf("deleting %s: %w", a.Name, err)
			}
			m.logger.Debug("deleted old backup", "archive", a.Name, "created", a.Created)
		}
		report.Deleted = append(report.Deleted, a)
		report.Reclaimed += a.Size
	}
	return nil
}
