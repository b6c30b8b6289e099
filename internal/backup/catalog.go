package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BadgerOps/wfbackup/internal/metrics"
)

// List returns the archives in the backup directory, newest first.
// Entries without a compressed-tar extension, subdirectories and dotfiles
// are ignored. A missing backup directory yields an empty list.
func (m *Manager) List(ctx context.Context) ([]Archive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	archives, err := m.scan(ctx)
	if err != nil {
		metrics.IncError("list")
		return nil, err
	}
	return archives, nil
}

// Find returns the archive named name, or nil if it is not in the catalog.
func (m *Manager) Find(ctx context.Context, name string) (*Archive, error) {
	archives, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range archives {
		if archives[i].Name == name {
			return &archives[i], nil
		}
	}
	return nil, nil
}

// scan reads the catalog without taking the lock. Callers hold m.mu.
func (m *Manager) scan(ctx context.Context) ([]Archive, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		metrics.SetCatalog(0, 0)
		return []Archive{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	archives := make([]Archive, 0, len(entries))
	var total int64
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || name[0] == '.' || !IsArchiveName(name) {
			continue
		}

		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// Removed between ReadDir and Info.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive %s: %w", name, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		archives = append(archives, Archive{
			Name:    name,
			Path:    filepath.Join(m.dir, name),
			Size:    info.Size(),
			Created: info.ModTime(),
		})
		total += info.Size()
	}

	sortNewestFirst(archives)
	metrics.SetCatalog(len(archives), total)
	return archives, nil
}

// sortNewestFirst orders by modification time descending. Equal times fall
// back to name descending, which keeps timestamp-named archives in
// creation order.
func sortNewestFirst(archives []Archive) {
	sort.SliceStable(archives, func(i, j int) bool {
		if !archives[i].Created.Equal(archives[j].Created) {
			return archives[i].Created.After(archives[j].Created)
		}
		return archives[i].Name > archives[j].Name
	})
}

// TotalSize sums the sizes of archives.
func TotalSize(archives []Archive) int64 {
	var total int64
	for _, a := range archives {
		total += a.Size
	}
	return total
}

// Age is how long ago the archive was last modified, relative to now.
func (a Archive) Age(now time.Time) time.Duration {
	return now.Sub(a.Created)
}
