// Package backup implements the workflow archive store: sealing a workflow
// file and optional metadata into a compressed tar archive, listing the
// archives in the backup directory, restoring a workflow from an archive,
// and retiring archives by name or age.
//
// An archive is laid out as
//
//	<stem>/workflow.json   raw copy of the workflow file (optional)
//	<stem>/metadata.json   pretty-printed metadata (optional)
//
// where <stem> is the archive file name without its extension.
package backup

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/BadgerOps/wfbackup/internal/store"
)

// Archive member and output names.
const (
	WorkflowMember = "workflow.json"
	MetadataMember = "metadata.json"
	RestoredName   = "workflow_restored.json"

	// NamePrefix starts every archive stem, followed by the creation time.
	NamePrefix = "workflow_backup_"
	// TimestampLayout is the second-resolution creation time in archive names.
	TimestampLayout = "20060102_150405"
)

// Archive is one sealed archive in the backup directory.
type Archive struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// Stem is the archive name without its compressed-tar extension; it is also
// the top-level directory inside the archive.
func (a Archive) Stem() string {
	return archiveStem(a.Name)
}

// Journal receives one record per operation. *store.Store satisfies it.
type Journal interface {
	CreateOperation(op *store.Operation) error
}

// Options configures a Manager.
type Options struct {
	// Dir is the flat archive directory. Created if absent.
	Dir string
	// Compression selects the codec for new archives ("gzip" or "zstd").
	Compression string
	// Journal is optional.
	Journal Journal
	Logger  *slog.Logger
}

// Manager is the archive store. Mutating operations take the write lock
// and reads take the read lock, so a sweep inside this process never
// removes an archive that is being restored.
type Manager struct {
	dir     string
	codec   Codec
	journal Journal
	logger  *slog.Logger
	mu      sync.RWMutex

	// now is the clock used for archive names and retention cutoffs.
	now func() time.Time
}

// NewManager creates the backup directory if needed and returns a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Dir == "" {
		opts.Dir = "backups"
	}
	if opts.Compression == "" {
		opts.Compression = "gzip"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	codec, err := CodecByName(opts.Compression)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	return &Manager{
		dir:     opts.Dir,
		codec:   codec,
		journal: opts.Journal,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Dir returns the backup directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Codec returns the codec used for new archives.
func (m *Manager) Codec() Codec {
	return m.codec
}

// record writes op to the journal. Journal failures never fail the operation.
func (m *Manager) record(op *store.Operation) {
	if m.journal == nil {
		return
	}
	if op.EndTime.IsZero() {
		op.EndTime = m.now()
	}
	if err := m.journal.CreateOperation(op); err != nil {
		m.logger.Warn("failed to record operation in journal", "kind", op.Kind, "archive", op.Archive, "error", err)
	}
}
