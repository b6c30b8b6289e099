package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BadgerOps/wfbackup/internal/backup"
	"github.com/BadgerOps/wfbackup/internal/safety"
	"github.com/BadgerOps/wfbackup/internal/store"
	"github.com/dustin/go-humanize"
)

const defaultHistoryLimit = 50

// archiveJSON is the API view of one archive.
type archiveJSON struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"size_human"`
	Created   time.Time `json:"created"`
}

func toArchiveJSON(a backup.Archive) archiveJSON {
	return archiveJSON{
		Name:      a.Name,
		Path:      a.Path,
		Size:      a.Size,
		SizeHuman: humanize.IBytes(uint64(a.Size)),
		Created:   a.Created,
	}
}

type listResponse struct {
	Backups    []archiveJSON `json:"backups"`
	Count      int           `json:"count"`
	TotalBytes int64         `json:"total_bytes"`
}

type createResponse struct {
	Archive     archiveJSON `json:"archive"`
	Members     []string    `json:"members"`
	HasWorkflow bool        `json:"has_workflow"`
	HasMetadata bool        `json:"has_metadata"`
}

type restoreResponse struct {
	Archive      string `json:"archive"`
	Restored     bool   `json:"restored"`
	OutputPath   string `json:"output_path,omitempty"`
	Bytes        int64  `json:"bytes"`
	Members      int    `json:"members"`
	ExtractedDir string `json:"extracted_dir,omitempty"`
}

type cleanupResponse struct {
	KeepDays  int       `json:"keep_days"`
	Cutoff    time.Time `json:"cutoff"`
	DryRun    bool      `json:"dry_run"`
	Deleted   []string  `json:"deleted"`
	Kept      int       `json:"kept"`
	Reclaimed int64     `json:"reclaimed_bytes"`
}

type operationJSON struct {
	ID           int64     `json:"id"`
	Kind         string    `json:"kind"`
	Archive      string    `json:"archive,omitempty"`
	Path         string    `json:"path,omitempty"`
	Status       string    `json:"status"`
	Bytes        int64     `json:"bytes"`
	Count        int       `json:"count"`
	ErrorMessage string    `json:"error,omitempty"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":     "ok",
		"backup_dir": s.manager.Dir(),
		"codec":      s.manager.Codec().Name(),
		"journal":    s.store != nil,
	}
	if s.store != nil {
		if n, err := s.store.CountOperations(""); err == nil {
			response["operations"] = n
		} else {
			s.logger.Warn("failed to count operations", "error", err)
		}
	}
	if s.scheduler != nil {
		next := make(map[string]string)
		for name, t := range s.scheduler.NextRuns() {
			if !t.IsZero() {
				next[name] = t.Format(time.RFC3339)
			}
		}
		response["next_runs"] = next
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	archives, err := s.manager.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list backups", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}

	response := listResponse{
		Backups:    make([]archiveJSON, 0, len(archives)),
		Count:      len(archives),
		TotalBytes: backup.TotalSize(archives),
	}
	for _, a := range archives {
		response.Backups = append(response.Backups, toArchiveJSON(a))
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleCreateBackup snapshots the configured workflow file. An optional
// JSON object body is stored as the archive metadata.
func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	limit, err := s.config.MaxBodyBytes()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "invalid body size limit")
		return
	}

	body, err := safety.ReadAllWithLimit(r.Body, limit)
	if errors.Is(err, safety.ErrBodyTooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var metadata map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &metadata); err != nil {
			s.writeError(w, http.StatusBadRequest, "metadata must be a JSON object")
			return
		}
	}

	var meta any
	if metadata != nil {
		meta = metadata
	}
	report, err := s.manager.Create(r.Context(), s.config.Backup.WorkflowFile, meta)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create backup")
		return
	}

	s.writeJSON(w, http.StatusCreated, createResponse{
		Archive:     toArchiveJSON(report.Archive),
		Members:     report.Members,
		HasWorkflow: report.HasWorkflow,
		HasMetadata: report.HasMetadata,
	})
}

func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	archivePath, ok := s.archivePath(w, r)
	if !ok {
		return
	}

	deleted, err := s.manager.Delete(r.Context(), archivePath)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to delete backup")
		return
	}
	if !deleted {
		s.writeError(w, http.StatusNotFound, "backup not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": filepath.Base(archivePath)})
}

// handleRestoreBackup restores into the configured restore directory.
// ?keep_extracted=true overrides the configured default.
func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	archivePath, ok := s.archivePath(w, r)
	if !ok {
		return
	}

	opts := backup.RestoreOptions{
		RestoreDir:    s.config.Backup.RestoreDir,
		KeepExtracted: s.config.Backup.KeepExtracted,
	}
	if v := r.URL.Query().Get("keep_extracted"); v != "" {
		keep, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "keep_extracted must be a boolean")
			return
		}
		opts.KeepExtracted = keep
	}

	report, err := s.manager.Restore(r.Context(), archivePath, opts)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to restore backup")
		return
	}
	if !report.ArchiveFound {
		s.writeError(w, http.StatusNotFound, "backup not found")
		return
	}

	status := http.StatusOK
	if !report.Restored {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, restoreResponse{
		Archive:      filepath.Base(archivePath),
		Restored:     report.Restored,
		OutputPath:   report.OutputPath,
		Bytes:        report.Bytes,
		Members:      report.Members,
		ExtractedDir: report.ExtractedDir,
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	opts := backup.CleanupOptions{KeepDays: s.config.Retention.KeepDays}

	q := r.URL.Query()
	if v := q.Get("keep_days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "keep_days must be an integer")
			return
		}
		opts.KeepDays = days
	}
	if v := q.Get("dry_run"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "dry_run must be a boolean")
			return
		}
		opts.DryRun = dryRun
	}

	report, err := s.manager.Cleanup(r.Context(), opts)
	if errors.Is(err, backup.ErrInvalidKeepDays) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}

	response := cleanupResponse{
		KeepDays:  report.KeepDays,
		Cutoff:    report.Cutoff,
		DryRun:    report.DryRun,
		Deleted:   make([]string, 0, len(report.Deleted)),
		Kept:      report.Kept,
		Reclaimed: report.Reclaimed,
	}
	for _, a := range report.Deleted {
		response.Deleted = append(response.Deleted, a.Name)
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "operation journal is disabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ops, err := s.store.ListOperations(r.URL.Query().Get("kind"), limit)
	if err != nil {
		s.logger.Error("failed to list operations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	response := make([]operationJSON, 0, len(ops))
	for _, op := range ops {
		response = append(response, toOperationJSON(op))
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "operation journal is disabled")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid operation id")
		return
	}

	op, err := s.store.GetOperation(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	s.writeJSON(w, http.StatusOK, toOperationJSON(*op))
}

func toOperationJSON(op store.Operation) operationJSON {
	return operationJSON{
		ID:           op.ID,
		Kind:         op.Kind,
		Archive:      op.Archive,
		Path:         op.Path,
		Status:       op.Status,
		Bytes:        op.Bytes,
		Count:        op.Count,
		ErrorMessage: op.ErrorMessage,
		StartTime:    op.StartTime,
		EndTime:      op.EndTime,
	}
}

// archivePath resolves the {name} path value to an archive in the backup
// directory. It writes a 400 response and returns false for anything that
// is not a bare archive file name.
func (s *Server) archivePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	name, err := safety.BareFileName(r.PathValue("name"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	if !backup.IsArchiveName(name) {
		s.writeError(w, http.StatusBadRequest, "not an archive name: "+name)
		return "", false
	}
	return filepath.Join(s.manager.Dir(), name), true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
