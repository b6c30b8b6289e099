package store

import "time"

// Operation kinds recorded in the journal.
const (
	KindCreate  = "create"
	KindRestore = "restore"
	KindDelete  = "delete"
	KindCleanup = "cleanup"
)

// Operation statuses recorded in the journal.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusNotFound  = "not_found"
)

// Operation records one archive store operation
type Operation struct {
	ID           int64
	Kind         string // "create", "restore", "delete", "cleanup"
	Archive      string // archive file name, empty for cleanup
	Path         string // archive path or restore target
	Status       string // "completed", "failed", "not_found"
	Bytes        int64  // archive size, restored bytes, or bytes reclaimed
	Count        int    // archives deleted by a cleanup
	ErrorMessage string
	StartTime    time.Time
	EndTime      time.Time
}

// Duration returns how long the operation ran.
func (o Operation) Duration() time.Duration {
	if o.EndTime.IsZero() || o.EndTime.Before(o.StartTime) {
		return 0
	}
	return o.EndTime.Sub(o.StartTime)
}
