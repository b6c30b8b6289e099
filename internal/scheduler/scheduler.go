// Package scheduler runs periodic snapshots and retention sweeps in serve
// mode on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BadgerOps/wfbackup/internal/backup"
	"github.com/robfig/cron/v3"
)

// Job names.
const (
	JobSnapshot = "snapshot"
	JobCleanup  = "cleanup"
)

// Runner is the part of backup.Manager the scheduler drives.
type Runner interface {
	Create(ctx context.Context, workflowPath string, metadata any) (*backup.CreateReport, error)
	Cleanup(ctx context.Context, opts backup.CleanupOptions) (*backup.CleanupReport, error)
}

// Options configures the scheduled jobs. An empty cron expression
// disables that job.
type Options struct {
	SnapshotCron string
	CleanupCron  string
	WorkflowFile string
	KeepDays     int
	Logger       *slog.Logger
}

// Scheduler owns a cron instance with up to two jobs.
type Scheduler struct {
	runner Runner
	opts   Options
	logger *slog.Logger
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	entries map[string]cron.EntryID
}

// New validates the schedules and registers the jobs. Nothing runs until
// Start is called. Overlapping runs of the same job are skipped.
func New(runner Runner, opts Options) (*Scheduler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:  runner,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{JobSnapshot, opts.SnapshotCron, s.snapshotJob},
		{JobCleanup, opts.CleanupCron, s.cleanupJob},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		id, err := s.cron.AddFunc(job.spec, job.run)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid %s schedule %q: %w", job.name, job.spec, err)
		}
		s.entries[job.name] = id
	}
	return s, nil
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	var names []string
	for _, name := range []string{JobSnapshot, JobCleanup} {
		if _, ok := s.entries[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Start begins running the jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.cron.Start()
	s.started = true

	for name, next := range s.nextRuns() {
		s.logger.Info("scheduled job registered", "job", name, "next_run", next.Format(time.RFC3339))
	}
}

// Stop halts scheduling and cancels running jobs. The returned context is
// done once running jobs have returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	if !s.started {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	s.started = false
	s.logger.Info("scheduler stopped")
	return s.cron.Stop()
}

// NextRuns reports the next activation time of each job. Times are zero
// before Start.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRuns()
}

func (s *Scheduler) nextRuns() map[string]time.Time {
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// RunSnapshot archives the configured workflow file immediately.
func (s *Scheduler) RunSnapshot(ctx context.Context) (*backup.CreateReport, error) {
	metadata := map[string]string{
		"trigger":      "schedule",
		"scheduled_at": time.Now().UTC().Format(time.RFC3339),
	}
	return s.runner.Create(ctx, s.opts.WorkflowFile, metadata)
}

// RunCleanup sweeps archives older than the configured retention window.
func (s *Scheduler) RunCleanup(ctx context.Context) (*backup.CleanupReport, error) {
	return s.runner.Cleanup(ctx, backup.CleanupOptions{KeepDays: s.opts.KeepDays})
}

func (s *Scheduler) snapshotJob() {
	report, err := s.RunSnapshot(s.ctx)
	if err != nil {
		s.logger.Error("scheduled snapshot failed", "error", err)
		return
	}
	s.logger.Info("scheduled snapshot completed", "archive", report.Archive.Name)
}

func (s *Scheduler) cleanupJob() {
	report, err := s.RunCleanup(s.ctx)
	if err != nil {
		s.logger.Error("scheduled cleanup failed", "error", err)
		return
	}
	s.logger.Info("scheduled cleanup completed", "deleted", len(report.Deleted), "kept", report.Kept)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
