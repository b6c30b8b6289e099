package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BadgerOps/wfbackup/internal/metrics"
	"github.com/BadgerOps/wfbackup/internal/scheduler"
	"github.com/BadgerOps/wfbackup/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the backup API, metrics and scheduled jobs",
		Long: `Start the HTTP server exposing the archive store as a JSON API, with
Prometheus metrics on /metrics. When schedule.enabled is set, snapshots and
retention sweeps also run on their cron schedules.

By default, the server listens on the address configured in the config file
(default: 127.0.0.1:8085). Use --listen to override.`,
		Example: `  wfbackup serve
  wfbackup serve --listen 0.0.0.0:9000`,
		Args: cobra.NoArgs,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port)")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalManager == nil {
		return fmt.Errorf("archive store not initialized")
	}

	listen := serveListen
	if listen == "" {
		listen = globalCfg.Server.Listen
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	var sched *scheduler.Scheduler
	if globalCfg.Schedule.Enabled {
		var err error
		sched, err = scheduler.New(globalManager, scheduler.Options{
			SnapshotCron: globalCfg.Schedule.SnapshotCron,
			CleanupCron:  globalCfg.Schedule.CleanupCron,
			WorkflowFile: globalCfg.Backup.WorkflowFile,
			KeepDays:     globalCfg.Retention.KeepDays,
			Logger:       logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		sched.Start()
	}

	log.Info("server starting", "listen", listen, "backup_dir", globalManager.Dir(), "schedule", globalCfg.Schedule.Enabled)

	srv := server.NewServer(globalManager, globalStore, sched, globalCfg, logger)

	// Channel to listen for errors from server
	errChan := make(chan error, 1)

	go func() {
		fmt.Printf("Starting server on %s...\n", listen)
		if err := srv.Start(listen); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case err := <-errChan:
		runErr = fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			runErr = fmt.Errorf("server shutdown error: %w", err)
		}
	}

	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-time.After(30 * time.Second):
			log.Warn("scheduled jobs still running at shutdown")
		}
	}

	if runErr == nil {
		fmt.Println("Server stopped gracefully")
	}
	return runErr
}
