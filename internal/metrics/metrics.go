// Package metrics exposes Prometheus collectors for archive store
// operations. Recording helpers are no-ops until Register succeeds, so the
// CLI pays nothing for them outside serve mode.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	backupsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wfbackup",
			Name:      "backups_created_total",
			Help:      "Number of archives sealed by the snapshot builder.",
		},
	)
	restores = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wfbackup",
			Name:      "restores_total",
			Help:      "Restore attempts by result (restored, not_found, no_workflow, error).",
		}, []string{"result"},
	)
	archivesDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wfbackup",
			Name:      "archives_deleted_total",
			Help:      "Archives removed, by reason (explicit, retention).",
		}, []string{"reason"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wfbackup",
			Name:      "operation_duration_seconds",
			Help:      "Duration of archive store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"},
	)
	operationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wfbackup",
			Name:      "operation_errors_total",
			Help:      "Operations that failed with an I/O error.",
		}, []string{"op"},
	)
	catalogArchives = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wfbackup",
			Name:      "archives",
			Help:      "Archives present at the last catalog scan.",
		},
	)
	catalogBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wfbackup",
			Name:      "archive_bytes",
			Help:      "Total archive bytes at the last catalog scan.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		backupsCreated, restores, archivesDeleted, operationDuration,
		operationErrors, catalogArchives, catalogBytes,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncCreated() {
	if regOK.Load() {
		backupsCreated.Inc()
	}
}

func IncRestore(result string) {
	if regOK.Load() {
		restores.WithLabelValues(result).Inc()
	}
}

func AddDeleted(reason string, n int) {
	if regOK.Load() && n > 0 {
		archivesDeleted.WithLabelValues(reason).Add(float64(n))
	}
}

func ObserveDuration(op string, d time.Duration) {
	if regOK.Load() {
		operationDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}

func IncError(op string) {
	if regOK.Load() {
		operationErrors.WithLabelValues(op).Inc()
	}
}

// SetCatalog records the archive count and total size seen by the catalog.
func SetCatalog(count int, bytes int64) {
	if regOK.Load() {
		catalogArchives.Set(float64(count))
		catalogBytes.Set(float64(bytes))
	}
}
