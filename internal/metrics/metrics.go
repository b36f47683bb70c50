// Package metrics registers the prometheus collectors of both services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts API requests by route template and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploads_http_requests_total",
			Help: "Total HTTP requests served by the upload API",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes API latency by route template.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uploads_http_request_duration_seconds",
			Help:    "Upload API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	JobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploads_jobs_submitted_total",
		Help: "Upload jobs accepted by the coordinator",
	})

	FilesSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploads_files_submitted_total",
		Help: "Files accepted by the coordinator",
	})

	EnqueueFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploads_enqueue_failures_total",
		Help: "Work items that could not be published after retries",
	})

	// FilesProcessedTotal counts recorded file outcomes by terminal status.
	FilesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploads_files_processed_total",
			Help: "File outcomes recorded by the worker pool",
		},
		[]string{"status"},
	)

	FileMoveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "uploads_file_move_duration_seconds",
		Help:    "Time spent moving a staged file to permanent storage, retries included",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	FileMoveRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploads_file_move_retries_total",
		Help: "Transient move failures that were retried",
	})

	// JobsFinalizedTotal counts jobs reaching processed == total, by final status.
	JobsFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploads_jobs_finalized_total",
			Help: "Jobs whose every file has an outcome",
		},
		[]string{"status"},
	)

	OutcomeConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploads_outcome_conflicts_total",
		Help: "Ledger write conflicts retried while recording an outcome",
	})

	DuplicateDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploads_duplicate_deliveries_total",
		Help: "Work items for files that already had an outcome",
	})

	FilesReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploads_files_reaped_total",
		Help: "Stuck files failed by the reaper",
	})

	NotificationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploads_notification_failures_total",
		Help: "Notifications that could not be delivered",
	})

	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uploads_workers_busy",
		Help: "Workers currently processing a work item",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
