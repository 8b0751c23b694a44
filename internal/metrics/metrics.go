// Package metrics provides Prometheus metrics for listing, ACL and search operations.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"diskbrowser/pkg/types"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskbrowser_operations_total",
			Help: "Total number of listing and search operations",
		},
		[]string{"op", "disk", "status"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diskbrowser_operation_duration_seconds",
			Help:    "Operation duration in seconds, including backend calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	entriesReturned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskbrowser_entries_returned_total",
			Help: "Total number of entries returned to callers",
		},
		[]string{"op"},
	)

	aclDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskbrowser_acl_decisions_total",
			Help: "ACL filter decisions per entry",
		},
		[]string{"decision"},
	)

	searchScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diskbrowser_search_paths_scanned_total",
			Help: "Total number of paths compared against search terms",
		},
	)

	fallbackDirectories = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diskbrowser_directory_metadata_fallbacks_total",
			Help: "Directory entries synthesized because the backend had no metadata",
		},
	)
)

// RecordOperation records the outcome and duration of one operation.
func RecordOperation(op, disk string, start time.Time, entries int, err error) {
	operationsTotal.WithLabelValues(op, disk, Status(err)).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil {
		entriesReturned.WithLabelValues(op).Add(float64(entries))
	}
}

// RecordACLDecision records whether an entry stayed visible after filtering.
func RecordACLDecision(visible bool) {
	if visible {
		aclDecisions.WithLabelValues("visible").Inc()
	} else {
		aclDecisions.WithLabelValues("hidden").Inc()
	}
}

// RecordSearchScanned adds n compared paths.
func RecordSearchScanned(n int) {
	searchScanned.Add(float64(n))
}

// RecordDirectoryFallback counts a synthesized directory entry.
func RecordDirectoryFallback() {
	fallbackDirectories.Inc()
}

// Status maps an error to a status label.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrUnknownDisk):
		return "unknown_disk"
	case errors.Is(err, types.ErrBackendUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// WriteTextfile writes the default registry in the text exposition format,
// for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
