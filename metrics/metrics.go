// Package metrics provides Prometheus instrumentation for key lifecycle
// operations: installs, evictions, key generation, and the busy-file cleanup
// task.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all key manager metrics
	Namespace = "vold"

	// Label names
	LabelOperation = "operation"
	LabelBackend   = "backend"
	LabelStatus    = "status"
	LabelOutcome   = "outcome"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Backend values: which keyring mechanism served the operation
	BackendFsKeyring      = "fs_keyring"
	BackendSessionKeyring = "session_keyring"

	// Operation names
	OpInstall  = "install"
	OpEvict    = "evict"
	OpGenerate = "generate"
	OpStatus   = "status"
	OpRetrieve = "retrieve"
	OpDestroy  = "destroy"

	// Busy-file cleanup task outcomes
	OutcomeResolved  = "resolved"
	OutcomeAborted   = "aborted"
	OutcomeExhausted = "exhausted"
)

var (
	// OperationsTotal tracks key lifecycle operations by type, keyring
	// backend, and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "key_operations_total",
			Help:      "Total number of key lifecycle operations by type, backend, and status",
		},
		[]string{LabelOperation, LabelBackend, LabelStatus},
	)

	// OperationDuration tracks the duration of key lifecycle operations in
	// seconds. Buckets cover fast ioctls through slow storage round trips.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "key_operation_duration_seconds",
			Help:      "Duration of key lifecycle operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelOperation, LabelBackend},
	)

	// BusyFileRetriesTotal counts poll-and-remove iterations of the busy-file
	// cleanup task.
	BusyFileRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "busy_file_retries_total",
			Help:      "Total number of busy-file eviction retry iterations",
		},
	)

	// BusyFileTasksTotal counts busy-file cleanup tasks by how they ended.
	BusyFileTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "busy_file_tasks_total",
			Help:      "Total number of busy-file cleanup tasks by outcome",
		},
		[]string{LabelOutcome},
	)

	// KeysGeneratedTotal counts freshly generated storage keys.
	KeysGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "keys_generated_total",
			Help:      "Total number of storage keys generated",
		},
	)
)

// RecordOperation increments OperationsTotal and observes the duration for a
// completed key lifecycle operation.
func RecordOperation(operation, backend, status string, duration float64) {
	OperationsTotal.WithLabelValues(operation, backend, status).Inc()
	OperationDuration.WithLabelValues(operation, backend).Observe(duration)
}
