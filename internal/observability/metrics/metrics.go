// Package metrics declares the Prometheus instrumentation surface for the
// sync manager, operation log, and server core, following the promauto
// pattern from the teacher's internal/monitoring/monitoring.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every counter, histogram, and gauge SyncKit exposes.
type Metrics struct {
	OperationsPushed     prometheus.Counter
	OperationsApplied    prometheus.Counter
	OperationsBuffered   prometheus.Gauge
	OperationsDropped    prometheus.Counter
	PushLatency          prometheus.Histogram
	ApplyLatency         prometheus.Histogram
	OfflineQueueSize     prometheus.Gauge
	OfflineQueueFull     prometheus.Counter
	ConnectedSubscribers prometheus.Gauge
	BroadcastsSent       prometheus.Counter
	AwarenessUpdates     prometheus.Counter
	UndoOperations       prometheus.Counter
	RedoOperations       prometheus.Counter
}

// New registers and returns a fresh Metrics set against the given registerer.
// Pass prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry across test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsPushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "synckit_operations_pushed_total",
			Help: "Total number of operations pushed to the sync manager",
		}),
		OperationsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "synckit_operations_applied_total",
			Help: "Total number of remote operations applied to a document",
		}),
		OperationsBuffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "synckit_operations_buffered",
			Help: "Number of remote operations buffered pending causal readiness",
		}),
		OperationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "synckit_operations_dropped_total",
			Help: "Total number of malformed or duplicate operations dropped",
		}),
		PushLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "synckit_push_latency_seconds",
			Help:    "Latency of push_operation from call to storage durability",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		ApplyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "synckit_apply_latency_seconds",
			Help:    "Latency of applying a remote operation to a document",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
		}),
		OfflineQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "synckit_offline_queue_size",
			Help: "Current size of the offline replay queue",
		}),
		OfflineQueueFull: factory.NewCounter(prometheus.CounterOpts{
			Name: "synckit_offline_queue_full_total",
			Help: "Total number of push_operation calls rejected with QueueFull",
		}),
		ConnectedSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "synckit_connected_subscribers",
			Help: "Number of subscribers currently connected to the server hub",
		}),
		BroadcastsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "synckit_broadcasts_sent_total",
			Help: "Total number of messages broadcast by the server core",
		}),
		AwarenessUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "synckit_awareness_updates_total",
			Help: "Total number of accepted awareness updates",
		}),
		UndoOperations: factory.NewCounter(prometheus.CounterOpts{
			Name: "synckit_undo_total",
			Help: "Total number of undo() calls",
		}),
		RedoOperations: factory.NewCounter(prometheus.CounterOpts{
			Name: "synckit_redo_total",
			Help: "Total number of redo() calls",
		}),
	}
}
