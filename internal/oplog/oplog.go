// Package oplog is the append-only per-document operation log of spec §4.F:
// it buffers remote operations until they are causally ready, de-duplicates
// by OperationId, and serves "what have you missed" queries for the sync
// manager.
//
// Grounded on the teacher's internal/collection/distributed_collection.go
// (operationLog/maxLogSize/pruneOperationLog FIFO bound, and
// handleSyncRequest's "opClock > remoteClock" missing-ops scan, generalized
// here from a single clock component to a full vector comparison) and
// cshekharsharma-go-crdt's rga.go pendingOrphans buffer, generalized from
// tree-parent readiness to vector-clock causal readiness.
package oplog

import (
	"sync"

	"go.uber.org/zap"

	"github.com/synckit/core/internal/clock"
	"github.com/synckit/core/internal/observability/logging"
	"github.com/synckit/core/internal/observability/metrics"
)

// Entry is one logged operation, carrying just enough envelope to order and
// deduplicate it; Payload is the CRDT-specific operation, opaque to this
// package (spec §4.F).
type Entry struct {
	ID          clock.OperationID
	DocumentID  string
	Kind        string
	VectorClock clock.VectorClock
	PhysicalMs  int64
	Payload     []byte
}

// Log is a bounded, causally-ready operation log for one document.
type Log struct {
	mu      sync.Mutex
	maxSize int
	entries []Entry
	seen    map[clock.OperationID]bool
	pending map[clock.OperationID]Entry // buffered, not yet causally ready
	local   clock.VectorClock           // vector of everything applied so far

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates a Log bounded to maxSize entries. logger and metrics may be
// nil: a nil logger is replaced by a Nop logger, and nil metrics turn
// instrumentation off.
func New(maxSize int, logger *logging.Logger, m *metrics.Metrics) *Log {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Log{
		maxSize: maxSize,
		seen:    make(map[clock.OperationID]bool),
		pending: make(map[clock.OperationID]Entry),
		local:   make(clock.VectorClock),
		logger:  logger,
		metrics: m,
	}
}

// Ingest offers a possibly out-of-order remote entry to the log. It returns
// every entry that is now causally ready to apply, in causal order: entry
// itself if it was immediately ready, followed by any previously buffered
// entries its arrival unlocked. A duplicate (already-seen) entry yields no
// ready entries (spec §4.F idempotence).
func (l *Log) Ingest(entry Entry) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen[entry.ID] {
		if l.metrics != nil {
			l.metrics.OperationsDropped.Inc()
		}
		return nil
	}

	if !l.readyLocked(entry) {
		l.pending[entry.ID] = entry
		if l.metrics != nil {
			l.metrics.OperationsBuffered.Set(float64(len(l.pending)))
		}
		l.logger.WithDocument(entry.DocumentID).Debug("buffering causally unready operation",
			zap.String("op", entry.ID.String()))
		return nil
	}

	ready := []Entry{entry}
	l.commitLocked(entry)
	ready = append(ready, l.drainLocked()...)

	if l.metrics != nil {
		l.metrics.OperationsApplied.Add(float64(len(ready)))
		l.metrics.OperationsBuffered.Set(float64(len(l.pending)))
	}
	return ready
}

// readyLocked implements spec §4.F causal readiness: a remote op with
// vector V is ready when, for every replica r other than the op's own, the
// log has already committed everything up to V[r].
func (l *Log) readyLocked(entry Entry) bool {
	for r, c := range entry.VectorClock {
		if r == entry.ID.Replica {
			continue
		}
		if l.local.Get(r) < c {
			return false
		}
	}
	return true
}

func (l *Log) commitLocked(entry Entry) {
	l.seen[entry.ID] = true
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.maxSize {
		l.entries = l.entries[len(l.entries)-l.maxSize:]
	}
	l.local = l.local.Merge(entry.VectorClock)
	if l.local.Get(entry.ID.Replica) < entry.ID.Clock {
		l.local[entry.ID.Replica] = entry.ID.Clock
	}
}

// drainLocked repeatedly scans the pending buffer for entries that have
// become ready, applying them until a fixed point.
func (l *Log) drainLocked() []Entry {
	var drained []Entry
	for {
		progressed := false
		for id, entry := range l.pending {
			if l.readyLocked(entry) {
				delete(l.pending, id)
				l.commitLocked(entry)
				drained = append(drained, entry)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return drained
}

// Since returns every committed entry the caller (whose vector is v) has
// not yet seen, per replica slot (teacher's handleSyncRequest query,
// generalized from one clock component to the full vector).
func (l *Log) Since(v clock.VectorClock) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var missing []Entry
	for _, entry := range l.entries {
		if entry.ID.Clock > v.Get(entry.ID.Replica) {
			missing = append(missing, entry)
		}
	}
	return missing
}

// LocalVector returns the vector clock of everything this log has
// committed.
func (l *Log) LocalVector() clock.VectorClock {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.local.Clone()
}

// PendingCount returns the number of buffered, not-yet-ready entries —
// exposed for tests and diagnostics.
func (l *Log) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
