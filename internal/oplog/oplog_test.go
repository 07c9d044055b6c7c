package oplog

import (
	"testing"

	"github.com/synckit/core/internal/clock"
)

func entry(replica clock.ReplicaID, c clock.LogicalClock, vc clock.VectorClock) Entry {
	return Entry{
		ID:          clock.OperationID{Replica: replica, Clock: c},
		DocumentID:  "doc1",
		Kind:        "test",
		VectorClock: vc,
		PhysicalMs:  1000,
	}
}

func TestIngestReadyImmediately(t *testing.T) {
	l := New(100, nil, nil)
	e := entry("a", 1, clock.VectorClock{"a": 1})
	ready := l.Ingest(e)
	if len(ready) != 1 || ready[0].ID != e.ID {
		t.Fatalf("expected entry to be ready immediately, got %v", ready)
	}
}

func TestIngestDuplicateIsNoop(t *testing.T) {
	l := New(100, nil, nil)
	e := entry("a", 1, clock.VectorClock{"a": 1})
	l.Ingest(e)
	if ready := l.Ingest(e); ready != nil {
		t.Fatalf("expected no-op on duplicate, got %v", ready)
	}
}

func TestIngestBuffersUntilCausallyReady(t *testing.T) {
	l := New(100, nil, nil)

	// b's op depends on having seen a's op up to clock 1.
	bOp := entry("b", 1, clock.VectorClock{"a": 1, "b": 1})
	if ready := l.Ingest(bOp); ready != nil {
		t.Fatalf("expected b's op to buffer, got %v", ready)
	}
	if l.PendingCount() != 1 {
		t.Fatalf("expected 1 pending entry, got %d", l.PendingCount())
	}

	aOp := entry("a", 1, clock.VectorClock{"a": 1})
	ready := l.Ingest(aOp)
	if len(ready) != 2 {
		t.Fatalf("expected a's arrival to unlock both entries, got %d", len(ready))
	}
	if l.PendingCount() != 0 {
		t.Fatalf("expected pending buffer drained, got %d", l.PendingCount())
	}
}

func TestSinceReturnsMissingEntries(t *testing.T) {
	l := New(100, nil, nil)
	l.Ingest(entry("a", 1, clock.VectorClock{"a": 1}))
	l.Ingest(entry("a", 2, clock.VectorClock{"a": 2}))
	l.Ingest(entry("b", 1, clock.VectorClock{"a": 2, "b": 1}))

	missing := l.Since(clock.VectorClock{"a": 1})
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing entries, got %d", len(missing))
	}
}

func TestLogIsBounded(t *testing.T) {
	l := New(3, nil, nil)
	for i := clock.LogicalClock(1); i <= 5; i++ {
		l.Ingest(entry("a", i, clock.VectorClock{"a": i}))
	}
	if len(l.entries) != 3 {
		t.Fatalf("expected log bounded to 3 entries, got %d", len(l.entries))
	}
	// The oldest entries should have been pruned, keeping the tail.
	if l.entries[0].ID.Clock != 3 {
		t.Fatalf("expected pruning to keep the tail, got first clock %d", l.entries[0].ID.Clock)
	}
}

func TestLocalVectorAdvances(t *testing.T) {
	l := New(100, nil, nil)
	l.Ingest(entry("a", 1, clock.VectorClock{"a": 1}))
	l.Ingest(entry("a", 2, clock.VectorClock{"a": 2}))
	v := l.LocalVector()
	if v.Get("a") != 2 {
		t.Fatalf("expected local vector a=2, got %d", v.Get("a"))
	}
}
