package lww

import (
	"testing"

	"github.com/synckit/core/internal/clock"
)

func TestSetGet(t *testing.T) {
	d := New("a")
	d.Set("title", "hello")
	v, ok := d.Get("title")
	if !ok || v != "hello" {
		t.Fatalf("expected hello, got %v %v", v, ok)
	}
}

func TestDeleteTombstone(t *testing.T) {
	d := New("a")
	d.Set("title", "hello")
	d.Delete("title")
	if _, ok := d.Get("title"); ok {
		t.Fatal("expected field to be gone after delete")
	}
}

func TestUpdateBatchStrictlyIncreasing(t *testing.T) {
	d := New("a")
	ops := d.Update(map[string]Value{"x": 1, "y": 2, "z": 3})
	seen := make(map[clock.LogicalClock]bool)
	for _, op := range ops {
		if seen[op.Stamp.Counter] {
			t.Fatalf("duplicate clock value %d in batch", op.Stamp.Counter)
		}
		seen[op.Stamp.Counter] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct clock values, got %d", len(seen))
	}
}

// TestS2LWWFieldRace reproduces spec scenario S2: three replicas race to set
// `title`; the winner is determined purely by (clock, replicaId), never by
// physical time.
func TestS2LWWFieldRace(t *testing.T) {
	winner := New("server")

	writes := []Op{
		{Key: "title", Value: "A", Stamp: clock.Lamport{Counter: 5, Replica: "a"}},
		{Key: "title", Value: "B", Stamp: clock.Lamport{Counter: 7, Replica: "b"}},
		{Key: "title", Value: "C", Stamp: clock.Lamport{Counter: 6, Replica: "c"}},
	}
	// Apply out of causal/physical order to simulate packet loss/reordering.
	order := []int{2, 0, 1}
	for _, i := range order {
		winner.Apply(writes[i])
	}

	got, ok := winner.Get("title")
	if !ok || got != "B" {
		t.Fatalf("expected B (clock 7) to win, got %v", got)
	}
}

func TestApplyIdempotent(t *testing.T) {
	d := New("a")
	op := d.Set("k", "v1")
	d.Apply(op)
	d.Apply(op)
	v, _ := d.Get("k")
	if v != "v1" {
		t.Fatalf("idempotent re-apply changed value: %v", v)
	}
}

func TestTombstoneResurrection(t *testing.T) {
	d := New("a")
	d.Delete("k") // clock 1
	d.Set("k", "resurrected") // clock 2, newer stamp wins
	v, ok := d.Get("k")
	if !ok || v != "resurrected" {
		t.Fatalf("expected newer write to resurrect tombstoned field, got %v %v", v, ok)
	}
}

func TestMergeConverges(t *testing.T) {
	a := New("a")
	b := New("b")

	a.Set("x", "from-a")
	b.Set("x", "from-b")

	merged := New("c")
	merged.Merge(a)
	merged.Merge(b)

	other := New("d")
	other.Merge(b)
	other.Merge(a)

	va, _ := merged.Get("x")
	vb, _ := other.Get("x")
	if va != vb {
		t.Fatalf("merge order affected converged value: %v vs %v", va, vb)
	}
}

func TestSubscribeFires(t *testing.T) {
	d := New("a")
	var got Snapshot
	unsub := d.Subscribe(func(s Snapshot) { got = s })
	d.Set("k", "v")
	if got["k"] != "v" {
		t.Fatalf("subscriber did not observe change: %v", got)
	}
	unsub()
	d.Set("k", "v2")
	if got["k"] != "v" {
		t.Fatal("unsubscribed callback should not fire again")
	}
}

func TestSubscriberPanicDoesNotBreakOthers(t *testing.T) {
	d := New("a")
	called := false
	d.Subscribe(func(Snapshot) { panic("boom") })
	d.Subscribe(func(Snapshot) { called = true })
	d.Set("k", "v")
	if !called {
		t.Fatal("second subscriber must still be notified after first panics")
	}
}
