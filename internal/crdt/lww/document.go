// Package lww implements the document-level CRDT: an unordered map of
// key -> {value, writeTime, deleted} resolved by Last-Write-Wins. Grounded on
// the teacher's internal/resolver/crdt_resolver.go (ResolveConflict,
// ApplyOperation, tombstone-vs-live-write precedence) generalized from a
// whole-document resolver down to per-field stamps, and on
// Polqt-golang-journey's LWWRegister[T] (per-field stamped register with
// node-id tie-break).
package lww

import (
	"sync"

	"github.com/synckit/core/internal/clock"
)

// Value is a JSON-expressible scalar or nested map, per spec's "Dynamic
// values" design note — a tagged union is deliberately not introduced here;
// callers pass interface{} the way the teacher's DistributedDocument.Payload
// does, and merge behavior is value-for-value LWW regardless of shape.
type Value = interface{}

// field holds one key's current state.
type field struct {
	value     Value
	stamp     clock.Lamport
	tombstone bool
}

// Op is the operation emitted by a mutating call, matching spec §4.F's
// operation envelope for a document-field write.
type Op struct {
	Key       string
	Value     Value
	Stamp     clock.Lamport
	Tombstone bool
}

// Snapshot is a point-in-time, non-tombstoned view of a Document.
type Snapshot map[string]Value

// Subscriber receives a Snapshot after any accepted change.
type Subscriber func(Snapshot)

// Document is the LWW field map described in spec §3/§4.B.
type Document struct {
	mu     sync.RWMutex
	clock  *clock.Clock
	fields map[string]*field
	subs   map[int]Subscriber
	nextID int
}

// New creates an empty Document owned by replica.
func New(replica clock.ReplicaID) *Document {
	return &Document{
		clock:  clock.New(replica),
		fields: make(map[string]*field),
		subs:   make(map[int]Subscriber),
	}
}

// Get returns the current value for key and whether it is present
// (non-tombstoned).
func (d *Document) Get(key string) (Value, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.fields[key]
	if !ok || f.tombstone {
		return nil, false
	}
	return f.value, true
}

// GetAll returns the current non-tombstoned view.
func (d *Document) GetAll() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

func (d *Document) snapshotLocked() Snapshot {
	out := make(Snapshot, len(d.fields))
	for k, f := range d.fields {
		if !f.tombstone {
			out[k] = f.value
		}
	}
	return out
}

// Set writes a single field, emitting one Op with a fresh stamp.
func (d *Document) Set(key string, value Value) Op {
	d.mu.Lock()
	op := d.setLocked(key, value, d.clock.Now())
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.notify(snap)
	return op
}

// Update is an atomic batch write: each field receives a consecutive,
// strictly increasing clock value so observers who see the batch partially
// still converge (spec §4.B).
func (d *Document) Update(values map[string]Value) []Op {
	d.mu.Lock()
	ops := make([]Op, 0, len(values))
	for key, value := range values {
		ops = append(ops, d.setLocked(key, value, d.clock.Now()))
	}
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.notify(snap)
	return ops
}

func (d *Document) setLocked(key string, value Value, stamp clock.Lamport) Op {
	d.fields[key] = &field{value: value, stamp: stamp, tombstone: false}
	return Op{Key: key, Value: value, Stamp: stamp}
}

// Delete writes a tombstone with a fresh stamp. A tombstone and a live write
// compete under the same LWW rule — no special priority for deletes.
func (d *Document) Delete(key string) Op {
	d.mu.Lock()
	stamp := d.clock.Now()
	d.fields[key] = &field{stamp: stamp, tombstone: true}
	op := Op{Key: key, Stamp: stamp, Tombstone: true}
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.notify(snap)
	return op
}

// Apply applies a single remote Op under LWW rules: the write with the
// larger (clock, replicaID) pair wins.
func (d *Document) Apply(op Op) {
	d.mu.Lock()
	d.clock.Observe(clock.VectorClock{op.Stamp.Replica: op.Stamp.Counter})
	existing, ok := d.fields[op.Key]
	if !ok || clock.Wins(op.Stamp, existing.stamp) {
		d.fields[op.Key] = &field{value: op.Value, stamp: op.Stamp, tombstone: op.Tombstone}
	}
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.notify(snap)
}

// Merge applies every field present in other under LWW rules (spec §4.B
// merge(other)).
func (d *Document) Merge(other *Document) {
	other.mu.RLock()
	ops := make([]Op, 0, len(other.fields))
	for k, f := range other.fields {
		ops = append(ops, Op{Key: k, Value: f.value, Stamp: f.stamp, Tombstone: f.tombstone})
	}
	other.mu.RUnlock()

	for _, op := range ops {
		d.Apply(op)
	}
}

// Subscribe registers cb to be invoked with a snapshot after any state
// change. The returned func unsubscribes.
func (d *Document) Subscribe(cb Subscriber) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = cb
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

func (d *Document) notify(snap Snapshot) {
	d.mu.RLock()
	cbs := make([]Subscriber, 0, len(d.subs))
	for _, cb := range d.subs {
		cbs = append(cbs, cb)
	}
	d.mu.RUnlock()

	for _, cb := range cbs {
		safeNotify(cb, snap)
	}
}

// safeNotify catches subscriber panics so one bad callback never interrupts
// dispatch to the others (spec §7 propagation policy).
func safeNotify(cb Subscriber, snap Snapshot) {
	defer func() { _ = recover() }()
	cb(snap)
}

// VectorClock returns the document's current vector clock, for sync-manager
// bookkeeping.
func (d *Document) VectorClock() clock.VectorClock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clock.Vector()
}

// SetVectorClock overwrites the vector clock wholesale, used when
// rehydrating from a storage snapshot.
func (d *Document) SetVectorClock(vc clock.VectorClock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock.SetVector(vc)
}
