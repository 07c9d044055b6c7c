// Package clock implements the identifiers and logical time primitives every
// CRDT and replication component builds on: replica ids, per-replica logical
// clocks, Lamport stamps, and vector clocks.
package clock

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ReplicaID is an opaque, non-empty string stable for the life of a replica.
type ReplicaID string

// NewReplicaID returns a fresh random replica id for callers that don't have
// an externally assigned identity.
func NewReplicaID() ReplicaID {
	return ReplicaID(uuid.NewString())
}

// LogicalClock is a per-replica monotonic counter.
type LogicalClock uint64

// Lamport is a (counter, replicaID) pair used as a total order with a
// deterministic tie-break on ReplicaID.
type Lamport struct {
	Counter LogicalClock
	Replica ReplicaID
}

// Less reports whether a sorts strictly before b: larger counter wins, ties
// broken by the lexicographically larger replica id (spec §3: "the one with
// the larger (clock, replicaId) pair wins").
func Less(a, b Lamport) bool {
	if a.Counter != b.Counter {
		return a.Counter < b.Counter
	}
	return a.Replica < b.Replica
}

// Wins reports whether a should win a conflict against b under LWW rules.
func Wins(a, b Lamport) bool {
	return Less(b, a)
}

func (l Lamport) String() string {
	return fmt.Sprintf("%d@%s", l.Counter, l.Replica)
}

// OperationID globally identifies a single emitted operation.
type OperationID struct {
	Replica ReplicaID
	Clock   LogicalClock
}

func (id OperationID) String() string {
	return fmt.Sprintf("%s:%d", id.Replica, id.Clock)
}

// VectorClock maps ReplicaID to LogicalClock, default 0 for unseen replicas.
type VectorClock map[ReplicaID]LogicalClock

// ComparisonResult is the relationship between two vector clocks.
type ComparisonResult int

const (
	Equal ComparisonResult = iota
	Before
	After
	Concurrent
)

// Clone returns a deep copy.
func (v VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Get returns the clock for r, defaulting to 0.
func (v VectorClock) Get(r ReplicaID) LogicalClock {
	return v[r]
}

// Merge returns the pointwise max of v and other.
func (v VectorClock) Merge(other VectorClock) VectorClock {
	out := v.Clone()
	for r, c := range other {
		if c > out[r] {
			out[r] = c
		}
	}
	return out
}

// Compare implements spec §3: A <= B iff for all r, A[r] <= B[r]; strict if
// any is strictly less.
func Compare(a, b VectorClock) ComparisonResult {
	hasGreater, hasLess := false, false

	seen := make(map[ReplicaID]struct{}, len(a)+len(b))
	for r := range a {
		seen[r] = struct{}{}
	}
	for r := range b {
		seen[r] = struct{}{}
	}

	for r := range seen {
		av, bv := a[r], b[r]
		switch {
		case av > bv:
			hasGreater = true
		case av < bv:
			hasLess = true
		}
	}

	switch {
	case !hasGreater && !hasLess:
		return Equal
	case hasGreater && !hasLess:
		return After
	case hasLess && !hasGreater:
		return Before
	default:
		return Concurrent
	}
}

// Dominates reports whether a has observed everything b has (a >= b).
func (a VectorClock) Dominates(b VectorClock) bool {
	c := Compare(a, b)
	return c == Equal || c == After
}

func (v VectorClock) String() string {
	keys := make([]string, 0, len(v))
	for r := range v {
		keys = append(keys, string(r))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, v[ReplicaID(k)]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Clock tracks one replica's own logical clock plus its view of the vector
// clock across all replicas it has observed operations from. It is the
// per-replica counterpart to the stateless VectorClock helpers above:
// now() increments, observe() merges a remote clock in and guarantees the
// local slot is strictly greater before the next emit (spec §4.A).
type Clock struct {
	replica ReplicaID
	vector  VectorClock
}

// New creates a Clock for the given replica, starting at zero.
func New(replica ReplicaID) *Clock {
	return &Clock{replica: replica, vector: make(VectorClock)}
}

// Replica returns the owning replica id.
func (c *Clock) Replica() ReplicaID { return c.replica }

// Now increments the local counter and returns the resulting Lamport stamp.
func (c *Clock) Now() Lamport {
	if c.vector[c.replica] == ^LogicalClock(0) {
		panic("clock: logical clock overflow")
	}
	c.vector[c.replica]++
	return Lamport{Counter: c.vector[c.replica], Replica: c.replica}
}

// Observe merges a remote vector clock into the local view.
func (c *Clock) Observe(remote VectorClock) {
	c.vector = c.vector.Merge(remote)
}

// Vector returns a snapshot of the current vector clock.
func (c *Clock) Vector() VectorClock {
	return c.vector.Clone()
}

// SetVector replaces the local vector clock wholesale (used when a document
// is rehydrated from a storage snapshot).
func (c *Clock) SetVector(vc VectorClock) {
	c.vector = vc.Clone()
}
