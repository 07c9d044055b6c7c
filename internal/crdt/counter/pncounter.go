// Package counter implements the PN-Counter CRDT of spec §3/§4.E: a
// distributed counter supporting both increment and decrement while
// remaining monotonic (and therefore mergeable) under the hood.
//
// Grounded on cshekharsharma-go-crdt's GCounter/PNCounter (two internal
// grow-only per-replica slot maps, pointwise-max merge, value = sum(pos) -
// sum(neg)), generalized from single-unit Increment()/Decrement() calls to
// an arbitrary non-negative delta per spec §4.E.
package counter

import (
	"sync"

	"github.com/synckit/core/internal/clock"
)

// OpKind distinguishes a positive delta from a negative one.
type OpKind int

const (
	OpIncrement OpKind = iota
	OpDecrement
)

// Op carries one replica's current cumulative slot total for one side of
// the counter (a G-Counter op, not a per-call delta) so that ApplyRemote's
// pointwise max is order- and duplicate-insensitive.
type Op struct {
	Kind    OpKind
	Replica clock.ReplicaID
	Delta   uint64
}

// Subscriber fires with the counter's current value after any change.
type Subscriber func(value int64)

// Counter is a PN-Counter: two grow-only per-replica slot maps, one for
// increments and one for decrements.
type Counter struct {
	mu      sync.RWMutex
	replica clock.ReplicaID
	pos     map[clock.ReplicaID]uint64
	neg     map[clock.ReplicaID]uint64

	subs   map[int]Subscriber
	nextID int
}

// New creates a zero-valued Counter owned by replica.
func New(replica clock.ReplicaID) *Counter {
	return &Counter{
		replica: replica,
		pos:     make(map[clock.ReplicaID]uint64),
		neg:     make(map[clock.ReplicaID]uint64),
		subs:    make(map[int]Subscriber),
	}
}

// Increment adds n to this replica's positive slot. n is unsigned, so the
// n>=0 precondition of spec §4.E holds by construction.
func (c *Counter) Increment(n uint64) Op {
	return c.bump(OpIncrement, n)
}

// Decrement adds n to this replica's negative slot.
func (c *Counter) Decrement(n uint64) Op {
	return c.bump(OpDecrement, n)
}

func (c *Counter) bump(kind OpKind, n uint64) Op {
	c.mu.Lock()
	var total uint64
	switch kind {
	case OpIncrement:
		c.pos[c.replica] += n
		total = c.pos[c.replica]
	case OpDecrement:
		c.neg[c.replica] += n
		total = c.neg[c.replica]
	}
	v := c.valueLocked()
	c.mu.Unlock()
	c.notify(v)
	return Op{Kind: kind, Replica: c.replica, Delta: total}
}

// Value returns sum(pos) - sum(neg) across every replica slot.
func (c *Counter) Value() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.valueLocked()
}

func (c *Counter) valueLocked() int64 {
	var p, n uint64
	for _, v := range c.pos {
		p += v
	}
	for _, v := range c.neg {
		n += v
	}
	return int64(p) - int64(n)
}

// ApplyRemote merges a single remote Op by taking the pointwise max of the
// affected replica's slot (grow-only, so idempotent and commutative).
func (c *Counter) ApplyRemote(op Op) {
	c.mu.Lock()
	var slot map[clock.ReplicaID]uint64
	switch op.Kind {
	case OpIncrement:
		slot = c.pos
	case OpDecrement:
		slot = c.neg
	}
	if op.Delta > slot[op.Replica] {
		slot[op.Replica] = op.Delta
	}
	v := c.valueLocked()
	c.mu.Unlock()
	c.notify(v)
}

// Merge folds every replica slot of other into this counter via pointwise
// max, matching ApplyRemote's per-slot semantics.
func (c *Counter) Merge(other *Counter) {
	other.mu.RLock()
	posCopy := make(map[clock.ReplicaID]uint64, len(other.pos))
	for r, v := range other.pos {
		posCopy[r] = v
	}
	negCopy := make(map[clock.ReplicaID]uint64, len(other.neg))
	for r, v := range other.neg {
		negCopy[r] = v
	}
	other.mu.RUnlock()

	c.mu.Lock()
	for r, v := range posCopy {
		if v > c.pos[r] {
			c.pos[r] = v
		}
	}
	for r, v := range negCopy {
		if v > c.neg[r] {
			c.neg[r] = v
		}
	}
	val := c.valueLocked()
	c.mu.Unlock()
	c.notify(val)
}

// Reset zeroes this replica's own slots only. It is local-only: it does not
// emit an op and does not affect other replicas' view of the counter (spec
// §4.E documents this explicitly — it is not a distributed reset).
func (c *Counter) Reset() {
	c.mu.Lock()
	c.pos[c.replica] = 0
	c.neg[c.replica] = 0
	v := c.valueLocked()
	c.mu.Unlock()
	c.notify(v)
}

// Subscribe registers cb to fire with the current value after any change.
// The returned func unsubscribes.
func (c *Counter) Subscribe(cb Subscriber) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = cb
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Counter) notify(v int64) {
	c.mu.RLock()
	cbs := make([]Subscriber, 0, len(c.subs))
	for _, cb := range c.subs {
		cbs = append(cbs, cb)
	}
	c.mu.RUnlock()
	for _, cb := range cbs {
		func() {
			defer func() { _ = recover() }()
			cb(v)
		}()
	}
}
