// Package text implements the Fugue-family text CRDT of spec §3/§4.C: a
// tree-structured positional sequence of characters supporting insert and
// delete at visible character positions with strong convergence.
//
// Grounded on cshekharsharma-go-crdt's rga.go (ID{Timestamp,NodeID} with a
// Greater tie-break, pendingOrphans buffering for causal readiness) and
// Polqt-golang-journey's RGA skeleton (RGANodeID, InsertAfter, tombstone
// Delete). The left/right parent-side split that distinguishes Fugue from a
// plain RGA is this package's own addition, grounded in the ordering
// discussion of collab.nvim's sync.go (deterministic position/tie-break by
// replica id) for the general shape of a positional-CRDT comparator.
package text

import (
	"sort"
	"sync"

	"github.com/synckit/core/internal/clock"
	"github.com/synckit/core/internal/errs"
)

// Side is left/right-biased insertion relative to a parent character.
type Side int

const (
	Left Side = iota
	Right
)

// CharacterID uniquely identifies one character.
type CharacterID = clock.OperationID

// root is the sentinel CharacterID representing the start-of-document
// boundary; the zero value is never a real character id since LogicalClock
// starts at 1.
var root = CharacterID{}

// OpKind distinguishes an insert from a delete operation on the wire.
type OpKind int

const (
	OpInsert OpKind = iota
	OpDelete
)

// Op is the operation emitted per character by Insert/Delete and consumed by
// ApplyRemote (spec §4.F: one operation per CRDT-level mutation).
type Op struct {
	Kind   OpKind
	ID     CharacterID // the character this op creates (Insert) or targets (Delete)
	Parent CharacterID // Insert only; zero value means root
	Side   Side        // Insert only
	Value  rune        // Insert only
}

type node struct {
	id      CharacterID
	parent  CharacterID
	side    Side
	value   rune
	deleted bool
	left    []*node // children attached on the Left side
	right   []*node // children attached on the Right side
}

// Subscriber is invoked after every materialized change.
type Subscriber func(text string)

// Text is a Fugue-style text CRDT.
type Text struct {
	mu       sync.RWMutex
	clock    *clock.Clock
	nodes    map[CharacterID]*node
	rootNode *node

	pendingByParent map[CharacterID][]Op // inserts waiting on a missing parent
	pendingDeletes  map[CharacterID]bool  // deletes waiting on a missing target

	subs   map[int]Subscriber
	nextID int
}

// New creates an empty Text CRDT owned by replica.
func New(replica clock.ReplicaID) *Text {
	rn := &node{id: root}
	return &Text{
		clock:           clock.New(replica),
		nodes:           map[CharacterID]*node{root: rn},
		rootNode:        rn,
		pendingByParent: make(map[CharacterID][]Op),
		pendingDeletes:  make(map[CharacterID]bool),
		subs:            make(map[int]Subscriber),
	}
}

// ToString performs an in-order traversal skipping tombstones.
func (t *Text) ToString() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.materializeLocked()
}

func (t *Text) materializeLocked() string {
	var out []rune
	var visit func(n *node)
	visit = func(n *node) {
		for _, c := range sortedChildren(n.left) {
			visit(c)
		}
		if n.id != root && !n.deleted {
			out = append(out, n.value)
		}
		for _, c := range sortedChildren(n.right) {
			visit(c)
		}
	}
	visit(t.rootNode)
	return string(out)
}

// visibleIDs returns the CharacterIDs of every non-tombstoned character, in
// document order.
func (t *Text) visibleIDsLocked() []CharacterID {
	var out []CharacterID
	var visit func(n *node)
	visit = func(n *node) {
		for _, c := range sortedChildren(n.left) {
			visit(c)
		}
		if n.id != root && !n.deleted {
			out = append(out, n.id)
		}
		for _, c := range sortedChildren(n.right) {
			visit(c)
		}
	}
	visit(t.rootNode)
	return out
}

// sortedChildren orders same-parent-same-side siblings by (replicaId,
// logicalClock) ascending — spec §3/§4.C: "recursively among siblings with
// the same (parent, side) by (replicaId, logicalClock)", replicaId primary.
// This is deliberately the opposite comparator from §4.B's LWW document
// rule, which orders (clock, replicaId) with clock primary.
func sortedChildren(children []*node) []*node {
	out := make([]*node, len(children))
	copy(out, children)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].id, out[j].id
		if a.Replica != b.Replica {
			return a.Replica < b.Replica
		}
		return a.Clock < b.Clock
	})
	return out
}

// Insert materializes a fresh CharacterId for each code point of s at
// position, chaining subsequent characters off the previous one so a single
// Insert call's text stays contiguous (spec §4.C).
func (t *Text) Insert(position int, s string) ([]Op, error) {
	if s == "" {
		return nil, nil
	}
	t.mu.Lock()

	visible := t.visibleIDsLocked()
	if position < 0 || position > len(visible) {
		t.mu.Unlock()
		return nil, errs.New(errs.OutOfRange, "text.Insert", nil)
	}

	var before, after CharacterID
	hasBefore, hasAfter := false, false
	if position > 0 {
		before = visible[position-1]
		hasBefore = true
	}
	if position < len(visible) {
		after = visible[position]
		hasAfter = true
	}

	ops := make([]Op, 0, len(s))
	prev := CharacterID{}
	for i, r := range s {
		var parent CharacterID
		var side Side
		switch {
		case i == 0 && hasBefore && (len(t.nodes[before].right) == 0 || !hasAfter):
			parent, side = before, Right
		case i == 0 && hasAfter:
			parent, side = after, Left
		case i == 0:
			parent, side = root, Right
		default:
			parent, side = prev, Right
		}

		id := CharacterID{Replica: t.clock.Replica(), Clock: t.clock.Now().Counter}
		op := Op{Kind: OpInsert, ID: id, Parent: parent, Side: side, Value: r}
		t.integrateLocked(op)
		ops = append(ops, op)
		prev = id
	}
	snap := t.materializeLocked()
	t.mu.Unlock()
	t.notify(snap)
	return ops, nil
}

// Delete tombstones the half-open visible range [start,end).
func (t *Text) Delete(start, end int) ([]Op, error) {
	t.mu.Lock()

	visible := t.visibleIDsLocked()
	if start < 0 || end > len(visible) || start > end {
		t.mu.Unlock()
		return nil, errs.New(errs.OutOfRange, "text.Delete", nil)
	}

	ops := make([]Op, 0, end-start)
	for _, id := range visible[start:end] {
		t.nodes[id].deleted = true
		ops = append(ops, Op{Kind: OpDelete, ID: id})
	}
	snap := t.materializeLocked()
	t.mu.Unlock()
	if len(ops) > 0 {
		t.notify(snap)
	}
	return ops, nil
}

// ApplyRemote applies a single remote Op. Inserts whose parent is unknown
// are buffered until that parent arrives (causal readiness); deletes whose
// target is unknown are buffered the same way. Re-applying an already-known
// id is a no-op (idempotence).
func (t *Text) ApplyRemote(op Op) {
	t.mu.Lock()
	changed := t.applyRemoteLocked(op)
	var snap string
	if changed {
		snap = t.materializeLocked()
	}
	t.mu.Unlock()
	if changed {
		t.notify(snap)
	}
}

func (t *Text) applyRemoteLocked(op Op) bool {
	switch op.Kind {
	case OpInsert:
		if _, exists := t.nodes[op.ID]; exists {
			return false // idempotent re-delivery
		}
		if _, known := t.nodes[op.Parent]; !known {
			t.pendingByParent[op.Parent] = append(t.pendingByParent[op.Parent], op)
			return false
		}
		t.integrateLocked(op)
		t.clock.Observe(clock.VectorClock{op.ID.Replica: op.ID.Clock})
		t.drainPendingLocked(op.ID)
		return true

	case OpDelete:
		n, known := t.nodes[op.ID]
		if !known {
			t.pendingDeletes[op.ID] = true
			return false
		}
		if n.deleted {
			return false // idempotent re-delivery
		}
		n.deleted = true
		return true
	}
	return false
}

// drainPendingLocked processes buffered children/deletes now that parentID
// has become known.
func (t *Text) drainPendingLocked(parentID CharacterID) {
	waiting := t.pendingByParent[parentID]
	delete(t.pendingByParent, parentID)
	for _, op := range waiting {
		t.applyRemoteLocked(op)
	}
	if t.pendingDeletes[parentID] {
		delete(t.pendingDeletes, parentID)
		if n, ok := t.nodes[parentID]; ok {
			n.deleted = true
		}
	}
}

func (t *Text) integrateLocked(op Op) {
	n := &node{id: op.ID, parent: op.Parent, side: op.Side, value: op.Value}
	t.nodes[op.ID] = n
	parent := t.nodes[op.Parent]
	switch op.Side {
	case Left:
		parent.left = append(parent.left, n)
	default:
		parent.right = append(parent.right, n)
	}
}

// Subscribe registers cb to fire after every materialized change.
func (t *Text) Subscribe(cb Subscriber) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = cb
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *Text) notify(s string) {
	t.mu.RLock()
	cbs := make([]Subscriber, 0, len(t.subs))
	for _, cb := range t.subs {
		cbs = append(cbs, cb)
	}
	t.mu.RUnlock()
	for _, cb := range cbs {
		func() {
			defer func() { _ = recover() }()
			cb(s)
		}()
	}
}

// VectorClock returns the current vector clock, for sync-manager bookkeeping.
func (t *Text) VectorClock() clock.VectorClock {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clock.Vector()
}

// CharAt returns the CharacterID at visible position pos, used by the
// Peritext layer to anchor format spans to stable characters.
func (t *Text) CharAt(pos int) (CharacterID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	visible := t.visibleIDsLocked()
	if pos < 0 || pos >= len(visible) {
		return CharacterID{}, false
	}
	return visible[pos], true
}

// IndexOf returns the current visible position of id, or -1 if id is
// tombstoned or unknown.
func (t *Text) IndexOf(id CharacterID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, v := range t.visibleIDsLocked() {
		if v == id {
			return i
		}
	}
	return -1
}

// Len returns the number of visible characters.
func (t *Text) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.visibleIDsLocked())
}
