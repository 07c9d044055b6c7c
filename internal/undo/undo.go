// Package undo implements the undo manager of spec §3/§4.J: a bounded
// stack of inverse operations with a caller-supplied merge predicate and a
// separate redo stack cleared on any new add.
//
// No teacher file implements undo directly; this package is grounded on
// the bounded-FIFO idiom shared with internal/oplog's Log (commitLocked
// drops the oldest entries once maxSize is exceeded) and on the explicit
// struct-based event shape spec §3 describes for an undo record, written
// in the teacher's plain-struct, no-generics style.
package undo

import (
	"encoding/json"
	"sync"

	"github.com/synckit/core/internal/clock"
)

// defaultMergeWindowMs is spec §4.J's default merge window.
const defaultMergeWindowMs = 1000

// defaultMaxUndoSize is spec §4.J's default stack bound.
const defaultMaxUndoSize = 100

// Operation is one undo record (spec §3 "Undo record").
type Operation struct {
	Kind          string          `json:"kind"`
	Data          json.RawMessage `json:"data"`
	Timestamp     int64           `json:"timestamp"`
	ReplicaID     clock.ReplicaID `json:"replicaId,omitempty"`
	MergeWindowMs int64           `json:"mergeWindowMs,omitempty"`
}

// CanMergeFunc reports whether next may be folded into prev instead of
// pushed as a new stack entry.
type CanMergeFunc func(prev, next Operation) bool

// MergeFunc combines prev and next into a single replacement entry, called
// only after CanMergeFunc has approved the merge.
type MergeFunc func(prev, next Operation) Operation

// Broadcaster is the cross-tab coordinator collaborator of spec §4.J. The
// Manager calls Broadcast with a nil payload after every add, undo, redo
// and clear; the payload does not identify the action or the operation,
// and the Manager does not read broadcasts from other tabs.
type Broadcaster interface {
	Broadcast(data []byte)
}

// Subscriber is notified after a push, undo, redo, or clear.
type Subscriber func()

// Manager is the undo/redo stack of spec §4.J.
type Manager struct {
	mu sync.Mutex

	undoStack []Operation
	redoStack []Operation

	maxSize  int
	canMerge CanMergeFunc
	merge    MergeFunc

	coordinator Broadcaster
	subs        []Subscriber
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithMaxUndoSize overrides the default 100-entry bound.
func WithMaxUndoSize(n int) Option {
	return func(m *Manager) { m.maxSize = n }
}

// WithMergePredicate supplies the can_merge(prev, next) callback of spec
// §4.J; mergeFn combines two mergeable operations (defaulting to replacing
// prev with next's data/timestamp while keeping prev's kind, a reasonable
// default for "keep accumulating into the most recent entry").
func WithMergePredicate(canMerge CanMergeFunc, mergeFn MergeFunc) Option {
	return func(m *Manager) {
		m.canMerge = canMerge
		m.merge = mergeFn
	}
}

// WithCoordinator wires a cross-tab Broadcaster.
func WithCoordinator(c Broadcaster) Option {
	return func(m *Manager) { m.coordinator = c }
}

// New creates a Manager with spec §4.J's defaults (maxUndoSize=100).
func New(opts ...Option) *Manager {
	m := &Manager{maxSize: defaultMaxUndoSize}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add appends op to the undo stack, clears the redo stack, and attempts to
// merge it with the top of the stack first (spec §4.J).
func (m *Manager) Add(op Operation) {
	if op.MergeWindowMs == 0 {
		op.MergeWindowMs = defaultMergeWindowMs
	}

	m.mu.Lock()
	m.redoStack = nil

	if n := len(m.undoStack); n > 0 && m.canMerge != nil {
		top := m.undoStack[n-1]
		window := op.MergeWindowMs
		if top.MergeWindowMs > 0 && top.MergeWindowMs < window {
			window = top.MergeWindowMs
		}
		if op.Timestamp-top.Timestamp <= window && m.canMerge(top, op) {
			if m.merge != nil {
				m.undoStack[n-1] = m.merge(top, op)
			} else {
				merged := top
				merged.Data = op.Data
				merged.Timestamp = op.Timestamp
				m.undoStack[n-1] = merged
			}
			m.mu.Unlock()
			m.broadcastAndNotify()
			return
		}
	}

	m.undoStack = append(m.undoStack, op)
	if len(m.undoStack) > m.maxSize {
		m.undoStack = m.undoStack[len(m.undoStack)-m.maxSize:]
	}
	m.mu.Unlock()
	m.broadcastAndNotify()
}

// Undo pops the top of the undo stack, pushes it onto the redo stack, and
// returns it so the caller can invert it via the relevant CRDT. ok is false
// if the undo stack is empty.
func (m *Manager) Undo() (Operation, bool) {
	m.mu.Lock()
	n := len(m.undoStack)
	if n == 0 {
		m.mu.Unlock()
		return Operation{}, false
	}
	op := m.undoStack[n-1]
	m.undoStack = m.undoStack[:n-1]
	m.redoStack = append(m.redoStack, op)
	m.mu.Unlock()
	m.broadcastAndNotify()
	return op, true
}

// Redo pops the top of the redo stack back onto the undo stack and returns
// it. ok is false if the redo stack is empty.
func (m *Manager) Redo() (Operation, bool) {
	m.mu.Lock()
	n := len(m.redoStack)
	if n == 0 {
		m.mu.Unlock()
		return Operation{}, false
	}
	op := m.redoStack[n-1]
	m.redoStack = m.redoStack[:n-1]
	m.undoStack = append(m.undoStack, op)
	m.mu.Unlock()
	m.broadcastAndNotify()
	return op, true
}

// Clear empties both stacks.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.undoStack = nil
	m.redoStack = nil
	m.mu.Unlock()
	m.broadcastAndNotify()
}

// UndoSize returns the current undo stack depth.
func (m *Manager) UndoSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undoStack)
}

// RedoSize returns the current redo stack depth.
func (m *Manager) RedoSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redoStack)
}

// Subscribe registers cb to fire after any add/undo/redo/clear.
func (m *Manager) Subscribe(cb Subscriber) func() {
	m.mu.Lock()
	m.subs = append(m.subs, cb)
	idx := len(m.subs) - 1
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.subs[idx] = nil
		m.mu.Unlock()
	}
}

func (m *Manager) broadcastAndNotify() {
	m.mu.Lock()
	coord := m.coordinator
	subs := append([]Subscriber{}, m.subs...)
	m.mu.Unlock()

	if coord != nil {
		coord.Broadcast(nil)
	}
	for _, cb := range subs {
		if cb == nil {
			continue
		}
		func(cb Subscriber) {
			defer func() { _ = recover() }()
			cb()
		}(cb)
	}
}
