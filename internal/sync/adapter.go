// Package sync implements the sync manager of spec §4.G: push/pull,
// subscription, and delivery of operations between a replica's local
// documents and the rest of the system via storage and transport.
//
// Grounded on the teacher's DistributedCollection (AttachToNetwork,
// broadcastOperation, handleRemoteOperation, requestSync,
// getCurrentVector — the closest thing in the pack to this contract) and
// NetworkManager's connect/broadcast split between "have a live transport"
// and "queue for later".
package sync

import (
	"encoding/json"

	"github.com/synckit/core/internal/clock"
	"github.com/synckit/core/internal/crdt/counter"
	"github.com/synckit/core/internal/crdt/lww"
	"github.com/synckit/core/internal/crdt/orset"
	"github.com/synckit/core/internal/crdt/richtext"
	"github.com/synckit/core/internal/crdt/text"
	"github.com/synckit/core/internal/errs"
	"github.com/synckit/core/internal/oplog"
	"sync"
)

// Document is the contract spec §4.G requires of anything registered with
// the sync manager: apply_remote(op), get_vector_clock(), set_vector_clock
// (vc), document_id().
type Document interface {
	DocumentID() string
	ApplyRemote(entry oplog.Entry) error
	VectorClock() clock.VectorClock
	SetVectorClock(vc clock.VectorClock)
}

// ApplyFunc decodes and applies one CRDT-specific payload.
type ApplyFunc func(payload []byte) error

// Adapter is the generic Document implementation every CRDT type is
// registered through: it owns the sync-level vector clock bookkeeping
// (merged from each applied entry's envelope) independently of whatever
// internal clock the wrapped CRDT keeps for its own field/tree stamps,
// since not every CRDT in scope (PN-Counter, OR-Set) tracks one itself.
type Adapter struct {
	mu sync.RWMutex

	id    string
	apply ApplyFunc
	vc    clock.VectorClock
}

// NewAdapter wraps apply as a sync Document identified by id.
func NewAdapter(id string, apply ApplyFunc) *Adapter {
	return &Adapter{id: id, apply: apply, vc: make(clock.VectorClock)}
}

func (a *Adapter) DocumentID() string { return a.id }

func (a *Adapter) ApplyRemote(entry oplog.Entry) error {
	if err := a.apply(entry.Payload); err != nil {
		return err
	}
	a.mu.Lock()
	a.vc = a.vc.Merge(entry.VectorClock)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) VectorClock() clock.VectorClock {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.vc.Clone()
}

func (a *Adapter) SetVectorClock(vc clock.VectorClock) {
	a.mu.Lock()
	a.vc = vc.Clone()
	a.mu.Unlock()
}

// BumpLocal increments replica's own component and returns the resulting
// vector clock, for stamping an operation this replica just produced
// locally (as opposed to one merged in from ApplyRemote).
func (a *Adapter) BumpLocal(replica clock.ReplicaID) clock.VectorClock {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vc[replica] = a.vc[replica] + 1
	return a.vc.Clone()
}

// NewLWWAdapter registers an lww.Document with the sync manager.
func NewLWWAdapter(id string, doc *lww.Document) *Adapter {
	return NewAdapter(id, func(payload []byte) error {
		var op lww.Op
		if err := json.Unmarshal(payload, &op); err != nil {
			return errs.New(errs.ProtocolError, "sync.NewLWWAdapter", err)
		}
		doc.Apply(op)
		return nil
	})
}

// NewTextAdapter registers a text.Text with the sync manager.
func NewTextAdapter(id string, t *text.Text) *Adapter {
	return NewAdapter(id, func(payload []byte) error {
		var op text.Op
		if err := json.Unmarshal(payload, &op); err != nil {
			return errs.New(errs.ProtocolError, "sync.NewTextAdapter", err)
		}
		t.ApplyRemote(op)
		return nil
	})
}

// NewRichTextAdapter registers a richtext.RichText with the sync manager.
func NewRichTextAdapter(id string, r *richtext.RichText) *Adapter {
	return NewAdapter(id, func(payload []byte) error {
		var op richtext.Op
		if err := json.Unmarshal(payload, &op); err != nil {
			return errs.New(errs.ProtocolError, "sync.NewRichTextAdapter", err)
		}
		r.ApplyRemote(op)
		return nil
	})
}

// NewCounterAdapter registers a counter.Counter with the sync manager.
func NewCounterAdapter(id string, c *counter.Counter) *Adapter {
	return NewAdapter(id, func(payload []byte) error {
		var op counter.Op
		if err := json.Unmarshal(payload, &op); err != nil {
			return errs.New(errs.ProtocolError, "sync.NewCounterAdapter", err)
		}
		c.ApplyRemote(op)
		return nil
	})
}

// NewORSetAdapter registers an orset.Set with the sync manager.
func NewORSetAdapter(id string, s *orset.Set) *Adapter {
	return NewAdapter(id, func(payload []byte) error {
		var op orset.Op
		if err := json.Unmarshal(payload, &op); err != nil {
			return errs.New(errs.ProtocolError, "sync.NewORSetAdapter", err)
		}
		s.ApplyRemote(op)
		return nil
	})
}
