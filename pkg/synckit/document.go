package synckit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/synckit/core/internal/clock"
	"github.com/synckit/core/internal/crdt/counter"
	"github.com/synckit/core/internal/crdt/lww"
	"github.com/synckit/core/internal/crdt/orset"
	"github.com/synckit/core/internal/crdt/richtext"
	"github.com/synckit/core/internal/crdt/text"
	"github.com/synckit/core/internal/oplog"
	"github.com/synckit/core/internal/sync"
)

// pusher is the shared plumbing every wrapper type uses to turn a locally
// produced CRDT op into an outgoing oplog.Entry, mirroring the teacher's
// DistributedCollection: apply locally, then build an envelope and
// broadcast it — here, hand it to the sync manager's PushOperation.
type pusher struct {
	docID   string
	kind    string
	replica clock.ReplicaID
	adapter *sync.Adapter
	manager *sync.Manager
}

func (p *pusher) push(op any) {
	payload, err := json.Marshal(op)
	if err != nil {
		return
	}
	vc := p.adapter.BumpLocal(p.replica)
	entry := oplog.Entry{
		ID:          clock.OperationID{Replica: p.replica, Clock: vc[p.replica]},
		DocumentID:  p.docID,
		Kind:        p.kind,
		VectorClock: vc,
		PhysicalMs:  time.Now().UnixMilli(),
		Payload:     payload,
	}
	// Best-effort: a full queue surfaces through NetworkStatus, not here —
	// mutating the local CRDT must never fail just because the network is
	// backed up.
	_ = p.manager.PushOperation(context.Background(), entry)
}

// Document is an LWW field-map document that pushes every local write to
// the sync manager automatically.
type Document struct {
	*lww.Document
	p *pusher
}

// Set assigns key to value and syncs the resulting op.
func (d *Document) Set(key string, value lww.Value) lww.Op {
	op := d.Document.Set(key, value)
	d.p.push(op)
	return op
}

// Delete tombstones key and syncs the resulting op.
func (d *Document) Delete(key string) lww.Op {
	op := d.Document.Delete(key)
	d.p.push(op)
	return op
}

// Update assigns every key in values and syncs each resulting op.
func (d *Document) Update(values map[string]lww.Value) []lww.Op {
	ops := d.Document.Update(values)
	for _, op := range ops {
		d.p.push(op)
	}
	return ops
}

// TextDoc is a Fugue text CRDT that pushes every local edit to the sync
// manager automatically.
type TextDoc struct {
	*text.Text
	p *pusher
}

// Insert inserts s at position and syncs the resulting ops.
func (d *TextDoc) Insert(position int, s string) ([]text.Op, error) {
	ops, err := d.Text.Insert(position, s)
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		d.p.push(op)
	}
	return ops, nil
}

// Delete removes [start, end) and syncs the resulting ops.
func (d *TextDoc) Delete(start, end int) ([]text.Op, error) {
	ops, err := d.Text.Delete(start, end)
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		d.p.push(op)
	}
	return ops, nil
}

// RichTextDoc is a Peritext rich-text CRDT layered over a TextDoc.
type RichTextDoc struct {
	*richtext.RichText
	Body *TextDoc
	p    *pusher
}

// Format applies attrs to [start, end) and syncs the resulting op.
func (d *RichTextDoc) Format(start, end int, attrs map[string]richtext.AttrValue) (richtext.Op, error) {
	op, err := d.RichText.Format(start, end, attrs)
	if err != nil {
		return op, err
	}
	d.p.push(op)
	return op, nil
}

// Unformat removes attrs from [start, end) and syncs the resulting op.
func (d *RichTextDoc) Unformat(start, end int, attrs map[string]richtext.AttrValue) (richtext.Op, error) {
	op, err := d.RichText.Unformat(start, end, attrs)
	if err != nil {
		return op, err
	}
	d.p.push(op)
	return op, nil
}

// CounterDoc is a PN-Counter that pushes every local increment/decrement.
type CounterDoc struct {
	*counter.Counter
	p *pusher
}

func (d *CounterDoc) Increment(n uint64) counter.Op {
	op := d.Counter.Increment(n)
	d.p.push(op)
	return op
}

func (d *CounterDoc) Decrement(n uint64) counter.Op {
	op := d.Counter.Decrement(n)
	d.p.push(op)
	return op
}

// ORSetDoc is an OR-Set that pushes every local add/remove.
type ORSetDoc struct {
	*orset.Set
	p *pusher
}

func (d *ORSetDoc) Add(element string) orset.Op {
	op := d.Set.Add(element)
	d.p.push(op)
	return op
}

func (d *ORSetDoc) Remove(element string) orset.Op {
	op := d.Set.Remove(element)
	d.p.push(op)
	return op
}
