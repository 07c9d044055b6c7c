// Package server implements the server core of spec §4.L: a broadcast hub
// that authoritatively sequences LWW document fields and relays CRDT ops
// verbatim to the other subscribers of each document.
//
// Grounded on the teacher's DistributedCollection.handleRemoteOperation +
// NetworkManager.BroadcastMessage — exactly the broadcast-to-all vs.
// exclude-sender distinction §4.L draws between LWW delta resolution and
// CRDT-intrinsic op relay — and internal/auth/auth.go's AuthMiddleware for
// the AuthGuard named collaborator.
package server

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/synckit/core/internal/auth"
	"github.com/synckit/core/internal/awareness"
	"github.com/synckit/core/internal/clock"
	"github.com/synckit/core/internal/crdt/lww"
	"github.com/synckit/core/internal/errs"
	"github.com/synckit/core/internal/observability/logging"
	"github.com/synckit/core/internal/observability/metrics"
	"github.com/synckit/core/internal/oplog"
	"github.com/synckit/core/internal/wire"
)

// InterInstanceBus is the optional pub/sub collaborator of spec §4.L
// ("an optional inter-instance bus (named interface RedisPubSub) replays
// broadcasts"). A Hub with no bus wired behaves as a single-instance
// server.
type InterInstanceBus interface {
	Publish(channel string, data []byte) error
	Subscribe(channel string, cb func(data []byte)) (unsubscribe func(), err error)
}

// Sender is whatever can deliver a raw frame to one subscriber connection.
type Sender func(frame []byte) error

type subscriber struct {
	id   string
	send Sender
}

// docState is per-document server-side bookkeeping: the authoritative LWW
// field map (nil for pure CRDT-intrinsic documents), the delta log, the
// awareness map, and the current subscriber set.
type docState struct {
	mu          sync.Mutex
	docID       string
	lww         *lww.Document
	log         *oplog.Log
	awareness   *awareness.Awareness
	subscribers map[string]subscriber

	busUnsubscribe func()
}

// Hub is the server core of spec §4.L.
type Hub struct {
	mu    sync.Mutex
	docs  map[string]*docState
	guard *auth.Guard
	bus   InterInstanceBus

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Hub at construction.
type Option func(*Hub)

func WithAuthGuard(g *auth.Guard) Option    { return func(h *Hub) { h.guard = g } }
func WithInterInstanceBus(b InterInstanceBus) Option {
	return func(h *Hub) { h.bus = b }
}
func WithLogger(l *logging.Logger) Option   { return func(h *Hub) { h.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(h *Hub) { h.metrics = m } }

// New creates an empty Hub.
func New(opts ...Option) *Hub {
	h := &Hub{docs: make(map[string]*docState), logger: logging.Nop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) doc(docID string) *docState {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.docs[docID]
	if !ok {
		d = &docState{
			docID:       docID,
			log:         oplog.New(10000, h.logger, h.metrics),
			awareness:   awareness.New("", "server"),
			subscribers: make(map[string]subscriber),
		}
		h.docs[docID] = d
	}
	return d
}

// Subscribe registers send as the delivery path for subscriberID's interest
// in docID. The first local subscriber on this instance subscribes it to
// the inter-instance bus channel; the returned unsubscribe function drops
// the last local subscriber off that channel too (spec §4.L pub/sub).
func (h *Hub) Subscribe(docID, subscriberID string, send Sender) func() {
	d := h.doc(docID)

	d.mu.Lock()
	d.subscribers[subscriberID] = subscriber{id: subscriberID, send: send}
	first := len(d.subscribers) == 1
	d.mu.Unlock()

	if first && h.bus != nil {
		unsub, err := h.bus.Subscribe(busChannel(docID), func(data []byte) {
			h.fanOut(d, "", data)
		})
		if err == nil {
			d.mu.Lock()
			d.busUnsubscribe = unsub
			d.mu.Unlock()
		}
	}

	if h.metrics != nil {
		h.metrics.ConnectedSubscribers.Inc()
	}

	return func() {
		d.mu.Lock()
		delete(d.subscribers, subscriberID)
		last := len(d.subscribers) == 0
		busUnsub := d.busUnsubscribe
		if last {
			d.busUnsubscribe = nil
		}
		d.mu.Unlock()
		if h.metrics != nil {
			h.metrics.ConnectedSubscribers.Dec()
		}
		if last && busUnsub != nil {
			busUnsub()
		}
	}
}

// HandleSyncRequest answers a SYNC_REQUEST with a SYNC_RESPONSE carrying
// every delta the log holds that the sender's vector clock hasn't seen yet
// (spec §4.L / §4.G subscribe_document's SUBSCRIBE-then-SYNC_REQUEST
// handshake).
func (h *Hub) HandleSyncRequest(docID, senderID string, vc clock.VectorClock) error {
	d := h.doc(docID)

	d.mu.Lock()
	backlog := d.log.Since(vc)
	s, ok := d.subscribers[senderID]
	d.mu.Unlock()
	if !ok {
		return nil
	}

	deltas := make([]deltaEntry, 0, len(backlog))
	for _, e := range backlog {
		deltas = append(deltas, entryToDelta(e))
	}
	body, _ := json.Marshal(struct {
		DocumentID string                `json:"documentId"`
		Deltas     []deltaEntry          `json:"deltas"`
	}{DocumentID: docID, Deltas: deltas})

	frame, err := wire.EncodeBinary(wire.Message{Type: wire.SyncResponse, Timestamp: time.Now().UnixMilli(), Payload: body})
	if err != nil {
		return errs.New(errs.ProtocolError, "server.HandleSyncRequest", err)
	}
	return s.send(frame)
}

// deltaEntry mirrors the sync manager's DeltaPayload wire shape so the
// server can answer SYNC_REQUEST without importing the client-facing sync
// package.
type deltaEntry struct {
	DocumentID  string             `json:"documentId"`
	ReplicaID   clock.ReplicaID    `json:"replicaId"`
	Clock       clock.LogicalClock `json:"logicalClock"`
	Kind        string             `json:"kind"`
	VectorClock clock.VectorClock  `json:"vectorClock"`
	PhysicalMs  int64              `json:"physicalMs"`
	Delta       json.RawMessage    `json:"delta"`
}

func entryToDelta(e oplog.Entry) deltaEntry {
	return deltaEntry{
		DocumentID:  e.DocumentID,
		ReplicaID:   e.ID.Replica,
		Clock:       e.ID.Clock,
		Kind:        e.Kind,
		VectorClock: e.VectorClock,
		PhysicalMs:  e.PhysicalMs,
		Delta:       e.Payload,
	}
}

// HandleDelta implements spec §4.L step 1-5 for an LWW document field
// write: verify permission, apply under LWW, persist, broadcast the
// post-merge delta to every subscriber INCLUDING the sender (the deliberate
// departure from exclude-sender, since LWW convergence depends on every
// replica observing the server's resolution), and ACK the sender.
func (h *Hub) HandleDelta(claims *auth.Claims, docID, senderID string, op lww.Op) error {
	if h.guard != nil && !h.guard.CanWrite(claims, docID) {
		return errs.New(errs.Unauthorized, "server.HandleDelta", nil)
	}

	d := h.doc(docID)
	d.mu.Lock()
	if d.lww == nil {
		d.lww = lww.New(clock.ReplicaID("server:" + docID))
	}
	d.lww.Apply(op)
	resolved, _ := d.lww.Get(op.Key)
	d.mu.Unlock()

	payload, _ := json.Marshal(lww.Op{Key: op.Key, Value: resolved, Stamp: op.Stamp, Tombstone: op.Tombstone})
	frame, err := encodeDelta(docID, payload)
	if err != nil {
		return err
	}

	d.log.Ingest(oplog.Entry{
		ID:          clock.OperationID{Replica: op.Stamp.Replica, Clock: op.Stamp.Counter},
		DocumentID:  docID,
		Kind:        "lww",
		VectorClock: clock.VectorClock{op.Stamp.Replica: op.Stamp.Counter},
		PhysicalMs:  time.Now().UnixMilli(),
		Payload:     payload,
	})

	h.fanOut(d, "", frame) // include sender: pass "" so nobody is excluded
	if h.bus != nil {
		_ = h.bus.Publish(busChannel(docID), frame)
	}
	if h.metrics != nil {
		h.metrics.BroadcastsSent.Inc()
	}

	return h.ack(d, senderID, clock.OperationID{Replica: op.Stamp.Replica, Clock: op.Stamp.Counter}.String())
}

// HandleCRDTOp implements spec §4.L's CRDT-intrinsic path: broadcast
// verbatim to every subscriber EXCLUDING the sender, since those CRDTs are
// commutative/idempotent and need no server-side resolution.
func (h *Hub) HandleCRDTOp(claims *auth.Claims, docID, senderID string, frame []byte) error {
	if h.guard != nil && !h.guard.CanWrite(claims, docID) {
		return errs.New(errs.Unauthorized, "server.HandleCRDTOp", nil)
	}

	d := h.doc(docID)

	if msg, _, decErr := wire.DecodeBinary(frame); decErr == nil {
		var de deltaEntry
		if json.Unmarshal(msg.Payload, &de) == nil && de.Kind != "" {
			d.log.Ingest(oplog.Entry{
				ID:          clock.OperationID{Replica: de.ReplicaID, Clock: de.Clock},
				DocumentID:  docID,
				Kind:        de.Kind,
				VectorClock: de.VectorClock,
				PhysicalMs:  de.PhysicalMs,
				Payload:     de.Delta,
			})
		}
	}

	h.fanOut(d, senderID, frame)
	if h.bus != nil {
		_ = h.bus.Publish(busChannel(docID), frame)
	}
	if h.metrics != nil {
		h.metrics.BroadcastsSent.Inc()
	}
	return h.ack(d, senderID, senderID)
}

// HandleAwareness broadcasts an awareness update to every subscriber of
// docID except the sender (spec §4.I server policy).
func (h *Hub) HandleAwareness(claims *auth.Claims, docID, senderID string, update awareness.Update) error {
	if h.guard != nil && !h.guard.CanAwareness(claims) {
		return errs.New(errs.Unauthorized, "server.HandleAwareness", nil)
	}

	d := h.doc(docID)
	d.awareness.Apply(update)

	payload, _ := json.Marshal(update)
	frame, err := wire.EncodeBinary(wire.Message{Type: wire.AwarenessUpdate, Timestamp: time.Now().UnixMilli(), Payload: payload})
	if err != nil {
		return errs.New(errs.ProtocolError, "server.HandleAwareness", err)
	}
	h.fanOut(d, senderID, frame)
	if h.metrics != nil {
		h.metrics.AwarenessUpdates.Inc()
	}
	return nil
}

func (h *Hub) fanOut(d *docState, exclude string, frame []byte) {
	d.mu.Lock()
	targets := make([]subscriber, 0, len(d.subscribers))
	for id, s := range d.subscribers {
		if id == exclude {
			continue
		}
		targets = append(targets, s)
	}
	d.mu.Unlock()

	for _, s := range targets {
		if err := s.send(frame); err != nil {
			h.logger.Warn("failed to deliver frame to subscriber",
				zap.String("subscriber", s.id), zap.Error(err))
		}
	}
}

func (h *Hub) ack(d *docState, senderID, messageID string) error {
	d.mu.Lock()
	s, ok := d.subscribers[senderID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	payload, _ := json.Marshal(map[string]string{"messageId": messageID})
	frame, err := wire.EncodeBinary(wire.Message{Type: wire.Ack, Timestamp: time.Now().UnixMilli(), Payload: payload})
	if err != nil {
		return errs.New(errs.ProtocolError, "server.ack", err)
	}
	return s.send(frame)
}

func encodeDelta(docID string, payload json.RawMessage) ([]byte, error) {
	body, _ := json.Marshal(struct {
		DocumentID string          `json:"documentId"`
		Delta      json.RawMessage `json:"delta"`
	}{DocumentID: docID, Delta: payload})
	frame, err := wire.EncodeBinary(wire.Message{Type: wire.Delta, Timestamp: time.Now().UnixMilli(), Payload: body})
	if err != nil {
		return nil, errs.New(errs.ProtocolError, "server.encodeDelta", err)
	}
	return frame, nil
}

func busChannel(docID string) string { return "synckit:doc:" + docID }
