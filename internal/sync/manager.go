package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/synckit/core/internal/clock"
	"github.com/synckit/core/internal/errs"
	"github.com/synckit/core/internal/observability/logging"
	"github.com/synckit/core/internal/observability/metrics"
	"github.com/synckit/core/internal/observability/tracing"
	"github.com/synckit/core/internal/oplog"
	"github.com/synckit/core/internal/storage"
	"github.com/synckit/core/internal/transport"
	"github.com/synckit/core/internal/wire"
)

// NetworkState is the coarse network-status dimension of spec §4.G's
// network_status() surface.
type NetworkState int

const (
	NetworkOffline NetworkState = iota
	NetworkOnline
)

// Status mirrors spec §4.G: "{networkState, connectionState, queueSize,
// failedOps, oldestOpTs}".
type Status struct {
	NetworkState    NetworkState
	ConnectionState transport.State
	QueueSize       int
	FailedOps       int
	OldestOpTs      int64
}

// StatusSubscriber is notified on every Status change.
type StatusSubscriber func(Status)

// DeltaPayload is the JSON body of a DELTA/SYNC_RESPONSE message: the
// taxonomy table's {documentId, delta, vectorClock} extended with the
// bookkeeping fields spec §4.F says every operation carries.
type DeltaPayload struct {
	DocumentID  string             `json:"documentId"`
	ReplicaID   clock.ReplicaID    `json:"replicaId"`
	Clock       clock.LogicalClock `json:"logicalClock"`
	Kind        string             `json:"kind"`
	VectorClock clock.VectorClock  `json:"vectorClock"`
	PhysicalMs  int64              `json:"physicalMs"`
	Delta       json.RawMessage    `json:"delta"`
}

func (p DeltaPayload) toEntry() oplog.Entry {
	return oplog.Entry{
		ID:          clock.OperationID{Replica: p.ReplicaID, Clock: p.Clock},
		DocumentID:  p.DocumentID,
		Kind:        p.Kind,
		VectorClock: p.VectorClock,
		PhysicalMs:  p.PhysicalMs,
		Payload:     p.Delta,
	}
}

func entryToPayload(e oplog.Entry) DeltaPayload {
	return DeltaPayload{
		DocumentID:  e.DocumentID,
		ReplicaID:   e.ID.Replica,
		Clock:       e.ID.Clock,
		Kind:        e.Kind,
		VectorClock: e.VectorClock,
		PhysicalMs:  e.PhysicalMs,
		Delta:       e.Payload,
	}
}

type queuedOp struct {
	entry oplog.Entry
	ts    int64
}

// Manager is the sync manager of spec §4.G.
type Manager struct {
	mu sync.Mutex

	replica clock.ReplicaID
	store   storage.Storage
	conn    transport.Transport

	documents map[string]Document
	logs      map[string]*oplog.Log

	queue       []queuedOp
	maxQueue    int
	failedOps   int
	connState   transport.State
	statusSubs  map[int]StatusSubscriber
	nextSubID   int
	logMaxSize  int

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithMaxQueueSize sets the offline-queue high-water mark after which
// PushOperation returns QueueFull (spec §5 back-pressure). Zero means
// unbounded.
func WithMaxQueueSize(n int) Option {
	return func(m *Manager) { m.maxQueue = n }
}

// WithLogger overrides the default Nop logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics overrides the default nil (disabled) metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogSize bounds each document's operation log (spec §4.F).
func WithLogSize(n int) Option {
	return func(m *Manager) { m.logMaxSize = n }
}

// New creates a Manager for replica backed by store.
func New(replica clock.ReplicaID, store storage.Storage, opts ...Option) *Manager {
	m := &Manager{
		replica:    replica,
		store:      store,
		documents:  make(map[string]Document),
		logs:       make(map[string]*oplog.Log),
		statusSubs: make(map[int]StatusSubscriber),
		connState:  transport.Closed,
		logMaxSize: 10000,
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterDocument attaches doc to the manager, giving it an operation log
// and making it addressable by OnIncoming (spec §4.G register_document).
func (m *Manager) RegisterDocument(doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.DocumentID()] = doc
	m.logs[doc.DocumentID()] = oplog.New(m.logMaxSize, m.logger, m.metrics)
}

// Connect attaches a live Transport: any queued operations are replayed in
// emission order, and incoming frames are routed to OnIncoming.
func (m *Manager) Connect(conn transport.Transport) {
	m.mu.Lock()
	m.conn = conn
	m.connState = conn.State()
	m.mu.Unlock()

	conn.OnMessage(func(data []byte) {
		if err := m.OnIncoming(data); err != nil {
			m.logger.Warn("failed to process incoming frame", zap.Error(err))
		}
	})
	conn.OnClose(func() {
		m.mu.Lock()
		m.connState = transport.Closed
		m.mu.Unlock()
		m.notifyStatus()
	})
	conn.OnOpen(func() {
		m.mu.Lock()
		m.connState = transport.Open
		m.mu.Unlock()
		m.notifyStatus()
		m.replayQueue()
	})

	m.notifyStatus()
	if conn.State() == transport.Open {
		m.replayQueue()
	}
}

// Disconnect detaches the current transport; pushes queue instead of
// sending until Connect is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.conn = nil
	m.connState = transport.Closed
	m.mu.Unlock()
	m.notifyStatus()
}

// SubscribeDocument sends a SUBSCRIBE frame for docID followed by a
// SYNC_REQUEST carrying the document's current vector clock, so the server
// can reply with any backlog (spec §4.G subscribe_document).
func (m *Manager) SubscribeDocument(docID string) error {
	m.mu.Lock()
	doc, ok := m.documents[docID]
	conn := m.conn
	m.mu.Unlock()
	if !ok {
		return errs.New(errs.InvalidArgument, "sync.SubscribeDocument", nil)
	}
	if conn == nil {
		return nil // offline: nothing to subscribe to yet
	}

	subPayload, _ := json.Marshal(map[string]string{"documentId": docID})
	if err := m.send(conn, wire.Subscribe, subPayload); err != nil {
		return err
	}

	reqPayload, _ := json.Marshal(struct {
		DocumentID  string            `json:"documentId"`
		VectorClock clock.VectorClock `json:"vectorClock,omitempty"`
	}{DocumentID: docID, VectorClock: doc.VectorClock()})
	return m.send(conn, wire.SyncRequest, reqPayload)
}

// PushOperation persists entry and, if connected, broadcasts it as a DELTA
// frame; otherwise it is queued for replay on reconnection (spec §4.G
// push_operation). Exceeding the configured high-water mark fails
// synchronously with QueueFull, the only synchronous write-path failure
// (spec §5).
func (m *Manager) PushOperation(ctx context.Context, entry oplog.Entry) error {
	ctx, span := tracing.StartSpan(ctx, "sync.PushOperation",
		attribute.String("document_id", entry.DocumentID),
		attribute.String("kind", entry.Kind),
	)
	defer span.End()

	key := storage.LogKey(entry.DocumentID, entry.ID.String())
	raw, err := json.Marshal(entry)
	if err != nil {
		return errs.New(errs.InvalidArgument, "sync.PushOperation", err)
	}
	if err := m.store.Set(ctx, key, raw); err != nil {
		return errs.New(errs.StorageFailure, "sync.PushOperation", err)
	}

	if m.metrics != nil {
		m.metrics.OperationsPushed.Inc()
	}

	m.mu.Lock()
	conn := m.conn
	connected := conn != nil && m.connState == transport.Open
	if !connected {
		if m.maxQueue > 0 && len(m.queue) >= m.maxQueue {
			m.mu.Unlock()
			if m.metrics != nil {
				m.metrics.OfflineQueueFull.Inc()
			}
			return errs.New(errs.QueueFull, "sync.PushOperation", nil)
		}
		m.queue = append(m.queue, queuedOp{entry: entry, ts: entry.PhysicalMs})
		qsize := len(m.queue)
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.OfflineQueueSize.Set(float64(qsize))
		}
		m.notifyStatus()
		return nil
	}
	m.mu.Unlock()

	payload, _ := json.Marshal(entryToPayload(entry))
	return m.send(conn, wire.Delta, payload)
}

// replayQueue resends every queued operation in emission order once a
// transport becomes available (spec §4.G: "operations are replayed in
// emission order upon reconnection").
func (m *Manager) replayQueue() {
	m.mu.Lock()
	conn := m.conn
	queued := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, q := range queued {
		payload, _ := json.Marshal(entryToPayload(q.entry))
		if err := m.send(conn, wire.Delta, payload); err != nil {
			m.mu.Lock()
			m.queue = append(m.queue, q)
			m.failedOps++
			m.mu.Unlock()
		}
	}
	m.notifyStatus()
}

// OnIncoming decodes a raw binary frame and routes it (spec §4.G
// on_incoming).
func (m *Manager) OnIncoming(raw []byte) error {
	msg, _, err := wire.DecodeBinary(raw)
	if err != nil {
		return err
	}

	switch msg.Type {
	case wire.Delta:
		var p DeltaPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return errs.New(errs.ProtocolError, "sync.OnIncoming", err)
		}
		m.deliverEntry(p.toEntry())
	case wire.SyncResponse:
		var resp struct {
			DocumentID string            `json:"documentId"`
			State      clock.VectorClock `json:"state"`
			Deltas     []DeltaPayload    `json:"deltas"`
		}
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			return errs.New(errs.ProtocolError, "sync.OnIncoming", err)
		}
		for _, d := range resp.Deltas {
			m.deliverEntry(d.toEntry())
		}
	case wire.Ping:
		if m.conn != nil {
			_ = m.send(m.conn, wire.Pong, []byte(`{}`))
		}
	case wire.Ack:
		// advisory; correctness never depends on receiving it (spec §4.H).
	default:
		m.logger.Debug("ignoring unhandled message type", zap.String("type", msg.Type.String()))
	}
	return nil
}

func (m *Manager) deliverEntry(entry oplog.Entry) {
	_, span := tracing.StartSpan(context.Background(), "sync.deliverEntry",
		attribute.String("document_id", entry.DocumentID),
		attribute.String("kind", entry.Kind),
	)
	defer span.End()

	m.mu.Lock()
	log, ok := m.logs[entry.DocumentID]
	doc := m.documents[entry.DocumentID]
	m.mu.Unlock()
	if !ok || doc == nil {
		return
	}

	ready := log.Ingest(entry)
	for _, e := range ready {
		if err := doc.ApplyRemote(e); err != nil {
			m.logger.Warn("failed to apply remote operation", zap.Error(err))
			continue
		}
		doc.SetVectorClock(doc.VectorClock().Merge(e.VectorClock))
	}
}

// NetworkStatus returns a snapshot of spec §4.G's network_status().
func (m *Manager) NetworkStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	state := NetworkOffline
	if m.conn != nil {
		state = NetworkOnline
	}
	var oldest int64
	if len(m.queue) > 0 {
		oldest = m.queue[0].ts
	}
	return Status{
		NetworkState:    state,
		ConnectionState: m.connState,
		QueueSize:       len(m.queue),
		FailedOps:       m.failedOps,
		OldestOpTs:      oldest,
	}
}

// OnNetworkStatusChange registers cb to fire on every status transition.
func (m *Manager) OnNetworkStatusChange(cb StatusSubscriber) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.statusSubs[id] = cb
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.statusSubs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notifyStatus() {
	m.mu.Lock()
	status := m.statusLocked()
	subs := make([]StatusSubscriber, 0, len(m.statusSubs))
	for _, cb := range m.statusSubs {
		subs = append(subs, cb)
	}
	m.mu.Unlock()
	for _, cb := range subs {
		func(cb StatusSubscriber) {
			defer func() { _ = recover() }()
			cb(status)
		}(cb)
	}
}

func (m *Manager) send(conn transport.Transport, t wire.Type, payload []byte) error {
	frame, err := wire.EncodeBinary(wire.Message{Type: t, Timestamp: time.Now().UnixMilli(), Payload: payload})
	if err != nil {
		return err
	}
	if err := conn.Send(frame); err != nil {
		return errs.New(errs.TransportFailure, "sync.send", err)
	}
	return nil
}
