// Package synckit is the public entry point: construct a Client, open
// documents of each CRDT kind, and let the sync manager, storage, and
// transport collaborators keep them converged.
//
// Grounded on the teacher's pkg/knirvbase package: a thin Options/New
// constructor wrapping the internal plumbing, plus interface-typed
// accessors (Collection there, the per-kind Document wrappers here) so
// callers never import internal packages directly.
package synckit

import (
	"context"
	"fmt"

	"github.com/synckit/core/internal/awareness"
	"github.com/synckit/core/internal/clock"
	"github.com/synckit/core/internal/crdt/counter"
	"github.com/synckit/core/internal/crdt/lww"
	"github.com/synckit/core/internal/crdt/orset"
	"github.com/synckit/core/internal/crdt/richtext"
	"github.com/synckit/core/internal/crdt/text"
	"github.com/synckit/core/internal/crosstab"
	"github.com/synckit/core/internal/observability/logging"
	"github.com/synckit/core/internal/observability/metrics"
	"github.com/synckit/core/internal/storage"
	"github.com/synckit/core/internal/sync"
	"github.com/synckit/core/internal/transport"
	"github.com/synckit/core/internal/undo"
)

// Options configures a Client.
type Options struct {
	// ReplicaID identifies this process/device among its peers. Required.
	ReplicaID string

	// Store receives every pushed operation under its log key
	// (storage.LogKey). Document snapshots and vector clocks are not
	// written to it. Defaults to an in-memory store when nil.
	Store storage.Storage

	// Transport is the client<->server connection. May be nil; Connect
	// can be called later once one is available (e.g. after the user
	// comes back online).
	Transport transport.Transport

	// TabID identifies this browser/process tab for cross-tab
	// coordination. When empty, cross-tab coordination is disabled.
	TabID string
	Hub   *crosstab.Hub

	MaxQueueSize int
	Logger       *logging.Logger
	Metrics      *metrics.Metrics
}

// Client is the public wrapper around the internal sync manager and its
// collaborators.
type Client struct {
	replica clock.ReplicaID
	manager *sync.Manager
	store   storage.Storage
	undo    *undo.Manager
	tab     *crosstab.Coordinator
	logger  *logging.Logger
}

// New constructs a Client from opts.
func New(ctx context.Context, opts Options) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("synckit: context cannot be nil")
	}
	if opts.ReplicaID == "" {
		return nil, fmt.Errorf("synckit: ReplicaID cannot be empty")
	}

	store := opts.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	var syncOpts []sync.Option
	if opts.MaxQueueSize > 0 {
		syncOpts = append(syncOpts, sync.WithMaxQueueSize(opts.MaxQueueSize))
	}
	syncOpts = append(syncOpts, sync.WithLogger(logger))
	if opts.Metrics != nil {
		syncOpts = append(syncOpts, sync.WithMetrics(opts.Metrics))
	}

	mgr := sync.New(clock.ReplicaID(opts.ReplicaID), store, syncOpts...)
	if opts.Transport != nil {
		mgr.Connect(opts.Transport)
	}

	var tab *crosstab.Coordinator
	if opts.TabID != "" {
		hub := opts.Hub
		if hub == nil {
			hub = crosstab.NewHub()
		}
		tab = crosstab.Join(hub, opts.TabID)
	}

	return &Client{
		replica: clock.ReplicaID(opts.ReplicaID),
		manager: mgr,
		store:   store,
		undo:    undo.New(),
		tab:     tab,
		logger:  logger,
	}, nil
}

// Connect attaches (or replaces) the client's transport and resumes any
// queued operations.
func (c *Client) Connect(conn transport.Transport) { c.manager.Connect(conn) }

// Disconnect detaches the current transport; subsequent pushes queue.
func (c *Client) Disconnect() { c.manager.Disconnect() }

// NetworkStatus reports the manager's connection and queue state.
func (c *Client) NetworkStatus() sync.Status { return c.manager.NetworkStatus() }

// Undo returns the client's undo manager, shared across every document
// kind opened through this client.
func (c *Client) Undo() *undo.Manager { return c.undo }

// IsLeaderTab reports whether this client's tab currently holds cross-tab
// leadership. Always true when cross-tab coordination was not configured.
func (c *Client) IsLeaderTab() bool {
	if c.tab == nil {
		return true
	}
	return c.tab.IsCurrentLeader()
}

// Shutdown releases the client's network and cross-tab resources.
func (c *Client) Shutdown() error {
	c.manager.Disconnect()
	if c.tab != nil {
		c.tab.Leave()
	}
	return nil
}

// Document opens an LWW field-map document identified by id, registering
// it with the sync manager so local writes push out and remote deltas
// apply automatically.
func (c *Client) Document(id string) *Document {
	doc := lww.New(c.replica)
	adapter := sync.NewLWWAdapter(id, doc)
	c.manager.RegisterDocument(adapter)
	return &Document{Document: doc, p: &pusher{docID: id, kind: "lww", replica: c.replica, adapter: adapter, manager: c.manager}}
}

// Text opens a Fugue text CRDT identified by id.
func (c *Client) Text(id string) *TextDoc {
	t := text.New(c.replica)
	adapter := sync.NewTextAdapter(id, t)
	c.manager.RegisterDocument(adapter)
	return &TextDoc{Text: t, p: &pusher{docID: id, kind: "text", replica: c.replica, adapter: adapter, manager: c.manager}}
}

// RichText opens a Peritext rich-text CRDT layered over a freshly created
// Text body.
func (c *Client) RichText(id string, schema richtext.Schema) *RichTextDoc {
	body := text.New(c.replica)
	bodyAdapter := sync.NewTextAdapter(id+":body", body)
	c.manager.RegisterDocument(bodyAdapter)
	bodyDoc := &TextDoc{Text: body, p: &pusher{docID: id + ":body", kind: "text", replica: c.replica, adapter: bodyAdapter, manager: c.manager}}

	rt := richtext.New(c.replica, body, schema)
	adapter := sync.NewRichTextAdapter(id, rt)
	c.manager.RegisterDocument(adapter)
	return &RichTextDoc{RichText: rt, Body: bodyDoc, p: &pusher{docID: id, kind: "richtext", replica: c.replica, adapter: adapter, manager: c.manager}}
}

// Counter opens a PN-Counter identified by id.
func (c *Client) Counter(id string) *CounterDoc {
	cnt := counter.New(c.replica)
	adapter := sync.NewCounterAdapter(id, cnt)
	c.manager.RegisterDocument(adapter)
	return &CounterDoc{Counter: cnt, p: &pusher{docID: id, kind: "counter", replica: c.replica, adapter: adapter, manager: c.manager}}
}

// ORSet opens an OR-Set identified by id.
func (c *Client) ORSet(id string) *ORSetDoc {
	s := orset.New(c.replica)
	adapter := sync.NewORSetAdapter(id, s)
	c.manager.RegisterDocument(adapter)
	return &ORSetDoc{Set: s, p: &pusher{docID: id, kind: "orset", replica: c.replica, adapter: adapter, manager: c.manager}}
}

// Awareness returns a new local awareness.Awareness for clientID. docID is
// not used, and the instance is not connected to the sync manager or the
// transport.
func (c *Client) Awareness(docID, clientID string) *awareness.Awareness {
	return awareness.New(c.replica, clientID)
}
