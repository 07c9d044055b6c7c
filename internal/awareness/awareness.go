// Package awareness implements the ephemeral per-client presence channel of
// spec §4.I: a per-document map of client id to opaque state with a
// monotonic per-client clock and explicit leave semantics.
//
// Grounded on the teacher's internal/types.PeerInfo / network_manager.go
// peer bookkeeping (a map keyed by peer id, updated on each sighting,
// evicted on disconnect), generalized here from connection-level peer
// metadata to arbitrary opaque per-client state with a monotonic clock
// guarding update order instead of LastSeen timestamps.
package awareness

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/synckit/core/internal/clock"
)

// State is the opaque per-client payload. A nil State marks the client as
// leaving (spec §4.I: "null means leaving").
type State json.RawMessage

// ClientState is one client's current entry in an awareness map.
type ClientState struct {
	ClientID string
	State    State
	Clock    uint64
}

// Update is an incoming or outgoing awareness change, wire-shaped for
// AWARENESS_UPDATE messages.
type Update struct {
	ClientID string `json:"clientId"`
	State    State  `json:"state"`
	Clock    uint64 `json:"clock"`
}

// Subscriber is notified after any accepted change to the awareness map.
type Subscriber func(states map[string]ClientState)

// Awareness tracks one document's client presence map.
type Awareness struct {
	mu sync.RWMutex

	replica  clock.ReplicaID
	clientID string

	states     map[string]ClientState
	localClock uint64

	subs []Subscriber
}

// New creates an Awareness instance for clientID (typically the replica's
// own id) tracking presence on one document.
func New(replica clock.ReplicaID, clientID string) *Awareness {
	return &Awareness{
		replica:  replica,
		clientID: clientID,
		states:   make(map[string]ClientState),
	}
}

// SetLocal increments the local client's awareness clock and returns the
// update to broadcast (spec §4.I: "set_local(state): increments the local
// awareness clock and broadcasts an AWARENESS_UPDATE").
func (a *Awareness) SetLocal(state State) Update {
	a.mu.Lock()
	a.localClock++
	cs := ClientState{ClientID: a.clientID, State: state, Clock: a.localClock}
	a.states[a.clientID] = cs
	update := Update{ClientID: cs.ClientID, State: cs.State, Clock: cs.Clock}
	a.mu.Unlock()
	a.notify()
	return update
}

// Apply accepts a remote update if its clock strictly exceeds the stored
// clock for that client; otherwise it is discarded as stale or duplicate.
func (a *Awareness) Apply(update Update) bool {
	a.mu.Lock()
	existing, ok := a.states[update.ClientID]
	if ok && update.Clock <= existing.Clock {
		a.mu.Unlock()
		return false
	}
	if update.State == nil {
		delete(a.states, update.ClientID)
	} else {
		a.states[update.ClientID] = ClientState{
			ClientID: update.ClientID,
			State:    update.State,
			Clock:    update.Clock,
		}
	}
	a.mu.Unlock()
	a.notify()
	return true
}

// CreateLeave emits a state=null update for the local client, which peers
// interpret as "forget me" and evict from their map.
func (a *Awareness) CreateLeave() Update {
	a.mu.Lock()
	a.localClock++
	delete(a.states, a.clientID)
	update := Update{ClientID: a.clientID, State: nil, Clock: a.localClock}
	a.mu.Unlock()
	a.notify()
	return update
}

// States returns a snapshot copy of every currently known client state,
// keyed by client id. The map is unordered; ClientIDs returns the ids sorted.
func (a *Awareness) States() map[string]ClientState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.statesLocked()
}

func (a *Awareness) statesLocked() map[string]ClientState {
	out := make(map[string]ClientState, len(a.states))
	for k, v := range a.states {
		out[k] = v
	}
	return out
}

// ClientIDs returns the sorted list of client ids currently present.
func (a *Awareness) ClientIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.states))
	for id := range a.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns one client's current state, if present.
func (a *Awareness) Get(clientID string) (ClientState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cs, ok := a.states[clientID]
	return cs, ok
}

// Subscribe registers cb to fire after any accepted local or remote change.
// It returns an unsubscribe function.
func (a *Awareness) Subscribe(cb Subscriber) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs = append(a.subs, cb)
	idx := len(a.subs) - 1
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.subs[idx] = nil
	}
}

func (a *Awareness) notify() {
	a.mu.RLock()
	snapshot := a.statesLocked()
	subs := make([]Subscriber, len(a.subs))
	copy(subs, a.subs)
	a.mu.RUnlock()

	for _, cb := range subs {
		if cb == nil {
			continue
		}
		func(cb Subscriber) {
			defer func() { recover() }()
			cb(snapshot)
		}(cb)
	}
}
