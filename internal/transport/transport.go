// Package transport defines the bidirectional message-channel collaborator
// of spec §6 and ships two concrete implementations: a raw TCP transport
// grounded on the teacher's custom P2P network manager, and an in-process
// Pipe used by tests and single-process examples.
package transport

import (
	"sync"

	"github.com/synckit/core/internal/errs"
)

// State is the connection lifecycle state of spec §6.
type State int

const (
	Connecting State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "closed"
	}
}

// MessageHandler receives one inbound frame.
type MessageHandler func(data []byte)

// Transport is the bidirectional message channel of spec §6.
type Transport interface {
	Send(data []byte) error
	OnMessage(cb MessageHandler)
	OnOpen(cb func())
	OnClose(cb func())
	Close() error
	State() State
}

// base implements the handler bookkeeping shared by every Transport, the
// way the teacher's NetworkManager keeps one handlers map per message
// type — generalized here to transport-level lifecycle callbacks.
type base struct {
	mu        sync.Mutex
	state     State
	onMessage []MessageHandler
	onOpen    []func()
	onClose   []func()
}

func (b *base) OnMessage(cb MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMessage = append(b.onMessage, cb)
}

func (b *base) OnOpen(cb func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onOpen = append(b.onOpen, cb)
}

func (b *base) OnClose(cb func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClose = append(b.onClose, cb)
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *base) fireOpen() {
	b.mu.Lock()
	cbs := append([]func(){}, b.onOpen...)
	b.mu.Unlock()
	for _, cb := range cbs {
		safeCall(cb)
	}
}

func (b *base) fireClose() {
	b.mu.Lock()
	cbs := append([]func(){}, b.onClose...)
	b.mu.Unlock()
	for _, cb := range cbs {
		safeCall(cb)
	}
}

func (b *base) fireMessage(data []byte) {
	b.mu.Lock()
	cbs := append([]MessageHandler{}, b.onMessage...)
	b.mu.Unlock()
	for _, cb := range cbs {
		func(cb MessageHandler) {
			defer func() { _ = recover() }()
			cb(data)
		}(cb)
	}
}

func safeCall(cb func()) {
	defer func() { _ = recover() }()
	cb()
}

// ErrClosed is returned by Send on a closed transport.
var ErrClosed = errs.New(errs.TransportFailure, "transport.Send", nil)
