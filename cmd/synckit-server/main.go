// Command synckit-server is a reference broadcast server for spec §6: it
// accepts TCP connections speaking the binary wire protocol, authenticates
// them (when SYNCKIT_AUTH_SECRET is set), and relays deltas, CRDT ops, and
// awareness updates between subscribers of the same document.
//
// Grounded on the teacher's cmd/main.go: environment-derived data
// directory, a sequential Options-then-New setup, then a blocking
// select{} to keep the process alive once serving starts.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/synckit/core/internal/auth"
	"github.com/synckit/core/internal/awareness"
	"github.com/synckit/core/internal/clock"
	"github.com/synckit/core/internal/crdt/lww"
	"github.com/synckit/core/internal/observability/logging"
	"github.com/synckit/core/internal/observability/metrics"
	"github.com/synckit/core/internal/server"
	syncmgr "github.com/synckit/core/internal/sync"
	"github.com/synckit/core/internal/transport"
	"github.com/synckit/core/internal/wire"
)

func main() {
	addr := os.Getenv("SYNCKIT_LISTEN_ADDR")
	if addr == "" {
		addr = ":7420"
	}

	logger, err := logging.New(os.Getenv("SYNCKIT_LOG_LEVEL"), os.Getenv("SYNCKIT_LOG_FORMAT"))
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	m := metrics.New(prometheus.NewRegistry())

	var guard *auth.Guard
	if secret := os.Getenv("SYNCKIT_AUTH_SECRET"); secret != "" {
		tokens := auth.NewTokenManager(secret, 24*time.Hour)
		guard = auth.NewGuard(tokens)
	}

	hub := server.New(
		server.WithAuthGuard(guard),
		server.WithLogger(logger),
		server.WithMetrics(m),
	)

	ln, err := transport.Listen(addr, logger, func(conn *transport.TCPTransport) {
		handleConnection(hub, guard, conn, logger)
	})
	if err != nil {
		log.Fatal(err)
	}
	defer ln.Close()

	fmt.Printf("synckit-server listening on %s\n", addr)
	select {}
}

// connState is the per-connection bookkeeping a connHandler closes over:
// its authenticated claims (nil until an AUTH frame arrives, or always nil
// when no auth secret is configured) and the unsubscribe functions for
// every document it has subscribed to.
type connState struct {
	mu       sync.Mutex
	claims   *auth.Claims
	unsubs   map[string]func()
	id       string
}

func handleConnection(hub *server.Hub, guard *auth.Guard, conn *transport.TCPTransport, logger *logging.Logger) {
	cs := &connState{id: fmt.Sprintf("%p", conn), unsubs: make(map[string]func())}

	send := func(frame []byte) error { return conn.Send(frame) }

	conn.OnMessage(func(raw []byte) {
		msg, _, err := wire.DecodeBinary(raw)
		if err != nil {
			logger.Warn("malformed frame", zap.Error(err))
			return
		}
		if err := route(hub, guard, cs, conn, send, msg, raw); err != nil {
			logger.Warn("failed to handle frame", zap.String("type", msg.Type.String()), zap.Error(err))
		}
	})
	conn.OnClose(func() {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		for _, unsub := range cs.unsubs {
			unsub()
		}
	})
}

func route(hub *server.Hub, guard *auth.Guard, cs *connState, conn *transport.TCPTransport, send server.Sender, msg wire.Message, raw []byte) error {
	switch msg.Type {
	case wire.Auth:
		if guard == nil {
			return nil
		}
		var body struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(msg.Payload, &body); err != nil {
			return err
		}
		claims, err := guard.Authenticate(body.Token)
		if err != nil {
			frame, _ := wire.EncodeBinary(wire.Message{Type: wire.AuthError, Timestamp: time.Now().UnixMilli()})
			return conn.Send(frame)
		}
		cs.mu.Lock()
		cs.claims = claims
		cs.mu.Unlock()
		frame, encErr := wire.EncodeBinary(wire.Message{Type: wire.AuthSuccess, Timestamp: time.Now().UnixMilli()})
		if encErr != nil {
			return encErr
		}
		return conn.Send(frame)

	case wire.Subscribe:
		var body struct {
			DocumentID string `json:"documentId"`
		}
		if err := json.Unmarshal(msg.Payload, &body); err != nil {
			return err
		}
		unsub := hub.Subscribe(body.DocumentID, cs.id, send)
		cs.mu.Lock()
		cs.unsubs[body.DocumentID] = unsub
		cs.mu.Unlock()
		return nil

	case wire.Unsubscribe:
		var body struct {
			DocumentID string `json:"documentId"`
		}
		if err := json.Unmarshal(msg.Payload, &body); err != nil {
			return err
		}
		cs.mu.Lock()
		unsub, ok := cs.unsubs[body.DocumentID]
		delete(cs.unsubs, body.DocumentID)
		cs.mu.Unlock()
		if ok {
			unsub()
		}
		return nil

	case wire.SyncRequest:
		var body struct {
			DocumentID  string            `json:"documentId"`
			VectorClock clock.VectorClock `json:"vectorClock"`
		}
		if err := json.Unmarshal(msg.Payload, &body); err != nil {
			return err
		}
		return hub.HandleSyncRequest(body.DocumentID, cs.id, body.VectorClock)

	case wire.Delta:
		var payload syncmgr.DeltaPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return err
		}
		cs.mu.Lock()
		claims := cs.claims
		cs.mu.Unlock()
		if payload.Kind == "lww" {
			var op lww.Op
			if err := json.Unmarshal(payload.Delta, &op); err != nil {
				return err
			}
			return hub.HandleDelta(claims, payload.DocumentID, cs.id, op)
		}
		return hub.HandleCRDTOp(claims, payload.DocumentID, cs.id, raw)

	case wire.AwarenessUpdate:
		var envelope struct {
			DocumentID string           `json:"documentId"`
			Update     awareness.Update `json:"update"`
		}
		if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
			return err
		}
		cs.mu.Lock()
		claims := cs.claims
		cs.mu.Unlock()
		return hub.HandleAwareness(claims, envelope.DocumentID, cs.id, envelope.Update)

	case wire.Ping:
		frame, err := wire.EncodeBinary(wire.Message{Type: wire.Pong, Timestamp: time.Now().UnixMilli()})
		if err != nil {
			return err
		}
		return conn.Send(frame)

	default:
		return nil
	}
}
