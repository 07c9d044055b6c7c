package server

import (
	"encoding/json"
	"testing"

	"github.com/synckit/core/internal/awareness"
	"github.com/synckit/core/internal/clock"
	"github.com/synckit/core/internal/crdt/lww"
	"github.com/synckit/core/internal/wire"
)

func TestHandleDeltaBroadcastsIncludingSender(t *testing.T) {
	h := New()

	var senderFrames, peerFrames [][]byte
	unsubSender := h.Subscribe("doc1", "sender", func(f []byte) error {
		senderFrames = append(senderFrames, f)
		return nil
	})
	defer unsubSender()
	unsubPeer := h.Subscribe("doc1", "peer", func(f []byte) error {
		peerFrames = append(peerFrames, f)
		return nil
	})
	defer unsubPeer()

	op := lww.Op{Key: "title", Value: "hello", Stamp: clock.Lamport{Counter: 1, Replica: "sender"}}
	if err := h.HandleDelta(nil, "doc1", "sender", op); err != nil {
		t.Fatalf("HandleDelta: %v", err)
	}

	if len(peerFrames) != 1 {
		t.Fatalf("expected 1 frame to peer, got %d", len(peerFrames))
	}
	// sender gets the broadcast delta plus its own ack.
	if len(senderFrames) != 2 {
		t.Fatalf("expected 2 frames to sender (delta+ack), got %d", len(senderFrames))
	}

	msg, _, err := wire.DecodeBinary(peerFrames[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != wire.Delta {
		t.Errorf("expected Delta frame, got %v", msg.Type)
	}
}

func TestHandleCRDTOpExcludesSender(t *testing.T) {
	h := New()

	var senderFrames, peerFrames [][]byte
	unsubSender := h.Subscribe("doc2", "sender", func(f []byte) error {
		senderFrames = append(senderFrames, f)
		return nil
	})
	defer unsubSender()
	unsubPeer := h.Subscribe("doc2", "peer", func(f []byte) error {
		peerFrames = append(peerFrames, f)
		return nil
	})
	defer unsubPeer()

	payload, _ := json.Marshal(map[string]string{"kind": "insert"})
	frame, err := wire.EncodeBinary(wire.Message{Type: wire.Delta, Payload: payload})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := h.HandleCRDTOp(nil, "doc2", "sender", frame); err != nil {
		t.Fatalf("HandleCRDTOp: %v", err)
	}

	if len(peerFrames) != 1 {
		t.Fatalf("expected 1 frame to peer, got %d", len(peerFrames))
	}
	// sender only gets its ack, not the relayed op.
	if len(senderFrames) != 1 {
		t.Fatalf("expected 1 ack frame to sender, got %d", len(senderFrames))
	}
}

func TestHandleAwarenessExcludesSender(t *testing.T) {
	h := New()

	var peerGot bool
	unsubSender := h.Subscribe("doc3", "sender", func(f []byte) error { return nil })
	defer unsubSender()
	unsubPeer := h.Subscribe("doc3", "peer", func(f []byte) error {
		peerGot = true
		return nil
	})
	defer unsubPeer()

	update := awareness.Update{ClientID: "sender", State: awareness.State(`{"cursor":3}`), Clock: 1}
	if err := h.HandleAwareness(nil, "doc3", "sender", update); err != nil {
		t.Fatalf("HandleAwareness: %v", err)
	}
	if !peerGot {
		t.Error("expected peer to receive awareness update")
	}
}
