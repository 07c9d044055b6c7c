package synckit

import (
	"context"
	"testing"
	"time"

	"github.com/synckit/core/internal/transport"
)

func TestNewRequiresReplicaID(t *testing.T) {
	if _, err := New(context.Background(), Options{}); err == nil {
		t.Fatal("expected error for empty ReplicaID")
	}
}

func TestDocumentSyncsAcrossClients(t *testing.T) {
	ctx := context.Background()

	a, err := New(ctx, Options{ReplicaID: "a"})
	if err != nil {
		t.Fatalf("new a: %v", err)
	}
	b, err := New(ctx, Options{ReplicaID: "b"})
	if err != nil {
		t.Fatalf("new b: %v", err)
	}

	connA, connB := transport.NewPipePair()
	a.Connect(connA)
	b.Connect(connB)

	docA := a.Document("profile")
	docB := b.Document("profile")

	docA.Set("name", "ada")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := docB.Get("name"); ok && v == "ada" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected name to converge to ada on b")
}

func TestIsLeaderTabDefaultsTrueWithoutCoordination(t *testing.T) {
	c, err := New(context.Background(), Options{ReplicaID: "solo"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !c.IsLeaderTab() {
		t.Error("expected solo client without cross-tab config to report leader")
	}
}
