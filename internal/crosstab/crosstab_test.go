package crosstab

import "testing"

func TestFirstTabBecomesLeader(t *testing.T) {
	hub := NewHub()
	a := Join(hub, "tab-a")
	if !a.IsCurrentLeader() {
		t.Error("expected first tab to be leader")
	}
}

func TestSmallestRemainingWinsOnLeaderDeparture(t *testing.T) {
	hub := NewHub()
	a := Join(hub, "b-tab")
	c := Join(hub, "c-tab")
	d := Join(hub, "a-tab")

	if !d.IsCurrentLeader() {
		t.Fatal("expected lexicographically smallest tab (a-tab) to be leader")
	}

	d.Leave()
	if !a.IsCurrentLeader() {
		t.Errorf("expected b-tab to become leader after a-tab leaves")
	}
	_ = c
}

func TestBroadcastExcludesSender(t *testing.T) {
	hub := NewHub()
	a := Join(hub, "a")
	b := Join(hub, "b")

	var aGot, bGot bool
	a.Subscribe(func(Message) { aGot = true })
	b.Subscribe(func(Message) { bGot = true })

	a.Broadcast([]byte("hi"))

	if aGot {
		t.Error("sender should not receive its own broadcast")
	}
	if !bGot {
		t.Error("expected peer to receive broadcast")
	}
}
