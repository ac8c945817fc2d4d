package registry

import (
	"testing"
	"time"

	"github.com/kstaniek/battleship-server/internal/protocol"
)

func TestRegistry_AcceptAssignsSmallestFreeID(t *testing.T) {
	r := New()
	c1, err := r.Accept(8)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if c1.ID != MinClientID {
		t.Fatalf("first client id = %d, want %d", c1.ID, MinClientID)
	}
	c2, _ := r.Accept(8)
	if c2.ID != MinClientID+1 {
		t.Fatalf("second client id = %d, want %d", c2.ID, MinClientID+1)
	}
}

func TestRegistry_IDRecycling(t *testing.T) {
	r := New()
	clients := make([]*Client, 5)
	for i := range clients {
		clients[i], _ = r.Accept(8)
	}
	r.Remove(clients[2]) // id 3 (0-indexed slot holding id MinClientID+2)
	next, _ := r.Accept(8)
	if next.ID != clients[2].ID {
		t.Fatalf("recycled id = %d, want %d", next.ID, clients[2].ID)
	}
}

func TestRegistry_RefusesWhenFull(t *testing.T) {
	r := New()
	for i := MinClientID; i <= MaxClientID; i++ {
		if _, err := r.Accept(1); err != nil {
			t.Fatalf("unexpected error filling registry: %v", err)
		}
	}
	if _, err := r.Accept(1); err == nil {
		t.Fatalf("expected ErrFull once pool is exhausted")
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := New()
	c, _ := r.Accept(8)
	r.Remove(c)
	r.Remove(c) // must not panic or double-release the id
	if r.Count() != 0 {
		t.Fatalf("count after double remove = %d, want 0", r.Count())
	}
}

func TestRegistry_BroadcastSkipsListedIDs(t *testing.T) {
	r := New()
	a, _ := r.Accept(8)
	b, _ := r.Accept(8)
	r.Broadcast(protocol.Frame{MsgType: protocol.MsgChat, Payload: "hi"}, a.ID)
	select {
	case <-a.Out:
		t.Fatalf("skipped client should not receive broadcast")
	default:
	}
	select {
	case <-b.Out:
	default:
		t.Fatalf("non-skipped client should receive broadcast")
	}
}

func TestClient_SendDropsRatherThanBlocks(t *testing.T) {
	c := NewClient(1, 1)
	c.Send(protocol.Frame{Payload: "1"})
	done := make(chan struct{})
	go func() {
		c.Send(protocol.Frame{Payload: "2"}) // buffer full, must drop not block
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Send blocked on a full buffer")
	}
}
