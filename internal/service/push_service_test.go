package service

import (
	"context"
	"testing"
	"time"

	"github.com/governed-io/governed/internal/domain/changeevent"
)

func TestPushService_ConnectDisconnect(t *testing.T) {
	t.Parallel()
	p := NewPushService(time.Minute, discardLogger())

	out := p.Connect("c1", []string{"*"})
	if p.ConnectedClients() != 1 {
		t.Errorf("ConnectedClients = %d, want 1", p.ConnectedClients())
	}

	p.Disconnect("c1")
	if p.ConnectedClients() != 0 {
		t.Errorf("ConnectedClients = %d, want 0 after disconnect", p.ConnectedClients())
	}

	if _, ok := <-out; ok {
		t.Error("expected the client channel to be closed after Disconnect")
	}
}

func TestPushService_OnChangeEventRespectsSubscriptions(t *testing.T) {
	t.Parallel()
	p := NewPushService(time.Minute, discardLogger())

	wildcard := p.Connect("wildcard", []string{"*"})
	scoped := p.Connect("scoped", []string{"p1"})
	other := p.Connect("other", []string{"p2"})

	p.onChangeEvent(context.Background(), changeevent.Event{Type: changeevent.TypeUpdated, PolicyID: "p1"})

	select {
	case msg := <-wildcard:
		if msg.PolicyID != "p1" {
			t.Errorf("wildcard client got %q, want p1", msg.PolicyID)
		}
	case <-time.After(time.Second):
		t.Fatal("wildcard client never received the event")
	}
	select {
	case msg := <-scoped:
		if msg.PolicyID != "p1" {
			t.Errorf("scoped client got %q, want p1", msg.PolicyID)
		}
	case <-time.After(time.Second):
		t.Fatal("scoped client never received the event")
	}
	select {
	case <-other:
		t.Error("client subscribed to p2 should not have received an event for p1")
	case <-time.After(100 * time.Millisecond):
		// expected: no delivery
	}
}

func TestPushService_FullOutboxDropsRatherThanBlocks(t *testing.T) {
	t.Parallel()
	p := NewPushService(time.Minute, discardLogger())
	p.outboxSize = 1
	out := p.Connect("c1", []string{"*"})

	for i := 0; i < 5; i++ {
		p.onChangeEvent(context.Background(), changeevent.Event{Type: changeevent.TypeUpdated, PolicyID: "p1"})
	}

	select {
	case <-out:
	default:
		t.Fatal("expected at least one message to have been delivered")
	}
}

func TestPushService_HeartbeatPreventsEviction(t *testing.T) {
	t.Parallel()
	p := NewPushService(10*time.Millisecond, discardLogger())
	p.Connect("c1", []string{"*"})

	p.Heartbeat("c1")
	time.Sleep(5 * time.Millisecond)
	p.evictStale()

	if p.ConnectedClients() != 1 {
		t.Error("expected a recently-heartbeaten client to survive eviction")
	}
}

func TestPushService_EvictStaleRemovesSilentClients(t *testing.T) {
	t.Parallel()
	p := NewPushService(5*time.Millisecond, discardLogger())
	out := p.Connect("c1", []string{"*"})

	time.Sleep(20 * time.Millisecond)
	p.evictStale()

	if p.ConnectedClients() != 0 {
		t.Error("expected a silent client to be evicted")
	}
	if _, ok := <-out; ok {
		t.Error("expected the evicted client's channel to be closed")
	}
}
