package orchestrator

import (
	"testing"
	"time"

	"proofduck/pkg/types"
)

func TestHub_FanOutAndDrop(t *testing.T) {
	h := NewHub()
	fast, unsubFast := h.Subscribe(8)
	slow, unsubSlow := h.Subscribe(1)
	defer unsubFast()
	defer unsubSlow()

	for i := 0; i < 3; i++ {
		h.Publish(types.UpdateEvent("t", types.ModeExpand, ""))
	}
	if len(fast) != 3 {
		t.Fatalf("fast subscriber got %d events", len(fast))
	}
	if len(slow) != 1 {
		t.Fatalf("slow subscriber should keep only what fits, got %d", len(slow))
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe(0)
	if h.Subscribers() != 1 {
		t.Fatalf("subscribers=%d", h.Subscribers())
	}
	unsub()
	unsub()
	if h.Subscribers() != 0 {
		t.Fatalf("subscribers=%d", h.Subscribers())
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}
	h.Publish(types.ReadyEvent())
}
