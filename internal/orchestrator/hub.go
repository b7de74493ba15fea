package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"proofduck/pkg/types"
)

var hubDropped = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "proofduck",
	Subsystem: "hub",
	Name:      "dropped_events_total",
	Help:      "Broadcast events not delivered to a slow subscriber.",
})

func init() {
	prometheus.MustRegister(hubDropped)
}

// Hub fans events out to every subscriber. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu   sync.Mutex
	subs map[uint64]chan types.Event
	next uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan types.Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// func unsubscribes and closes the channel; it is safe to call twice.
func (h *Hub) Subscribe(buffer int) (<-chan types.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan types.Event, buffer)
	h.mu.Lock()
	h.next++
	id := h.next
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Publish delivers ev to every subscriber with room for it.
func (h *Hub) Publish(ev types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			hubDropped.Inc()
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
