package gateway

import (
	"sync"

	"github.com/alekspetrov/hourglass/internal/orchestrator"
)

const subscriberBuffer = 32

// Hub fans orchestrator events out to websocket subscribers of a session.
// Slow subscribers drop events rather than block the loop.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan orchestrator.Event]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan orchestrator.Event]struct{})}
}

// Publish implements orchestrator.Publisher.
func (h *Hub) Publish(e orchestrator.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[e.SessionID] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of events for sessionID. After Close it
// returns a closed channel.
func (h *Hub) Subscribe(sessionID string) chan orchestrator.Event {
	ch := make(chan orchestrator.Event, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan orchestrator.Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes ch.
func (h *Hub) Unsubscribe(sessionID string, ch chan orchestrator.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sessionID][ch]; !ok {
		return
	}
	delete(h.subs[sessionID], ch)
	if len(h.subs[sessionID]) == 0 {
		delete(h.subs, sessionID)
	}
	close(ch)
}

// Count returns the number of subscribers for sessionID.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, id)
	}
	h.closed = true
}
