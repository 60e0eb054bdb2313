package audit

import "sync"

const subscriberBuffer = 32

// Hub fans persisted logs out to live subscribers. Slow subscribers miss
// entries rather than delaying the writer.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Log]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Log]struct{})}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// to release it; the channel is closed on cancel.
func (h *Hub) Subscribe() (<-chan Log, func()) {
	ch := make(chan Log, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers log to every subscriber without blocking.
func (h *Hub) Publish(log Log) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- log:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
