package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this starts losing events.
const subscriberBuffer = 64

// MemoryHub is the in-process EventHub. Publishing never blocks: a full
// subscriber channel loses the event and the hub counts the loss.
type MemoryHub struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]subscription
	dropped atomic.Int64
}

type subscription struct {
	ch     chan RunEvent
	filter EventFilter
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[int]subscription)}
}

// Publish fans the event out to every subscriber whose filter admits it.
func (h *MemoryHub) Publish(ctx context.Context, event RunEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	targets := make([]chan RunEvent, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.filter.admits(event) {
			targets = append(targets, sub.ch)
		}
	}
	h.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscriber. The returned cancel detaches it;
// events published before Subscribe returns are not replayed.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ch := make(chan RunEvent, subscriberBuffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = subscription{ch: ch, filter: filter}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	return ch, cancel, nil
}

// Dropped reports how many events were lost to slow subscribers.
func (h *MemoryHub) Dropped() int64 {
	return h.dropped.Load()
}

// admits reports whether the event passes the filter. An empty filter
// admits everything.
func (f EventFilter) admits(e RunEvent) bool {
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == e.EventType {
			return true
		}
	}
	return false
}
