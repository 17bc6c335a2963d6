package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rendis/chatflow/pkg/schema"
)

const defaultChannelBuffer = 64

type subscriber struct {
	ch      chan schema.StreamEvent
	filter  EventFilter
	dropped atomic.Uint64
}

// MemoryHub is an in-memory EventHub. Slow subscribers lose events rather
// than blocking the run that publishes them.
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	seq    atomic.Uint64
	buffer int
}

// NewMemoryHub creates a hub whose subscriptions buffer up to buffer events
// (64 when buffer <= 0).
func NewMemoryHub(buffer int) *MemoryHub {
	if buffer <= 0 {
		buffer = defaultChannelBuffer
	}
	return &MemoryHub{subs: make(map[uint64]*subscriber), buffer: buffer}
}

// Publish delivers event to every matching subscriber without blocking.
func (h *MemoryHub) Publish(ctx context.Context, event schema.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.Match(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The returned cancel function
// removes it and closes the channel; it is safe to call more than once.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	sub := &subscriber{ch: make(chan schema.StreamEvent, h.buffer), filter: filter}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel, nil
}

// Subscribers returns the number of active subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Match reports whether e passes the filter.
func (f EventFilter) Match(e schema.StreamEvent) bool {
	if f.ThreadID != "" && f.ThreadID != e.ThreadID {
		return false
	}
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	return len(f.EventTypes) == 0 || slices.Contains(f.EventTypes, e.Type)
}
