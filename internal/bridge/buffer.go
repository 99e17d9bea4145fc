package bridge

import (
	"sync"

	"github.com/fpt/discord-zendesk-bridge/internal/zendesk"
)

// Buffer is a tenant's outbound queue of resources waiting for the next poll.
// It keeps insertion order and holds at most capacity items; when full the
// oldest item is dropped. A capacity of zero means unbounded.
type Buffer struct {
	mu       sync.Mutex
	items    []zendesk.ExternalResource
	capacity int
}

// NewBuffer creates an empty buffer.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{capacity: capacity}
}

// Append enqueues r. It reports whether an older item was dropped to make room.
func (b *Buffer) Append(r zendesk.ExternalResource) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.capacity > 0 && len(b.items) >= b.capacity {
		b.items[0] = zendesk.ExternalResource{}
		b.items = b.items[1:]
		dropped = true
	}
	b.items = append(b.items, r)
	return dropped
}

// Drain empties the buffer and returns its items in insertion order.
// The result is never nil.
func (b *Buffer) Drain() []zendesk.ExternalResource {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.items
	b.items = nil
	if out == nil {
		out = []zendesk.ExternalResource{}
	}
	return out
}

// Len returns the number of buffered items.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
