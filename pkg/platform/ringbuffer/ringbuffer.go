// Package ringbuffer provides a bounded, append-only buffer that evicts the
// oldest entry once capacity is reached.
package ringbuffer

import "sync"

// Buffer is a bounded, thread-safe FIFO of T.
// When full, Push drops the oldest entry to make room.
type Buffer[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // next write position
	count    int
	capacity int

	evicted int64
}

// New creates a buffer with the given capacity. Non-positive capacities fall
// back to 1000.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Buffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends an item, evicting the oldest one if the buffer is full.
// Returns true when an eviction happened.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := false
	if b.count == b.capacity {
		b.count--
		b.evicted++
		evicted = true
	}
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	b.count++
	return evicted
}

// Snapshot returns the buffered items, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, b.count)
	tail := (b.head - b.count + b.capacity) % b.capacity
	for i := 0; i < b.count; i++ {
		out[i] = b.items[(tail+i)%b.capacity]
	}
	return out
}

// Last returns up to n of the most recent items, oldest first.
func (b *Buffer[T]) Last(n int) []T {
	all := b.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return b.capacity
}

// Evicted returns how many items have been dropped since creation.
func (b *Buffer[T]) Evicted() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}
