// Package buffer provides the fixed-capacity ring buffers a camera worker
// keeps over its frame stream.
package buffer

// Sliding is a fixed-capacity FIFO. Push evicts the oldest element once the
// buffer is full. It is not safe for concurrent use; each buffer has exactly
// one owner.
type Sliding[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

// NewSliding creates a buffer holding at most capacity elements. A capacity
// below one is raised to one.
func NewSliding[T any](capacity int) *Sliding[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Sliding[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full.
func (b *Sliding[T]) Push(v T) {
	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.head+b.size)%capacity] = v
		b.size++
		return
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % capacity
}

// Snapshot returns the held elements oldest first. The buffer is not modified
// and the returned slice is not shared with it.
func (b *Sliding[T]) Snapshot() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

func (b *Sliding[T]) Len() int { return b.size }

func (b *Sliding[T]) Cap() int { return len(b.items) }

// Full reports whether Len equals Cap.
func (b *Sliding[T]) Full() bool { return b.size == len(b.items) }
