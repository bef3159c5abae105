package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by Send and Receive once the queue is closed
// and, for Receive, drained.
var ErrQueueClosed = errors.New("queue closed")

// Policy decides what Send does when the queue is full.
type Policy string

const (
	// PolicyBlock waits for room, the context or Close.
	PolicyBlock Policy = "block"
	// PolicyDropOldest evicts the oldest queued item to make room.
	PolicyDropOldest Policy = "drop_oldest"
	// PolicyDropNewest discards the item being sent.
	PolicyDropNewest Policy = "drop_newest"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyBlock, PolicyDropOldest, PolicyDropNewest:
		return p, nil
	default:
		return "", fmt.Errorf("unknown queue policy %q", s)
	}
}

// DropFunc is told about every item a queue discards.
type DropFunc func(queue string)

// Queue is a bounded multi-producer queue with a fixed overflow policy.
type Queue[T any] struct {
	name    string
	policy  Policy
	ch      chan T
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	onDrop  DropFunc

	expendable func(T) bool
}

// NewQueue creates a queue. Capacity below one is raised to one.
func NewQueue[T any](name string, capacity int, policy Policy, onDrop DropFunc) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		name:   name,
		policy: policy,
		ch:     make(chan T, capacity),
		done:   make(chan struct{}),
		onDrop: onDrop,
	}
}

// WithExpendable marks the items fn reports true for as expendable. Under
// PolicyDropOldest an expendable item that finds the queue full is discarded
// itself instead of evicting, so only non-expendable sends evict. Call it
// before the queue is shared.
func (q *Queue[T]) WithExpendable(fn func(T) bool) *Queue[T] {
	q.expendable = fn
	return q
}

// Send enqueues v according to the queue policy. Only PolicyBlock waits; the
// drop policies never block and report success even when an item was
// discarded.
func (q *Queue[T]) Send(ctx context.Context, v T) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	switch q.policy {
	case PolicyDropNewest:
		select {
		case q.ch <- v:
		default:
			q.drop()
		}
		return nil

	case PolicyDropOldest:
		if q.expendable != nil && q.expendable(v) {
			select {
			case q.ch <- v:
			default:
				q.drop()
			}
			return nil
		}
		for {
			select {
			case q.ch <- v:
				return nil
			default:
			}
			select {
			case <-q.ch:
				q.drop()
			default:
			}
		}

	default:
		select {
		case q.ch <- v:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return ErrQueueClosed
		}
	}
}

func (q *Queue[T]) drop() {
	q.dropped.Add(1)
	if q.onDrop != nil {
		q.onDrop(q.name)
	}
}

// Receive waits for the next item. After Close, remaining items are still
// returned before ErrQueueClosed.
func (q *Queue[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-q.done:
		select {
		case v := <-q.ch:
			return v, nil
		default:
			return zero, ErrQueueClosed
		}
	}
}

// TryReceive returns the next item without waiting.
func (q *Queue[T]) TryReceive() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Close stops further sends and wakes blocked senders and receivers.
func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *Queue[T]) Name() string    { return q.name }
func (q *Queue[T]) Policy() Policy  { return q.policy }
func (q *Queue[T]) Len() int        { return len(q.ch) }
func (q *Queue[T]) Cap() int        { return cap(q.ch) }
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }
