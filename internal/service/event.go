package service

import (
	"context"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// System events
	EventTypeServiceStarted EventType = "service.started"
	EventTypeServiceStopped EventType = "service.stopped"
	EventTypeServiceError   EventType = "service.error"

	// Worker events
	EventTypeWorkerStarted EventType = "worker.started"
	EventTypeWorkerStopped EventType = "worker.stopped"
	EventTypeWorkerFailed  EventType = "worker.failed"

	// Alert events
	EventTypeAlertRaised  EventType = "alert.raised"
	EventTypeAlertCleared EventType = "alert.cleared"

	// Recording events
	EventTypeRecordingOpened EventType = "recording.opened"
	EventTypeRecordingClosed EventType = "recording.closed"
)

// Event represents an event in the system
type Event struct {
	Type      EventType
	Source    string // Service that emitted the event
	Timestamp time.Time
	Data      map[string]interface{}
}

// EventBus provides inter-service communication via events. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type EventBus struct {
	subscribers map[EventType][]chan Event
	all         []chan Event
	closed      bool
	mu          sync.RWMutex
	bufferSize  int
}

// NewEventBus creates a new event bus
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe subscribes to events of a specific type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	if eb.closed {
		close(ch)
		return ch
	}
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll subscribes to every event type, including types first
// published after the subscription.
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	if eb.closed {
		close(ch)
		return ch
	}
	eb.all = append(eb.all, ch)
	return ch
}

// Publish publishes an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		trySend(sub, event)
	}
	for _, sub := range eb.all {
		trySend(sub, event)
	}
}

func trySend(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
	}
}

// Unsubscribe removes a subscription created by Subscribe or SubscribeAll
// and closes its channel.
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subs := eb.subscribers[eventType]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
	for i, sub := range eb.all {
		if sub == ch {
			eb.all = append(eb.all[:i], eb.all[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close closes all subscriptions. Later publishes are dropped.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for eventType, subs := range eb.subscribers {
		for _, sub := range subs {
			close(sub)
		}
		delete(eb.subscribers, eventType)
	}
	for _, sub := range eb.all {
		close(sub)
	}
	eb.all = nil
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// SubscribeWithHandler runs handler for each event of eventType until ctx is
// done. Handler errors are passed to onError when it is non-nil.
func (eb *EventBus) SubscribeWithHandler(ctx context.Context, eventType EventType, handler EventHandler, onError func(Event, error)) {
	ch := eb.Subscribe(eventType)
	go func() {
		defer eb.Unsubscribe(eventType, ch)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, event); err != nil && onError != nil {
					onError(event, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
