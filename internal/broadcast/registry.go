// Package broadcast keeps the live subscribers of each camera and fans
// prediction messages out to them.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
)

// ErrRegistryClosed is returned by Join after Close.
var ErrRegistryClosed = errors.New("subscriber registry closed")

// Message is the payload delivered to subscribers for every result.
type Message struct {
	CameraID      string             `json:"camera_id"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// NewMessage labels probabilities with classes. Extra values beyond the
// class list are reported as class_<i>.
func NewMessage(cameraID string, classes []string, probabilities []float64) Message {
	labelled := make(map[string]float64, len(probabilities))
	for i, p := range probabilities {
		name := fmt.Sprintf("class_%d", i)
		if i < len(classes) {
			name = classes[i]
		}
		labelled[name] = p
	}
	return Message{CameraID: cameraID, Probabilities: labelled}
}

// Encode returns the JSON form of m.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Sink is the transport of one subscriber.
type Sink interface {
	Send(payload []byte) error
	Close() error
}

// Subscriber is one member of a camera's subscriber set. Each subscriber has
// its own outbox drained by a dedicated writer goroutine.
type Subscriber struct {
	ID       string
	CameraID string

	sink     Sink
	outbox   chan []byte
	done     chan struct{}
	once     sync.Once
	registry *Registry
}

// Done is closed when the subscriber has been removed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.outbox:
			if err := s.sink.Send(payload); err != nil {
				s.registry.remove(s, fmt.Errorf("send: %w", err), false)
				return
			}
		}
	}
}

// Registry maps camera ids to their subscriber sets. Join, Leave and Publish
// may be called concurrently.
type Registry struct {
	logger     *logger.Logger
	outboxSize int
	mu         sync.RWMutex
	sets       map[string]map[string]*Subscriber
	closed     bool
	onChange   func(cameraID string, count int)
}

// NewRegistry creates a registry whose subscribers buffer up to outboxSize
// undelivered messages.
func NewRegistry(outboxSize int, log *logger.Logger) *Registry {
	if outboxSize < 1 {
		outboxSize = 1
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Registry{
		logger:     log,
		outboxSize: outboxSize,
		sets:       make(map[string]map[string]*Subscriber),
	}
}

// OnChange registers fn to be told the new subscriber count of a camera
// after every join or removal. It must be set before the registry is used.
func (r *Registry) OnChange(fn func(cameraID string, count int)) {
	r.onChange = fn
}

// Join adds sink to the subscriber set of cameraID.
func (r *Registry) Join(cameraID string, sink Sink) (*Subscriber, error) {
	sub := &Subscriber{
		ID:       uuid.New().String(),
		CameraID: cameraID,
		sink:     sink,
		outbox:   make(chan []byte, r.outboxSize),
		done:     make(chan struct{}),
		registry: r,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	set, ok := r.sets[cameraID]
	if !ok {
		set = make(map[string]*Subscriber)
		r.sets[cameraID] = set
	}
	set[sub.ID] = sub
	count := len(set)
	r.mu.Unlock()

	go sub.writeLoop()

	r.logger.Info("Subscriber joined", "camera_id", cameraID, "subscriber_id", sub.ID, "subscribers", count)
	r.notify(cameraID, count)
	return sub, nil
}

// Leave removes sub and closes its sink. It is safe to call more than once.
func (r *Registry) Leave(sub *Subscriber) {
	r.remove(sub, nil, false)
}

// remove drops sub from its set. With closeAsync the sink is closed on its
// own goroutine so the caller never waits on a stuck transport.
func (r *Registry) remove(sub *Subscriber, cause error, closeAsync bool) {
	first := false
	sub.once.Do(func() {
		first = true
		close(sub.done)
	})
	if !first {
		return
	}

	r.mu.Lock()
	count := 0
	if set, ok := r.sets[sub.CameraID]; ok {
		delete(set, sub.ID)
		count = len(set)
		if count == 0 {
			delete(r.sets, sub.CameraID)
		}
	}
	r.mu.Unlock()

	if closeAsync {
		go sub.sink.Close()
	} else {
		_ = sub.sink.Close()
	}

	if cause != nil {
		r.logger.Warn("Subscriber removed", "camera_id", sub.CameraID, "subscriber_id", sub.ID, "error", cause)
	} else {
		r.logger.Info("Subscriber left", "camera_id", sub.CameraID, "subscriber_id", sub.ID, "subscribers", count)
	}
	r.notify(sub.CameraID, count)
}

func (r *Registry) notify(cameraID string, count int) {
	if r.onChange != nil {
		r.onChange(cameraID, count)
	}
}

// Publish queues payload for every current subscriber of cameraID and
// returns how many accepted it. It never waits on a subscriber; one whose
// outbox is full is removed.
func (r *Registry) Publish(cameraID string, payload []byte) int {
	var stalled []*Subscriber
	delivered := 0

	r.mu.RLock()
	for _, sub := range r.sets[cameraID] {
		select {
		case sub.outbox <- payload:
			delivered++
		default:
			stalled = append(stalled, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range stalled {
		r.remove(sub, errors.New("outbox full"), true)
	}
	return delivered
}

// Count returns the number of subscribers of cameraID.
func (r *Registry) Count(cameraID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sets[cameraID])
}

// Counts returns the subscriber count of every camera that has any.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.sets))
	for id, set := range r.sets {
		out[id] = len(set)
	}
	return out
}

// Close removes every subscriber and rejects further joins.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	var all []*Subscriber
	for _, set := range r.sets {
		for _, sub := range set {
			all = append(all, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range all {
		r.remove(sub, nil, false)
	}
}
