package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/config"
)

// Topology owns every queue in the pipeline: the shared inference queue,
// the shared result queue and one control queue per camera.
type Topology struct {
	Inference *Queue[InferenceJob]
	Results   *Queue[Result]

	controlCfg config.QueueConfig
	onDrop     DropFunc
	control    map[string]*Queue[Command]
	mu         sync.RWMutex
}

// NewTopology builds the shared queues and a control queue for each camera.
func NewTopology(cfg config.QueuesConfig, cameraIDs []string, onDrop DropFunc) (*Topology, error) {
	inferencePolicy, err := ParsePolicy(cfg.Inference.Policy)
	if err != nil {
		return nil, fmt.Errorf("inference queue: %w", err)
	}
	resultsPolicy, err := ParsePolicy(cfg.Results.Policy)
	if err != nil {
		return nil, fmt.Errorf("results queue: %w", err)
	}
	if _, err := ParsePolicy(cfg.Control.Policy); err != nil {
		return nil, fmt.Errorf("control queue: %w", err)
	}

	t := &Topology{
		Inference:  NewQueue[InferenceJob]("inference", cfg.Inference.Capacity, inferencePolicy, onDrop),
		Results:    NewQueue[Result]("results", cfg.Results.Capacity, resultsPolicy, onDrop),
		controlCfg: cfg.Control,
		onDrop:     onDrop,
		control:    make(map[string]*Queue[Command], len(cameraIDs)),
	}
	for _, id := range cameraIDs {
		t.AddCamera(id)
	}
	return t, nil
}

// AddCamera registers a control queue for cameraID and returns it. Adding an
// existing camera returns the queue already registered.
func (t *Topology) AddCamera(cameraID string) *Queue[Command] {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q, ok := t.control[cameraID]; ok {
		return q
	}
	q := NewQueue[Command]("control:"+cameraID, t.controlCfg.Capacity, Policy(t.controlCfg.Policy), t.onDrop).
		WithExpendable(isProbabilityUpdate)
	t.control[cameraID] = q
	return q
}

// A full control queue sheds annotation updates before recording commands,
// so the latest StartRecording or StopRecording always reaches the worker.
func isProbabilityUpdate(c Command) bool {
	_, ok := c.(ProbabilityUpdate)
	return ok
}

// Control returns the control queue for cameraID.
func (t *Topology) Control(cameraID string) (*Queue[Command], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.control[cameraID]
	return q, ok
}

// CameraIDs lists cameras with a control queue, sorted.
func (t *Topology) CameraIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.control))
	for id := range t.control {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Depths reports the current length of every queue, keyed by queue name.
func (t *Topology) Depths() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	depths := map[string]int{
		t.Inference.Name(): t.Inference.Len(),
		t.Results.Name():   t.Results.Len(),
	}
	for _, q := range t.control {
		depths[q.Name()] = q.Len()
	}
	return depths
}

// Close closes every queue.
func (t *Topology) Close() {
	t.Inference.Close()
	t.Results.Close()
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, q := range t.control {
		q.Close()
	}
}
