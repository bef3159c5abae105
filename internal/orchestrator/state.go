package orchestrator

import (
	"sync"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/pipeline"
)

// AlertState is the recording state of one camera.
type AlertState string

const (
	Idle      AlertState = "idle"
	Recording AlertState = "recording"
)

// StateStore holds the alert state of every camera. Only the orchestrator
// writes to it; other components read copies through Snapshot.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]AlertState
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]AlertState)}
}

// Get returns the state of cameraID. Unseen cameras are Idle.
func (s *StateStore) Get(cameraID string) AlertState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[cameraID]; ok {
		return st
	}
	return Idle
}

func (s *StateStore) set(cameraID string, st AlertState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[cameraID] = st
}

// Snapshot returns a copy of every known camera state.
func (s *StateStore) Snapshot() map[string]AlertState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]AlertState, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out
}

// Decision is the outcome of one state machine step.
type Decision struct {
	Commands []pipeline.Command
	Next     AlertState
}

// Transition applies the recording hysteresis to one observation:
//
//	Idle      + alert    -> StartRecording, ProbabilityUpdate; Recording
//	Recording + alert    -> ProbabilityUpdate;                 Recording
//	Recording + no alert -> StopRecording;                     Idle
//	Idle      + no alert -> nothing;                           Idle
func Transition(state AlertState, alert bool, probabilities []float64) Decision {
	switch {
	case alert && state != Recording:
		return Decision{
			Commands: []pipeline.Command{
				pipeline.StartRecording{},
				pipeline.ProbabilityUpdate{Probabilities: probabilities},
			},
			Next: Recording,
		}
	case alert:
		return Decision{
			Commands: []pipeline.Command{pipeline.ProbabilityUpdate{Probabilities: probabilities}},
			Next:     Recording,
		}
	case state == Recording:
		return Decision{
			Commands: []pipeline.Command{pipeline.StopRecording{}},
			Next:     Idle,
		}
	default:
		return Decision{Next: Idle}
	}
}
