// Package pipeline holds the data model shared by camera workers, the
// classifier service and the recording orchestrator, and the bounded queues
// connecting them.
package pipeline

import (
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/tensor"
)

// Command is a control message from the orchestrator to one camera worker.
// The set of implementations is closed: StartRecording, StopRecording and
// ProbabilityUpdate.
type Command interface {
	command()
	Kind() string
}

// StartRecording asks the worker to open a recording session.
type StartRecording struct{}

// StopRecording asks the worker to close its recording session.
type StopRecording struct{}

// ProbabilityUpdate carries the latest probability vector for annotating
// an open recording.
type ProbabilityUpdate struct {
	Probabilities []float64
}

func (StartRecording) command()    {}
func (StopRecording) command()     {}
func (ProbabilityUpdate) command() {}

func (StartRecording) Kind() string    { return "start_recording" }
func (StopRecording) Kind() string     { return "stop_recording" }
func (ProbabilityUpdate) Kind() string { return "probability_update" }

// InferenceJob is one clip dispatched for heavy classification.
type InferenceJob struct {
	CameraID  string
	Clip      *tensor.Clip
	FrameSeq  uint64
	CreatedAt time.Time
}

// Result is a probability vector for one camera, ordered like the configured
// class list. It comes either from the classifier or from a worker's bypass
// path; consumers cannot tell the two apart.
type Result struct {
	CameraID      string
	Probabilities []float64
	ObservedAt    time.Time
}

// NeutralProbabilities returns an all-zero vector of length n.
func NeutralProbabilities(n int) []float64 {
	return make([]float64, n)
}

// IsAlert reports whether any probability is strictly above threshold.
func IsAlert(probabilities []float64, threshold float64) bool {
	for _, p := range probabilities {
		if p > threshold {
			return true
		}
	}
	return false
}
