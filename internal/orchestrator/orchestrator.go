// Package orchestrator turns classification results into recording control
// commands and live subscriber updates.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/broadcast"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/service"
)

// Publisher fans a payload out to the subscribers of a camera.
type Publisher interface {
	Publish(cameraID string, payload []byte) int
}

// ControlLookup finds the control queue of a camera.
type ControlLookup interface {
	Control(cameraID string) (*pipeline.Queue[pipeline.Command], bool)
}

// TransitionStore persists alert state changes.
type TransitionStore interface {
	SaveAlertTransition(ctx context.Context, cameraID, from, to string, probabilities []float64, at time.Time) error
}

// Config holds the values the orchestrator needs from the pipeline section.
type Config struct {
	Classes        []string
	AlertThreshold float64
	ErrorBackoff   time.Duration
}

// Deps wires the orchestrator. Results, Controls and Publisher are required.
type Deps struct {
	Results     *pipeline.Queue[pipeline.Result]
	Controls    ControlLookup
	Publisher   Publisher
	Transitions TransitionStore
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
}

// Orchestrator is the single owner of per-camera alert state.
type Orchestrator struct {
	*service.ServiceBase
	cfg    Config
	deps   Deps
	states *StateStore
	cancel context.CancelFunc
	done   chan struct{}
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// New validates the wiring.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	var missing []string
	if deps.Results == nil {
		missing = append(missing, "result queue")
	}
	if deps.Controls == nil {
		missing = append(missing, "control channels")
	}
	if deps.Publisher == nil {
		missing = append(missing, "subscriber registry")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("orchestrator: missing %v", missing)
	}
	if len(cfg.Classes) == 0 {
		return nil, errors.New("orchestrator: class list is empty")
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}

	return &Orchestrator{
		ServiceBase: service.NewServiceBase("orchestrator", deps.Logger),
		cfg:         cfg,
		deps:        deps,
		states:      NewStateStore(),
		sleep:       sleepContext,
		now:         time.Now,
	}, nil
}

// States returns the alert state store for read-only use.
func (o *Orchestrator) States() *StateStore {
	return o.states
}

// Start runs the loop in the background.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.GetStatus().SetStatus(service.StatusStarting)
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})

	go func() {
		defer close(o.done)
		_ = o.Run(ctx)
	}()

	o.GetStatus().SetStatus(service.StatusRunning)
	o.LogInfo("Orchestrator started", "classes", len(o.cfg.Classes), "alert_threshold", o.cfg.AlertThreshold)
	return nil
}

// Stop ends the loop.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.GetStatus().SetStatus(service.StatusStopping)
	if o.cancel != nil {
		o.cancel()
	}
	if o.done != nil {
		select {
		case <-o.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	o.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Run handles results until ctx is cancelled or the result queue is closed
// and drained. A failing iteration is logged and followed by a backoff.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		res, err := o.deps.Results.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, pipeline.ErrQueueClosed) {
				return nil
			}
			o.fail(ctx, fmt.Errorf("receive result: %w", err))
			continue
		}

		if err := o.handleSafely(ctx, res); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.fail(ctx, err)
		}
	}
}

func (o *Orchestrator) fail(ctx context.Context, err error) {
	o.LogError("Orchestrator iteration failed", err)
	o.deps.Metrics.OrchestratorError()
	_ = o.sleep(ctx, o.cfg.ErrorBackoff)
}

func (o *Orchestrator) handleSafely(ctx context.Context, res pipeline.Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling result for %s: %v", res.CameraID, r)
		}
	}()
	return o.Handle(ctx, res)
}

// Handle processes one result: publish to subscribers, then drive the
// camera's recording state machine.
func (o *Orchestrator) Handle(ctx context.Context, res pipeline.Result) error {
	if len(res.Probabilities) != len(o.cfg.Classes) {
		return fmt.Errorf("camera %s: got %d probabilities for %d classes",
			res.CameraID, len(res.Probabilities), len(o.cfg.Classes))
	}
	o.deps.Metrics.Result(res.CameraID)

	payload, err := broadcast.NewMessage(res.CameraID, o.cfg.Classes, res.Probabilities).Encode()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	o.deps.Publisher.Publish(res.CameraID, payload)

	alert := pipeline.IsAlert(res.Probabilities, o.cfg.AlertThreshold)
	current := o.states.Get(res.CameraID)

	control, ok := o.deps.Controls.Control(res.CameraID)
	if !ok {
		o.LogWarn("No control channel for camera", "camera_id", res.CameraID)
		return nil
	}

	decision := Transition(current, alert, res.Probabilities)
	for _, cmd := range decision.Commands {
		if err := control.Send(ctx, cmd); err != nil {
			return fmt.Errorf("camera %s: send %s: %w", res.CameraID, cmd.Kind(), err)
		}
	}

	if decision.Next != current {
		o.states.set(res.CameraID, decision.Next)
		o.recordTransition(ctx, res, current, decision.Next)
	}
	return nil
}

func (o *Orchestrator) recordTransition(ctx context.Context, res pipeline.Result, from, to AlertState) {
	o.deps.Metrics.SetRecording(res.CameraID, to == Recording)

	eventType := service.EventTypeAlertCleared
	if to == Recording {
		eventType = service.EventTypeAlertRaised
	}
	o.PublishEvent(eventType, map[string]interface{}{
		"camera_id":     res.CameraID,
		"probabilities": res.Probabilities,
	})
	o.LogInfo("Alert state changed", "camera_id", res.CameraID, "from", string(from), "to", string(to))

	if o.deps.Transitions == nil {
		return
	}
	if err := o.deps.Transitions.SaveAlertTransition(ctx, res.CameraID, string(from), string(to), res.Probabilities, o.now()); err != nil {
		o.LogWarn("Failed to persist alert transition", "camera_id", res.CameraID, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
