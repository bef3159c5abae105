package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/service"
)

type recordingPublisher struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func (p *recordingPublisher) Publish(cameraID string, payload []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.payloads == nil {
		p.payloads = make(map[string][][]byte)
	}
	p.payloads[cameraID] = append(p.payloads[cameraID], payload)
	return 1
}

func (p *recordingPublisher) count(cameraID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads[cameraID])
}

type controlMap map[string]*pipeline.Queue[pipeline.Command]

func (m controlMap) Control(cameraID string) (*pipeline.Queue[pipeline.Command], bool) {
	q, ok := m[cameraID]
	return q, ok
}

type transition struct {
	camera, from, to string
}

type memoryTransitions struct {
	mu   sync.Mutex
	rows []transition
	err  error
}

func (m *memoryTransitions) SaveAlertTransition(_ context.Context, cameraID, from, to string, _ []float64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, transition{cameraID, from, to})
	return m.err
}

type fixture struct {
	orch        *Orchestrator
	results     *pipeline.Queue[pipeline.Result]
	control     *pipeline.Queue[pipeline.Command]
	publisher   *recordingPublisher
	transitions *memoryTransitions
	metrics     *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		results:     pipeline.NewQueue[pipeline.Result]("results", 16, pipeline.PolicyBlock, nil),
		control:     pipeline.NewQueue[pipeline.Command]("control:cam_01", 16, pipeline.PolicyDropOldest, nil),
		publisher:   &recordingPublisher{},
		transitions: &memoryTransitions{},
		metrics:     metrics.New(),
	}
	orch, err := New(Config{
		Classes:        []string{"fight", "normal"},
		AlertThreshold: 0.6,
		ErrorBackoff:   time.Millisecond,
	}, Deps{
		Results:     f.results,
		Controls:    controlMap{"cam_01": f.control},
		Publisher:   f.publisher,
		Transitions: f.transitions,
		Metrics:     f.metrics,
	})
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *fixture) drainControl() []pipeline.Command {
	var out []pipeline.Command
	for {
		cmd, ok := f.control.TryReceive()
		if !ok {
			return out
		}
		out = append(out, cmd)
	}
}

func result(cameraID string, probs ...float64) pipeline.Result {
	return pipeline.Result{CameraID: cameraID, Probabilities: probs}
}

func TestTransition(t *testing.T) {
	probs := []float64{0.9, 0.1}
	tests := []struct {
		name  string
		state AlertState
		alert bool
		kinds []string
		next  AlertState
	}{
		{"idle stays idle", Idle, false, nil, Idle},
		{"idle starts recording", Idle, true, []string{"start_recording", "probability_update"}, Recording},
		{"recording keeps updating", Recording, true, []string{"probability_update"}, Recording},
		{"recording stops", Recording, false, []string{"stop_recording"}, Idle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Transition(tt.state, tt.alert, probs)
			var kinds []string
			for _, c := range d.Commands {
				kinds = append(kinds, c.Kind())
			}
			assert.Equal(t, tt.kinds, kinds)
			assert.Equal(t, tt.next, d.Next)
		})
	}
}

func TestNew_RequiresWiring(t *testing.T) {
	_, err := New(Config{Classes: []string{"fight"}}, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "result queue")

	_, err = New(Config{}, Deps{
		Results:   pipeline.NewQueue[pipeline.Result]("results", 1, pipeline.PolicyBlock, nil),
		Controls:  controlMap{},
		Publisher: &recordingPublisher{},
	})
	assert.Error(t, err)
}

func TestHandle_AlertSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.orch.Handle(ctx, result("cam_01", 0.7, 0.1)))
	cmds := f.drainControl()
	require.Len(t, cmds, 2)
	assert.Equal(t, pipeline.StartRecording{}, cmds[0])
	assert.Equal(t, pipeline.ProbabilityUpdate{Probabilities: []float64{0.7, 0.1}}, cmds[1])
	assert.Equal(t, Recording, f.orch.States().Get("cam_01"))

	require.NoError(t, f.orch.Handle(ctx, result("cam_01", 0.9, 0.2)))
	assert.Equal(t, []pipeline.Command{pipeline.ProbabilityUpdate{Probabilities: []float64{0.9, 0.2}}}, f.drainControl())

	require.NoError(t, f.orch.Handle(ctx, result("cam_01", 0.1, 0.1)))
	assert.Equal(t, []pipeline.Command{pipeline.StopRecording{}}, f.drainControl())
	assert.Equal(t, Idle, f.orch.States().Get("cam_01"))

	require.NoError(t, f.orch.Handle(ctx, result("cam_01", 0.2, 0.3)))
	assert.Empty(t, f.drainControl())

	assert.Equal(t, 4, f.publisher.count("cam_01"))
	assert.Equal(t, []transition{
		{"cam_01", "idle", "recording"},
		{"cam_01", "recording", "idle"},
	}, f.transitions.rows)
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(`
# HELP analytics_recording_active Recording state per camera (0=idle, 1=recording)
# TYPE analytics_recording_active gauge
analytics_recording_active{camera_id="cam_01"} 0
`), "analytics_recording_active"))
}

func TestHandle_PublishesSubscriberMessage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Handle(context.Background(), result("cam_01", 0.25, 0.75)))

	require.Equal(t, 1, f.publisher.count("cam_01"))
	var msg struct {
		CameraID      string             `json:"camera_id"`
		Probabilities map[string]float64 `json:"probabilities"`
	}
	require.NoError(t, json.Unmarshal(f.publisher.payloads["cam_01"][0], &msg))
	assert.Equal(t, "cam_01", msg.CameraID)
	assert.Equal(t, map[string]float64{"fight": 0.25, "normal": 0.75}, msg.Probabilities)
}

func TestHandle_ThresholdIsStrict(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Handle(context.Background(), result("cam_01", 0.6, 0.0)))
	assert.Empty(t, f.drainControl())
	assert.Equal(t, Idle, f.orch.States().Get("cam_01"))
}

func TestHandle_UnknownCameraStillPublishes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Handle(context.Background(), result("cam_09", 0.95, 0.0)))

	assert.Equal(t, 1, f.publisher.count("cam_09"))
	assert.Empty(t, f.drainControl())
	assert.Equal(t, Idle, f.orch.States().Get("cam_09"))
}

func TestHandle_RejectsVectorLengthMismatch(t *testing.T) {
	f := newFixture(t)
	err := f.orch.Handle(context.Background(), result("cam_01", 0.9))
	require.Error(t, err)
	assert.Equal(t, 0, f.publisher.count("cam_01"))
}

func TestHandle_TransitionStoreFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.transitions.err = errors.New("database is locked")

	require.NoError(t, f.orch.Handle(context.Background(), result("cam_01", 0.9, 0.0)))
	assert.Equal(t, Recording, f.orch.States().Get("cam_01"))
}

func TestRun_RecoversFromFailedIteration(t *testing.T) {
	f := newFixture(t)
	bus := service.NewEventBus(8)
	raised := bus.Subscribe(service.EventTypeAlertRaised)
	f.orch.SetEventBus(bus)

	var slept int
	f.orch.sleep = func(context.Context, time.Duration) error {
		slept++
		return nil
	}

	ctx := context.Background()
	require.NoError(t, f.results.Send(ctx, result("cam_01", 0.9)))
	require.NoError(t, f.results.Send(ctx, result("cam_01", 0.9, 0.0)))
	f.results.Close()

	require.NoError(t, f.orch.Run(ctx))

	assert.Equal(t, 1, slept)
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(`
# HELP analytics_orchestrator_errors_total Orchestrator iterations that failed
# TYPE analytics_orchestrator_errors_total counter
analytics_orchestrator_errors_total 1
`), "analytics_orchestrator_errors_total"))
	assert.Equal(t, Recording, f.orch.States().Get("cam_01"))

	select {
	case ev := <-raised:
		assert.Equal(t, "cam_01", ev.Data["camera_id"])
	case <-time.After(time.Second):
		t.Fatal("alert.raised not published")
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Start(context.Background()))
	require.NoError(t, f.results.Send(context.Background(), result("cam_01", 0.9, 0.0)))

	assert.Eventually(t, func() bool {
		return f.orch.States().Get("cam_01") == Recording
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.orch.Stop(ctx))
	assert.Equal(t, service.StatusStopped, f.orch.GetStatus().GetStatus())
}
