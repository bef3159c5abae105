// Package worker implements the per-camera ingestion loop: it reads frames,
// keeps the lookback and inference windows, applies control commands to the
// camera's recording session and decides per stride whether a clip is worth
// heavy classification.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/buffer"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/tensor"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/video"
)

// maxPlausibleRate is the largest advertised frame rate taken at face value.
const maxPlausibleRate = 1000

// ClipBuilder turns the inference window into a clip tensor.
type ClipBuilder interface {
	Build(frames []video.Frame) (*tensor.Clip, error)
}

// RecordingOpener opens recording sessions.
type RecordingOpener interface {
	Open(cameraID string, lookback []video.Frame, rate float64) (video.RecordingWriter, error)
}

// SourceOpener resolves the frame source for a reader kind and its paths.
type SourceOpener func(ctx context.Context, kind string, paths []string) (video.Source, error)

// PreFilterResolver resolves the pre-filter used by one worker.
type PreFilterResolver func(ctx context.Context) (ai.SubjectCounter, error)

// Settings are the pipeline values injected into every worker.
type Settings struct {
	NumClasses          int
	ClipSeconds         float64
	TargetFPS           float64
	LookbackSeconds     float64
	Stride              int
	SubjectGate         int
	MaxCommandsPerFrame int
}

// SettingsFromConfig derives worker settings from the pipeline section.
func SettingsFromConfig(p config.PipelineConfig) Settings {
	return Settings{
		NumClasses:          len(p.Classes),
		ClipSeconds:         p.ClipSeconds(),
		TargetFPS:           p.TargetFPS,
		LookbackSeconds:     p.LookbackSeconds,
		Stride:              p.Stride,
		SubjectGate:         p.SubjectGate,
		MaxCommandsPerFrame: p.MaxCommandsPerFrame,
	}
}

// Deps wires a worker to its collaborators.
type Deps struct {
	Camera           config.CameraConfig
	OpenSource       SourceOpener
	ResolvePreFilter PreFilterResolver
	Clips            ClipBuilder
	Recorder         RecordingOpener
	Control          *pipeline.Queue[pipeline.Command]
	Inference        *pipeline.Queue[pipeline.InferenceJob]
	Results          *pipeline.Queue[pipeline.Result]
	Metrics          *metrics.Metrics
	Logger           *logger.Logger
	// Publish, when set, receives recording lifecycle events.
	Publish func(eventType service.EventType, data map[string]interface{})
}

// Worker is the ingestion loop of one camera. A Worker runs once.
type Worker struct {
	settings Settings
	deps     Deps
	logger   *logger.Logger

	rate      float64
	lookback  *buffer.Sliding[video.Frame]
	window    *buffer.Sliding[video.Frame]
	counter   uint64
	lastKnown []float64
	session   video.RecordingWriter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates the wiring and returns a worker ready to Run.
func New(settings Settings, deps Deps) (*Worker, error) {
	switch {
	case deps.Camera.ID == "":
		return nil, errors.New("worker: camera id is required")
	case deps.OpenSource == nil:
		return nil, errors.New("worker: source opener is required")
	case deps.ResolvePreFilter == nil:
		return nil, errors.New("worker: pre-filter resolver is required")
	case deps.Clips == nil:
		return nil, errors.New("worker: clip builder is required")
	case deps.Recorder == nil:
		return nil, errors.New("worker: recorder is required")
	case deps.Control == nil || deps.Inference == nil || deps.Results == nil:
		return nil, errors.New("worker: control, inference and result queues are required")
	}
	if settings.Stride < 1 {
		settings.Stride = 1
	}
	if settings.MaxCommandsPerFrame < 1 {
		settings.MaxCommandsPerFrame = 1
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Worker{
		settings:  settings,
		deps:      deps,
		logger:    log.With("camera_id", deps.Camera.ID),
		lastKnown: pipeline.NeutralProbabilities(settings.NumClasses),
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

// CameraID returns the camera this worker serves.
func (w *Worker) CameraID() string {
	return w.deps.Camera.ID
}

// EffectiveRate returns advertised when it is plausible and target otherwise.
func EffectiveRate(advertised, target float64) float64 {
	if advertised <= 0 || advertised > maxPlausibleRate || math.IsNaN(advertised) {
		return target
	}
	return advertised
}

// WindowSize converts a duration in seconds to a frame count at rate,
// rounding to the nearest frame and never returning less than one.
func WindowSize(seconds, rate float64) int {
	n := int(math.Round(seconds * rate))
	if n < 1 {
		return 1
	}
	return n
}

// Run resolves the pre-filter and the frame source, then processes frames
// until the stream ends or ctx is cancelled. Both of those return nil. Any
// open recording is closed and the source released on every exit path.
func (w *Worker) Run(ctx context.Context) error {
	cam := w.deps.Camera

	prefilter, err := w.deps.ResolvePreFilter(ctx)
	if err != nil {
		return fmt.Errorf("camera %s: resolve pre-filter: %w", cam.ID, err)
	}

	src, err := w.deps.OpenSource(ctx, cam.Reader, cam.Paths)
	if err != nil {
		return fmt.Errorf("camera %s: open source: %w", cam.ID, err)
	}
	defer w.shutdown(src)

	w.rate = EffectiveRate(src.FrameRate(), w.settings.TargetFPS)
	w.window = buffer.NewSliding[video.Frame](WindowSize(w.settings.ClipSeconds, w.rate))
	w.lookback = buffer.NewSliding[video.Frame](WindowSize(w.settings.LookbackSeconds, w.rate))

	w.logger.Info("Camera worker started",
		"reader", cam.Reader,
		"advertised_rate", src.FrameRate(),
		"rate", w.rate,
		"window", w.window.Cap(),
		"lookback", w.lookback.Cap(),
		"stride", w.settings.Stride,
	)

	interval := time.Duration(float64(time.Second) / w.rate)
	for {
		start := w.now()

		frame, err := src.Read(ctx)
		if err != nil {
			switch {
			case errors.Is(err, video.ErrEndOfStream):
				w.logger.Info("Frame source exhausted", "frames", w.counter)
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				return fmt.Errorf("camera %s: read frame: %w", cam.ID, err)
			}
		}

		w.step(ctx, prefilter, frame)

		if remaining := interval - w.now().Sub(start); remaining > 0 {
			if err := w.sleep(ctx, remaining); err != nil {
				return nil
			}
		}
	}
}

// step runs one loop iteration for a frame that was just read.
func (w *Worker) step(ctx context.Context, prefilter ai.SubjectCounter, frame video.Frame) {
	w.counter++
	w.deps.Metrics.FrameRead(w.deps.Camera.ID)

	w.lookback.Push(frame)
	w.window.Push(frame)

	w.drainCommands()

	if w.session != nil {
		if err := w.session.AddFrame(frame, w.lastKnown); err != nil {
			w.logger.Warn("Failed to append frame to recording", "seq", frame.Seq, "error", err)
		}
	}

	if w.window.Full() && w.counter%uint64(w.settings.Stride) == 0 {
		w.dispatch(ctx, prefilter, frame)
	}
}

// drainCommands applies the commands already queued, without waiting and at
// most MaxCommandsPerFrame of them.
func (w *Worker) drainCommands() {
	for i := 0; i < w.settings.MaxCommandsPerFrame; i++ {
		cmd, ok := w.deps.Control.TryReceive()
		if !ok {
			return
		}

		switch c := cmd.(type) {
		case pipeline.ProbabilityUpdate:
			w.lastKnown = c.Probabilities
		case pipeline.StartRecording:
			if w.session != nil {
				continue
			}
			session, err := w.deps.Recorder.Open(w.deps.Camera.ID, w.lookback.Snapshot(), w.rate)
			if err != nil {
				w.logger.Error("Failed to open recording", "error", err)
				continue
			}
			w.session = session
			w.publish(service.EventTypeRecordingOpened, map[string]interface{}{"lookback_frames": w.lookback.Len()})
		case pipeline.StopRecording:
			w.closeSession()
		}
	}
}

func (w *Worker) closeSession() {
	if w.session == nil {
		return
	}
	if err := w.session.Close(); err != nil {
		w.logger.Warn("Recording closed with error", "error", err)
	}
	w.session = nil
	w.publish(service.EventTypeRecordingClosed, nil)
}

// dispatch runs the pre-filter on frame and either submits the inference
// window for classification or publishes a neutral result. No failure here
// is fatal to the worker.
func (w *Worker) dispatch(ctx context.Context, prefilter ai.SubjectCounter, frame video.Frame) {
	camID := w.deps.Camera.ID
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Dispatch panicked", "seq", frame.Seq, "panic", fmt.Sprint(r))
			w.deps.Metrics.Dispatch(camID, metrics.OutcomePreFilter)
		}
	}()

	count, err := prefilter.CountSubjects(ctx, frame)
	if err != nil {
		w.logger.Warn("Pre-filter failed, skipping dispatch", "seq", frame.Seq, "error", err)
		w.deps.Metrics.Dispatch(camID, metrics.OutcomePreFilter)
		return
	}

	if count < w.settings.SubjectGate {
		neutral := pipeline.NeutralProbabilities(w.settings.NumClasses)
		w.lastKnown = neutral
		result := pipeline.Result{CameraID: camID, Probabilities: neutral, ObservedAt: w.now()}
		if err := w.deps.Results.Send(ctx, result); err != nil {
			w.logger.Debug("Neutral result not delivered", "error", err)
			return
		}
		w.deps.Metrics.Dispatch(camID, metrics.OutcomeBypass)
		return
	}

	clip, err := w.deps.Clips.Build(w.window.Snapshot())
	if err != nil {
		w.logger.Warn("Failed to build clip", "seq", frame.Seq, "error", err)
		w.deps.Metrics.Dispatch(camID, metrics.OutcomeBuildFailed)
		return
	}
	if !clip.AllFinite() {
		w.logger.Warn("Dropping clip with non-finite values", "seq", frame.Seq)
		w.deps.Metrics.Dispatch(camID, metrics.OutcomeNonFinite)
		return
	}

	job := pipeline.InferenceJob{CameraID: camID, Clip: clip, FrameSeq: frame.Seq, CreatedAt: w.now()}
	if err := w.deps.Inference.Send(ctx, job); err != nil {
		w.logger.Debug("Inference job not delivered", "error", err)
		return
	}
	w.deps.Metrics.Dispatch(camID, metrics.OutcomeSubmitted)
	w.logger.Debug("Clip dispatched", "seq", frame.Seq, "subjects", count)
}

func (w *Worker) shutdown(src video.Source) {
	w.closeSession()
	if err := src.Release(); err != nil {
		w.logger.Warn("Failed to release frame source", "error", err)
	}
	w.logger.Info("Camera worker stopped", "frames", w.counter)
}

func (w *Worker) publish(eventType service.EventType, data map[string]interface{}) {
	if w.deps.Publish == nil {
		return
	}
	if data == nil {
		data = make(map[string]interface{})
	}
	data["camera_id"] = w.deps.Camera.ID
	w.deps.Publish(eventType, data)
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
