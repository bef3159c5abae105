package video

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
)

// ErrWriterClosed is returned by AddFrame after Close.
var ErrWriterClosed = errors.New("recording writer closed")

// RecordingWriter is an open recording session.
type RecordingWriter interface {
	// AddFrame appends a frame annotated with the latest probabilities.
	AddFrame(frame Frame, probabilities []float64) error
	// Close finalizes the recording. Calls after the first are no-ops.
	Close() error
}

// EncoderProcess receives concatenated JPEG images until Close.
type EncoderProcess interface {
	io.WriteCloser
}

// EncoderStarter starts a video encoder writing to output.
type EncoderStarter interface {
	StartEncoder(output string, frameRate float64, codec string, quality int) (EncoderProcess, error)
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Dir          string
	Codec        string
	Quality      int
	WriteSidecar bool
	Classes      []string
}

// RecordingInfo describes a finished recording.
type RecordingInfo struct {
	ID                string
	CameraID          string
	Path              string
	SidecarPath       string
	StartedAt         time.Time
	EndedAt           time.Time
	Frames            int
	LookbackFrames    int
	FrameRate         float64
	SizeBytes         int64
	PeakProbabilities map[string]float64
	// PeakFrame is the frame annotated with the highest probability, or the
	// first frame when none was annotated.
	PeakFrame Frame
}

// Recorder opens recording sessions backed by an encoder process.
type Recorder struct {
	cfg      RecorderConfig
	encoder  EncoderStarter
	logger   *logger.Logger
	mu       sync.RWMutex
	onClosed []func(RecordingInfo)
	now      func() time.Time
}

// NewRecorder creates a recorder.
func NewRecorder(cfg RecorderConfig, encoder EncoderStarter, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Recorder{
		cfg:     cfg,
		encoder: encoder,
		logger:  log,
		now:     time.Now,
	}
}

// OnClosed registers fn to run after every recording is finalized.
func (r *Recorder) OnClosed(fn func(RecordingInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClosed = append(r.onClosed, fn)
}

// Open starts a recording seeded with the lookback frames at the given rate.
func (r *Recorder) Open(cameraID string, lookback []Frame, rate float64) (RecordingWriter, error) {
	started := r.now()
	id := uuid.New().String()

	dir := filepath.Join(r.cfg.Dir, cameraID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}
	base := fmt.Sprintf("%s_%s", started.UTC().Format("20060102T150405Z"), id[:8])
	path := filepath.Join(dir, base+".mp4")

	enc, err := r.encoder.StartEncoder(path, rate, r.cfg.Codec, r.cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("start recording %s: %w", cameraID, err)
	}

	w := &clipWriter{
		recorder: r,
		enc:      enc,
		info: RecordingInfo{
			ID:             id,
			CameraID:       cameraID,
			Path:           path,
			StartedAt:      started,
			LookbackFrames: len(lookback),
			FrameRate:      rate,
		},
		peaks: make(map[string]float64),
	}
	if r.cfg.WriteSidecar {
		w.info.SidecarPath = filepath.Join(dir, base+".json")
	}

	for _, f := range lookback {
		if err := w.write(f, nil); err != nil {
			w.abort()
			return nil, err
		}
	}

	r.logger.Info("Recording opened", "camera_id", cameraID, "recording_id", id, "lookback_frames", len(lookback), "frame_rate", rate)
	return w, nil
}

type sidecarFrame struct {
	Seq           uint64             `json:"seq"`
	Timestamp     time.Time          `json:"timestamp"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
}

type sidecar struct {
	ID             string         `json:"id"`
	CameraID       string         `json:"camera_id"`
	FrameRate      float64        `json:"frame_rate"`
	LookbackFrames int            `json:"lookback_frames"`
	Classes        []string       `json:"classes"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `json:"ended_at"`
	Frames         []sidecarFrame `json:"frames"`
}

type clipWriter struct {
	recorder *Recorder
	enc      EncoderProcess
	info     RecordingInfo
	frames   []sidecarFrame
	peaks    map[string]float64
	peakMax  float64
	mu       sync.Mutex
	closed   bool
	closeErr error
}

func (w *clipWriter) AddFrame(frame Frame, probabilities []float64) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrWriterClosed
	}
	return w.write(frame, probabilities)
}

func (w *clipWriter) write(frame Frame, probabilities []float64) error {
	if _, err := w.enc.Write(frame.Data); err != nil {
		return fmt.Errorf("write frame %d: %w", frame.Seq, err)
	}
	w.info.Frames++
	if w.info.Frames == 1 {
		w.info.PeakFrame = frame
	}

	entry := sidecarFrame{Seq: frame.Seq, Timestamp: frame.Timestamp}
	if probabilities != nil {
		entry.Probabilities = w.labelled(probabilities)
		for class, p := range entry.Probabilities {
			if p > w.peaks[class] {
				w.peaks[class] = p
			}
			if p > w.peakMax {
				w.peakMax = p
				w.info.PeakFrame = frame
			}
		}
	}
	if w.info.SidecarPath != "" {
		w.frames = append(w.frames, entry)
	}
	return nil
}

func (w *clipWriter) labelled(probabilities []float64) map[string]float64 {
	classes := w.recorder.cfg.Classes
	out := make(map[string]float64, len(probabilities))
	for i, p := range probabilities {
		name := fmt.Sprintf("class_%d", i)
		if i < len(classes) {
			name = classes[i]
		}
		out[name] = p
	}
	return out
}

func (w *clipWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	var errs []string
	if err := w.enc.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	w.info.EndedAt = w.recorder.now()
	if fi, err := os.Stat(w.info.Path); err == nil {
		w.info.SizeBytes = fi.Size()
	}
	w.info.PeakProbabilities = w.peaks

	if w.info.SidecarPath != "" {
		if err := w.writeSidecar(); err != nil {
			errs = append(errs, err.Error())
			w.info.SidecarPath = ""
		}
	}

	log := w.recorder.logger
	if len(errs) > 0 {
		w.closeErr = fmt.Errorf("close recording %s: %s", w.info.ID, strings.Join(errs, "; "))
		log.Error("Recording closed with errors", "camera_id", w.info.CameraID, "recording_id", w.info.ID, "error", w.closeErr)
	} else {
		log.Info("Recording closed", "camera_id", w.info.CameraID, "recording_id", w.info.ID, "frames", w.info.Frames)
	}

	w.recorder.mu.RLock()
	hooks := append([]func(RecordingInfo){}, w.recorder.onClosed...)
	w.recorder.mu.RUnlock()
	for _, fn := range hooks {
		fn(w.info)
	}
	return w.closeErr
}

// abort discards a recording that failed while opening. Close hooks do not
// run, so nothing is cataloged.
func (w *clipWriter) abort() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	_ = w.enc.Close()
	if err := os.Remove(w.info.Path); err != nil && !os.IsNotExist(err) {
		w.recorder.logger.Warn("Failed to remove aborted recording", "camera_id", w.info.CameraID, "path", w.info.Path, "error", err)
	}
	w.recorder.logger.Warn("Recording aborted while writing lookback", "camera_id", w.info.CameraID, "recording_id", w.info.ID)
}

func (w *clipWriter) writeSidecar() error {
	doc := sidecar{
		ID:             w.info.ID,
		CameraID:       w.info.CameraID,
		FrameRate:      w.info.FrameRate,
		LookbackFrames: w.info.LookbackFrames,
		Classes:        w.recorder.cfg.Classes,
		StartedAt:      w.info.StartedAt,
		EndedAt:        w.info.EndedAt,
		Frames:         w.frames,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := os.WriteFile(w.info.SidecarPath, data, 0644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}
