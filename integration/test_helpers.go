package integration

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/video"
)

// ContextWithTimeout creates a context with timeout for tests
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// testJPEG encodes a small solid image
func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{200, 100, 50, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("Failed to encode frame: %v", err)
	}
	return buf.Bytes()
}

// endlessSource yields the same JPEG until its context is cancelled
type endlessSource struct {
	cameraID string
	data     []byte
	rate     float64
	seq      uint64
	released atomic.Bool
}

func (s *endlessSource) Read(ctx context.Context) (video.Frame, error) {
	if err := ctx.Err(); err != nil {
		return video.Frame{}, err
	}
	s.seq++
	return video.Frame{
		Data:      s.data,
		Timestamp: time.Now(),
		Width:     16,
		Height:    16,
		CameraID:  s.cameraID,
		Seq:       s.seq,
	}, nil
}

func (s *endlessSource) FrameRate() float64 { return s.rate }

func (s *endlessSource) Release() error {
	s.released.Store(true)
	return nil
}

// scriptedClassifier reports an alert for the first alertCalls clips of a
// camera and a calm vector afterwards
type scriptedClassifier struct {
	alertCalls int64
	calls      sync.Map // camera id -> *atomic.Int64
}

func (c *scriptedClassifier) Classify(ctx context.Context, job pipeline.InferenceJob) ([]float64, error) {
	v, _ := c.calls.LoadOrStore(job.CameraID, new(atomic.Int64))
	n := v.(*atomic.Int64).Add(1)
	if n <= c.alertCalls {
		return []float64{0.9, 0.1}, nil
	}
	return []float64{0.1, 0.9}, nil
}

// fileEncoder stands in for ffmpeg by writing the raw JPEG stream to output
type fileEncoder struct{}

func (fileEncoder) StartEncoder(output string, frameRate float64, codec string, quality int) (video.EncoderProcess, error) {
	return os.Create(output)
}

// memorySink collects subscriber payloads
type memorySink struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *memorySink) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) Messages() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.payloads...)
}
