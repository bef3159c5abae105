package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
)

var (
	// ErrEndOfStream is returned by Source.Read once no frame will ever follow.
	ErrEndOfStream = errors.New("end of stream")

	// ErrUnsupportedReader is returned by NewSource for unknown reader kinds.
	ErrUnsupportedReader = errors.New("unsupported reader kind")
)

// Reader kinds
const (
	ReaderFile = "file"
	ReaderRTSP = "rtsp"
)

// Source produces frames for one camera.
type Source interface {
	// Read blocks until the next frame. It returns ErrEndOfStream when the
	// source is exhausted and the context error when ctx is cancelled.
	Read(ctx context.Context) (Frame, error)
	// FrameRate is the advertised rate in frames per second; zero or less
	// means unknown.
	FrameRate() float64
	Release() error
}

// FrameStream yields encoded JPEG images until io.EOF.
type FrameStream interface {
	Next() ([]byte, error)
	Close() error
}

// Decoder opens media inputs as JPEG frame streams.
type Decoder interface {
	OpenMJPEG(ctx context.Context, input string, inputArgs ...string) (FrameStream, error)
	ProbeFrameRate(ctx context.Context, input string) (float64, error)
}

// SourceOptions configures NewSource.
type SourceOptions struct {
	CameraID      string
	Decoder       Decoder
	RTSPTimeout   time.Duration
	RTSPTransport string
	Logger        *logger.Logger
}

// NewSource resolves the frame source for a reader kind.
func NewSource(ctx context.Context, kind string, paths []string, opts SourceOptions) (Source, error) {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("camera %s: no input paths", opts.CameraID)
	}

	switch kind {
	case ReaderFile:
		return NewFileSource(ctx, paths, opts)
	case ReaderRTSP:
		return NewRTSPSource(ctx, paths[0], opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedReader, kind)
	}
}
