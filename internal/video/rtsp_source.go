package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
)

// rtspRateSamples is the number of frame intervals measured during preflight.
const rtspRateSamples = 30

// RTSPSource reads a live RTSP stream. The stream is checked with a native
// RTSP session first, then decoded by ffmpeg.
type RTSPSource struct {
	cameraID string
	url      string
	logger   *logger.Logger
	stream   FrameStream
	rate     float64
	seq      uint64
	mu       sync.Mutex
	released bool
}

// NewRTSPSource connects to url, verifies it carries H.264 video, measures
// its frame rate and starts the decoder.
func NewRTSPSource(ctx context.Context, url string, opts SourceOptions) (*RTSPSource, error) {
	if opts.Decoder == nil {
		return nil, errors.New("rtsp source requires a decoder")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.With("camera_id", opts.CameraID, "reader", ReaderRTSP)

	timeout := opts.RTSPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := strings.ToLower(opts.RTSPTransport)
	if transport == "" {
		transport = "tcp"
	}

	rate, err := probeRTSP(ctx, url, transport, timeout)
	if err != nil {
		return nil, fmt.Errorf("camera %s: rtsp preflight: %w", opts.CameraID, err)
	}
	if rate <= 0 {
		log.Warn("Could not measure RTSP frame rate", "url", url)
	}

	stream, err := opts.Decoder.OpenMJPEG(ctx, url, "-rtsp_transport", transport)
	if err != nil {
		return nil, fmt.Errorf("camera %s: open rtsp decoder: %w", opts.CameraID, err)
	}

	log.Info("RTSP stream opened", "url", url, "frame_rate", rate)
	return &RTSPSource{
		cameraID: opts.CameraID,
		url:      url,
		logger:   log,
		stream:   stream,
		rate:     rate,
	}, nil
}

// Read returns the next decoded frame. A live stream that stops is treated
// as ended.
func (s *RTSPSource) Read(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		s.mu.Lock()
		released := s.released
		s.mu.Unlock()
		if released {
			return Frame{}, ErrEndOfStream
		}

		data, err := s.stream.Next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Frame{}, ctxErr
			}
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("RTSP decoder stopped", "error", err)
			}
			return Frame{}, ErrEndOfStream
		}

		w, h, err := jpegSize(data)
		if err != nil {
			s.logger.Debug("Dropping undecodable frame", "error", err)
			continue
		}

		s.seq++
		return Frame{
			Data:      data,
			Timestamp: time.Now(),
			Width:     w,
			Height:    h,
			CameraID:  s.cameraID,
			Seq:       s.seq,
		}, nil
	}
}

// FrameRate returns the rate measured during preflight.
func (s *RTSPSource) FrameRate() float64 {
	return s.rate
}

// Release stops the decoder.
func (s *RTSPSource) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.mu.Unlock()
	return s.stream.Close()
}

// probeRTSP runs DESCRIBE/SETUP/PLAY against url and estimates the video
// frame rate from RTP timestamps. A stream without H.264 video is an error;
// a stream that sends nothing before timeout yields a zero rate.
func probeRTSP(ctx context.Context, rawURL, transport string, timeout time.Duration) (float64, error) {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return 0, fmt.Errorf("failed to parse URL: %w", err)
	}

	client := &gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	switch transport {
	case "tcp":
		t := gortsplib.TransportTCP
		client.Transport = &t
	case "udp":
		t := gortsplib.TransportUDP
		client.Transport = &t
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return 0, fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	desc, _, err := client.Describe(u)
	if err != nil {
		return 0, fmt.Errorf("failed to describe stream: %w", err)
	}

	var h264Format *format.H264
	var h264Media *description.Media
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if h264, ok := forma.(*format.H264); ok {
				h264Format = h264
				h264Media = media
				break
			}
		}
		if h264Format != nil {
			break
		}
	}
	if h264Format == nil {
		return 0, errors.New("H.264 format not found in stream")
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return 0, fmt.Errorf("failed to setup stream: %w", err)
	}

	est := newRateEstimator(uint32(h264Format.ClockRate()), rtspRateSamples)
	client.OnPacketRTP(h264Media, h264Format, func(pkt *rtp.Packet) {
		est.observe(pkt.Timestamp)
	})

	if _, err := client.Play(nil); err != nil {
		return 0, fmt.Errorf("failed to play stream: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-est.done:
	case <-timer.C:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return est.rate(), nil
}

// rateEstimator derives frames per second from RTP timestamps. Packets of
// one frame share a timestamp, so only changes are counted.
type rateEstimator struct {
	mu        sync.Mutex
	clockRate uint32
	want      int
	started   bool
	prev      uint32
	intervals int
	ticks     int64
	done      chan struct{}
	closeOnce sync.Once
}

func newRateEstimator(clockRate uint32, samples int) *rateEstimator {
	return &rateEstimator{clockRate: clockRate, want: samples, done: make(chan struct{})}
}

func (e *rateEstimator) observe(ts uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		e.started = true
		e.prev = ts
		return
	}
	// int32 keeps wrap-around deltas small; reordered packets go negative.
	delta := int64(int32(ts - e.prev))
	if delta <= 0 {
		return
	}
	e.prev = ts
	e.ticks += delta
	e.intervals++
	if e.intervals >= e.want {
		e.closeOnce.Do(func() { close(e.done) })
	}
}

func (e *rateEstimator) rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ticks == 0 || e.clockRate == 0 {
		return 0
	}
	return float64(e.intervals) * float64(e.clockRate) / float64(e.ticks)
}
