package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
)

// FileSource plays a list of video files one after another.
type FileSource struct {
	ctx      context.Context
	cameraID string
	decoder  Decoder
	logger   *logger.Logger
	paths    []string
	next     int
	current  FrameStream
	rate     float64
	seq      uint64
	released bool
}

// NewFileSource opens the first playable path. A path that cannot be opened
// is skipped; the source fails only when none can be.
func NewFileSource(ctx context.Context, paths []string, opts SourceOptions) (*FileSource, error) {
	if opts.Decoder == nil {
		return nil, errors.New("file source requires a decoder")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &FileSource{
		ctx:      ctx,
		cameraID: opts.CameraID,
		decoder:  opts.Decoder,
		logger:   log.With("camera_id", opts.CameraID, "reader", ReaderFile),
		paths:    append([]string(nil), paths...),
	}

	if !s.openNext() {
		return nil, fmt.Errorf("camera %s: none of %d file(s) could be opened", opts.CameraID, len(paths))
	}
	return s, nil
}

// openNext advances to the next path that opens, probing its rate.
func (s *FileSource) openNext() bool {
	for s.next < len(s.paths) {
		path := s.paths[s.next]
		s.next++

		stream, err := s.decoder.OpenMJPEG(s.ctx, path)
		if err != nil {
			s.logger.Warn("Skipping unreadable video file", "path", path, "error", err)
			continue
		}

		if s.rate <= 0 {
			rate, err := s.decoder.ProbeFrameRate(s.ctx, path)
			if err != nil {
				s.logger.Debug("Frame rate probe failed", "path", path, "error", err)
			}
			s.rate = rate
		}

		s.current = stream
		s.logger.Info("Playing video file", "path", path)
		return true
	}
	return false
}

func (s *FileSource) closeCurrent() {
	if s.current == nil {
		return
	}
	if err := s.current.Close(); err != nil {
		s.logger.Debug("Decoder exited with error", "error", err)
	}
	s.current = nil
}

// Read returns the next frame across all files.
func (s *FileSource) Read(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if s.released {
			return Frame{}, ErrEndOfStream
		}
		if s.current == nil && !s.openNext() {
			return Frame{}, ErrEndOfStream
		}

		data, err := s.current.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return Frame{}, ctxErr
				}
				s.logger.Warn("Video file ended abnormally", "error", err)
			}
			s.closeCurrent()
			continue
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

// FrameRate returns the rate probed from the first playable file.
func (s *FileSource) FrameRate() float64 {
	return s.rate
}

// Release stops the active decoder. It is safe to call more than once.
func (s *FileSource) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	s.closeCurrent()
	return nil
}
