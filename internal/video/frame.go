package video

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"
)

// Frame represents a single video frame
type Frame struct {
	Data      []byte    // JPEG-encoded frame data
	Timestamp time.Time // Time the frame was read
	Width     int
	Height    int
	CameraID  string
	Seq       uint64 // 1-based position in the camera's stream
}

// Decode decodes the JPEG payload.
func (f Frame) Decode() (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", f.Seq, err)
	}
	return img, nil
}

// jpegSize reads the dimensions from the JPEG header without decoding pixels.
func jpegSize(data []byte) (int, int, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
