package tensor

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/video"
)

// Clip is a normalized float32 tensor laid out as [T, C, H, W].
type Clip struct {
	Shape [4]int
	Data  []float32
}

// AllFinite reports whether the clip contains no NaN or infinite values.
func (c *Clip) AllFinite() bool {
	for _, v := range c.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Encode returns the tensor data as base64 of little-endian float32 values.
func (c *Clip) Encode() string {
	raw := make([]byte, 4*len(c.Data))
	for i, v := range c.Data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// Decode parses data produced by Encode back into a clip of the given shape.
func Decode(shape [4]int, encoded string) (*Clip, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode tensor: %w", err)
	}
	n := shape[0] * shape[1] * shape[2] * shape[3]
	if len(raw) != 4*n {
		return nil, fmt.Errorf("tensor has %d bytes, shape %v needs %d", len(raw), shape, 4*n)
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return &Clip{Shape: shape, Data: data}, nil
}

// Options configures a Builder.
type Options struct {
	Width  int
	Height int
	Mean   [3]float64
	Std    [3]float64
}

// Builder turns a window of frames into a clip tensor.
type Builder struct {
	opts Options
}

// NewBuilder validates opts and returns a builder.
func NewBuilder(opts Options) (*Builder, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid tensor size %dx%d", opts.Width, opts.Height)
	}
	return &Builder{opts: opts}, nil
}

// Build resizes every frame to the configured size and normalizes each
// channel with (v/255 - mean) / std.
func (b *Builder) Build(frames []video.Frame) (*Clip, error) {
	if len(frames) == 0 {
		return nil, errors.New("empty frame window")
	}

	w, h := b.opts.Width, b.opts.Height
	plane := w * h
	clip := &Clip{
		Shape: [4]int{len(frames), 3, h, w},
		Data:  make([]float32, len(frames)*3*plane),
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for t, frame := range frames {
		img, err := frame.Decode()
		if err != nil {
			return nil, err
		}
		draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

		offset := t * 3 * plane
		for y := 0; y < h; y++ {
			row := dst.Pix[y*dst.Stride:]
			for x := 0; x < w; x++ {
				px := row[x*4:]
				for c := 0; c < 3; c++ {
					v := float64(px[c]) / 255.0
					clip.Data[offset+c*plane+y*w+x] = float32((v - b.opts.Mean[c]) / b.opts.Std[c])
				}
			}
		}
	}
	return clip, nil
}
