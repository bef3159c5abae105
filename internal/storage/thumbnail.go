package storage

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/video"
)

// ThumbnailGenerator writes a reduced JPEG of a recording's peak frame
type ThumbnailGenerator struct {
	quality int // JPEG quality (1-100)
	maxSize int // longest edge in pixels
}

// NewThumbnailGenerator creates a thumbnail generator
func NewThumbnailGenerator(maxSize, quality int) *ThumbnailGenerator {
	if maxSize <= 0 {
		maxSize = 320
	}
	if quality < 1 || quality > 100 {
		quality = 70
	}
	return &ThumbnailGenerator{quality: quality, maxSize: maxSize}
}

// Generate writes frame to path scaled to fit the configured size
func (g *ThumbnailGenerator) Generate(frame video.Frame, path string) (string, error) {
	img, err := frame.Decode()
	if err != nil {
		return "", fmt.Errorf("failed to decode frame: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create thumbnail file: %w", err)
	}
	defer file.Close()

	if err := jpeg.Encode(file, fit(img, g.maxSize), &jpeg.Options{Quality: g.quality}); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return path, nil
}

// fit scales img so its longest edge is at most maxSize, keeping the aspect ratio
func fit(img image.Image, maxSize int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSize && h <= maxSize {
		return img
	}

	var nw, nh int
	if w >= h {
		nw, nh = maxSize, h*maxSize/w
	} else {
		nw, nh = w*maxSize/h, maxSize
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
