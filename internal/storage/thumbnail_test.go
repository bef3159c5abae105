package storage

import (
	"image"
	"testing"
)

func TestFit(t *testing.T) {
	cases := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{640, 480, 320, 320, 240},
		{480, 640, 320, 240, 320},
		{100, 50, 320, 100, 50},
		{1000, 1, 100, 100, 1},
	}
	for _, c := range cases {
		got := fit(image.NewRGBA(image.Rect(0, 0, c.w, c.h)), c.max).Bounds()
		if got.Dx() != c.wantW || got.Dy() != c.wantH {
			t.Errorf("fit(%dx%d, %d) = %dx%d, want %dx%d", c.w, c.h, c.max, got.Dx(), got.Dy(), c.wantW, c.wantH)
		}
	}
}

func TestNewThumbnailGenerator_Defaults(t *testing.T) {
	g := NewThumbnailGenerator(0, 0)
	if g.maxSize != 320 || g.quality != 70 {
		t.Errorf("Unexpected defaults: %+v", g)
	}
}
