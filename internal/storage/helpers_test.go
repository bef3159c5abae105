package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/video"
)

func setupTestStore(t *testing.T) (*state.Manager, string) {
	t.Helper()
	dataDir := t.TempDir()
	mgr, err := state.NewManager(&config.Config{DataDir: dataDir}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create state manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr, filepath.Join(dataDir, "recordings")
}

func setupTestCatalog(t *testing.T, disk *DiskMonitor) (*Catalog, *state.Manager, string) {
	t.Helper()
	store, dir := setupTestStore(t)
	catalog, err := NewCatalog(CatalogConfig{
		Store:       store,
		DiskMonitor: disk,
		Thumbnails:  NewThumbnailGenerator(64, 70),
	}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create catalog: %v", err)
	}
	return catalog, store, dir
}

func jpegFrame(t *testing.T, w, h int) video.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("Failed to encode test frame: %v", err)
	}
	return video.Frame{Data: buf.Bytes(), Width: w, Height: h, CameraID: "cam_01", Timestamp: time.Now()}
}

// writeRecording creates the files of a recording on disk and catalogs it.
func writeRecording(t *testing.T, catalog *Catalog, dir, id string, endedAt time.Time) video.RecordingInfo {
	t.Helper()
	camDir := filepath.Join(dir, "cam_01")
	if err := os.MkdirAll(camDir, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	info := video.RecordingInfo{
		ID:                id,
		CameraID:          "cam_01",
		Path:              filepath.Join(camDir, id+".mp4"),
		SidecarPath:       filepath.Join(camDir, id+".json"),
		StartedAt:         endedAt.Add(-5 * time.Second),
		EndedAt:           endedAt,
		Frames:            40,
		LookbackFrames:    8,
		FrameRate:         8,
		SizeBytes:         1000,
		PeakProbabilities: map[string]float64{"fight": 0.9},
		PeakFrame:         jpegFrame(t, 160, 120),
	}
	for _, p := range []string{info.Path, info.SidecarPath} {
		if err := os.WriteFile(p, []byte("data"), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", p, err)
		}
	}
	catalog.OnRecordingClosed(info)
	return info
}

// fakeUsage reports a usage percentage computed from the number of
// recordings left in store.
func fakeUsage(store *state.Manager, perRecording float64) func(ctx context.Context, path string) (*disk.UsageStat, error) {
	return func(ctx context.Context, path string) (*disk.UsageStat, error) {
		stats, err := store.RecordingStats(ctx)
		if err != nil {
			return nil, err
		}
		used := float64(stats.Count) * perRecording
		return &disk.UsageStat{Path: path, Total: 100, Used: uint64(used), Free: uint64(100 - used), UsedPercent: used}, nil
	}
}
