package pipeline

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/config"
)

var videoPatterns = []string{"*.avi", "*.mp4"}

// SplitVideoFiles finds the videos in dir, shuffles them with rng and splits
// them into n chunks whose sizes differ by at most one, larger chunks first.
func SplitVideoFiles(dir string, n int, rng *rand.Rand) ([][]string, error) {
	if n <= 0 {
		return nil, nil
	}

	var paths []string
	for _, pattern := range videoPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no *.avi or *.mp4 files in %s", dir)
	}

	sort.Strings(paths)
	rng.Shuffle(len(paths), func(i, j int) { paths[i], paths[j] = paths[j], paths[i] })

	chunks := make([][]string, n)
	base, extra := len(paths)/n, len(paths)%n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		chunks[i] = paths[start : start+size]
		start += size
	}
	return chunks, nil
}

// ResolveCameras returns the cameras that have something to play. Cameras
// configured without paths share the files found in cfg.VideoDir; any that
// end up with no file are returned in skipped.
func ResolveCameras(cfg config.CamerasConfig, rng *rand.Rand) (cameras []config.CameraConfig, skipped []string, err error) {
	var pending []int
	for i, cam := range cfg.Sources {
		if len(cam.Paths) == 0 {
			pending = append(pending, i)
		}
	}

	var chunks [][]string
	if len(pending) > 0 && cfg.VideoDir != "" {
		chunks, err = SplitVideoFiles(cfg.VideoDir, len(pending), rng)
		if err != nil {
			return nil, nil, err
		}
	}

	assigned := make(map[int][]string, len(pending))
	for k, idx := range pending {
		if k < len(chunks) {
			assigned[idx] = chunks[k]
		}
	}

	for i, cam := range cfg.Sources {
		if len(cam.Paths) == 0 {
			cam.Paths = assigned[i]
		}
		if len(cam.Paths) == 0 {
			skipped = append(skipped, cam.ID)
			continue
		}
		cameras = append(cameras, cam)
	}
	return cameras, skipped, nil
}
