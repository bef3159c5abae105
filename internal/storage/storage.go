package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/video"
)

// Store persists recording metadata
type Store interface {
	SaveRecording(ctx context.Context, rec state.RecordingState) error
	GetRecording(ctx context.Context, id string) (*state.RecordingState, error)
	DeleteRecording(ctx context.Context, id string) error
	RecordingsEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]state.RecordingState, error)
	PendingArchive(ctx context.Context, limit int) ([]state.RecordingState, error)
	MarkRecordingArchived(ctx context.Context, id, key string, at time.Time) error
	RecordingStats(ctx context.Context) (state.RecordingStats, error)
}

// StorageStats contains storage statistics
type StorageStats struct {
	Recordings       int     `json:"recordings"`
	Archived         int     `json:"archived"`
	TotalSizeBytes   int64   `json:"total_size_bytes"`
	DiskUsagePercent float64 `json:"disk_usage_percent"`
	AvailableBytes   uint64  `json:"available_bytes"`
}

// CatalogConfig wires a Catalog
type CatalogConfig struct {
	Store       Store
	DiskMonitor *DiskMonitor
	Thumbnails  *ThumbnailGenerator // nil disables thumbnails
	Metrics     *metrics.Metrics
}

// Catalog records finished recordings and removes them with their files
type Catalog struct {
	store   Store
	disk    *DiskMonitor
	thumbs  *ThumbnailGenerator
	metrics *metrics.Metrics
	logger  *logger.Logger
	timeout time.Duration
}

// NewCatalog creates a recording catalog
func NewCatalog(cfg CatalogConfig, log *logger.Logger) (*Catalog, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("recording catalog requires a store")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Catalog{
		store:   cfg.Store,
		disk:    cfg.DiskMonitor,
		thumbs:  cfg.Thumbnails,
		metrics: cfg.Metrics,
		logger:  log,
		timeout: 10 * time.Second,
	}, nil
}

// OnRecordingClosed is registered with video.Recorder.OnClosed. It writes the
// thumbnail and inserts the catalog row.
func (c *Catalog) OnRecordingClosed(info video.RecordingInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	rec := state.RecordingState{
		ID:                info.ID,
		CameraID:          info.CameraID,
		Path:              info.Path,
		SidecarPath:       info.SidecarPath,
		StartedAt:         info.StartedAt,
		EndedAt:           info.EndedAt,
		Frames:            info.Frames,
		LookbackFrames:    info.LookbackFrames,
		FrameRate:         info.FrameRate,
		SizeBytes:         info.SizeBytes,
		PeakProbabilities: info.PeakProbabilities,
	}

	if c.thumbs != nil && len(info.PeakFrame.Data) > 0 {
		path, err := c.thumbs.Generate(info.PeakFrame, ThumbnailPath(info.Path))
		if err != nil {
			c.logger.Warn("Failed to generate recording thumbnail", "recording_id", info.ID, "error", err)
		} else {
			rec.ThumbnailPath = path
		}
	}

	if err := c.store.SaveRecording(ctx, rec); err != nil {
		c.logger.Error("Failed to catalog recording", "recording_id", info.ID, "camera_id", info.CameraID, "error", err)
		return
	}
	c.metrics.RecordingFinished(info.CameraID, info.SizeBytes)
	if c.disk != nil {
		c.disk.Invalidate()
	}

	c.logger.Info("Recording cataloged",
		"recording_id", info.ID,
		"camera_id", info.CameraID,
		"frames", info.Frames,
		"size_bytes", info.SizeBytes,
	)
}

// DeleteRecording removes a recording's files and its catalog row
func (c *Catalog) DeleteRecording(ctx context.Context, rec state.RecordingState) error {
	var errs []string
	for _, path := range []string{rec.Path, rec.SidecarPath, rec.ThumbnailPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to delete recording files: %s", strings.Join(errs, "; "))
	}

	if err := c.store.DeleteRecording(ctx, rec.ID); err != nil {
		return err
	}
	if c.disk != nil {
		c.disk.Invalidate()
	}
	return nil
}

// GetStorageStats returns catalog totals and, when a disk monitor is
// attached, the usage of the recording filesystem
func (c *Catalog) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	rs, err := c.store.RecordingStats(ctx)
	if err != nil {
		return nil, err
	}
	stats := &StorageStats{
		Recordings:     rs.Count,
		Archived:       rs.Archived,
		TotalSizeBytes: rs.TotalBytes,
	}
	if c.disk != nil {
		usage, err := c.disk.GetUsage(ctx)
		if err != nil {
			return nil, err
		}
		stats.DiskUsagePercent = usage.UsagePercent
		stats.AvailableBytes = usage.AvailableBytes
	}
	return stats, nil
}

// ThumbnailPath is the thumbnail location for a recording file
func ThumbnailPath(recordingPath string) string {
	return strings.TrimSuffix(recordingPath, ".mp4") + ".jpg"
}
