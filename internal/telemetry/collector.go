package telemetry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/storage"
)

// Snapshot is one telemetry sample
type Snapshot struct {
	Timestamp   time.Time          `json:"timestamp"`
	System      SystemMetrics      `json:"system"`
	Application ApplicationMetrics `json:"application"`
	Cameras     []CameraStatus     `json:"cameras"`
}

// SystemMetrics describes host resources
type SystemMetrics struct {
	CPUUsagePercent  float64 `json:"cpu_usage_percent"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	DiskUsedBytes    uint64  `json:"disk_used_bytes"`
	DiskTotalBytes   uint64  `json:"disk_total_bytes"`
	DiskUsagePercent float64 `json:"disk_usage_percent"`
}

// ApplicationMetrics describes the pipeline
type ApplicationMetrics struct {
	ActiveCameras       int            `json:"active_cameras"`
	Subscribers         int            `json:"subscribers"`
	QueueDepths         map[string]int `json:"queue_depths"`
	RecordingsCount     int            `json:"recordings_count"`
	RecordingsSizeBytes int64          `json:"recordings_size_bytes"`
	RecordingsArchived  int            `json:"recordings_archived"`
}

// CameraStatus is the worker status of one camera
type CameraStatus struct {
	CameraID string         `json:"camera_id"`
	Running  bool           `json:"running"`
	Status   service.Status `json:"status"`
	Error    string         `json:"error,omitempty"`
}

// WorkerStatusSource reports camera worker statuses
type WorkerStatusSource interface {
	Statuses() []service.Snapshot
}

// RecordingStatsSource reports catalog totals
type RecordingStatsSource interface {
	RecordingStats(ctx context.Context) (state.RecordingStats, error)
}

// Sources are the components a Collector samples. Every field is optional.
type Sources struct {
	Disk        *storage.DiskMonitor
	Recordings  RecordingStatsSource
	Workers     WorkerStatusSource
	Subscribers func() map[string]int
	QueueDepths func() map[string]int
}

// Collector samples host and pipeline metrics on an interval
type Collector struct {
	*service.ServiceBase
	config  *config.TelemetryConfig
	sources Sources
	metrics *metrics.Metrics
	mu      sync.RWMutex
	last    *Snapshot
	cancel  context.CancelFunc
	done    chan struct{}

	memFn func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	cpuFn func(ctx context.Context) (float64, error)
}

// NewCollector creates a new telemetry collector
func NewCollector(cfg *config.TelemetryConfig, sources Sources, m *metrics.Metrics, log *logger.Logger) *Collector {
	return &Collector{
		ServiceBase: service.NewServiceBase("telemetry-collector", log),
		config:      cfg,
		sources:     sources,
		metrics:     m,
		memFn:       mem.VirtualMemoryWithContext,
		cpuFn:       cpuPercent,
	}
}

func cpuPercent(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}

// Start starts the telemetry collector service
func (c *Collector) Start(ctx context.Context) error {
	c.GetStatus().SetStatus(service.StatusRunning)

	if !c.config.Enabled {
		c.LogInfo("Telemetry collection is disabled")
		return nil
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx)

	c.LogInfo("Telemetry collector started", "interval", c.config.Interval)
	return nil
}

// Stop stops the telemetry collector service
func (c *Collector) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.LogInfo("Telemetry collector stopped")
	c.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	c.Collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect takes a sample, exports it as gauges and keeps it as the last one.
// A failing source leaves its section zeroed.
func (c *Collector) Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		Timestamp:   time.Now(),
		System:      c.collectSystemMetrics(ctx),
		Application: c.collectApplicationMetrics(ctx),
		Cameras:     c.collectCameraStatuses(),
	}

	c.metrics.SetHostUsage(snap.System.CPUUsagePercent, snap.System.MemoryUsedBytes, snap.System.MemoryTotalBytes)
	c.metrics.SetDiskUsage(snap.System.DiskUsagePercent)
	c.metrics.SetWorkersRunning(snap.Application.ActiveCameras)

	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()

	return snap
}

// GetLastSnapshot returns the last collected sample, or nil before the first
func (c *Collector) GetLastSnapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) collectSystemMetrics(ctx context.Context) SystemMetrics {
	var sys SystemMetrics

	if percent, err := c.cpuFn(ctx); err != nil {
		c.LogWarn("Failed to sample CPU usage", "error", err)
	} else {
		sys.CPUUsagePercent = percent
	}

	if vm, err := c.memFn(ctx); err != nil {
		c.LogWarn("Failed to sample memory usage", "error", err)
	} else {
		sys.MemoryUsedBytes = vm.Used
		sys.MemoryTotalBytes = vm.Total
	}

	if c.sources.Disk != nil {
		usage, err := c.sources.Disk.GetUsage(ctx)
		if err != nil {
			c.LogWarn("Failed to sample disk usage", "error", err)
		} else {
			sys.DiskUsedBytes = usage.UsedBytes
			sys.DiskTotalBytes = usage.TotalBytes
			sys.DiskUsagePercent = usage.UsagePercent
		}
	}
	return sys
}

func (c *Collector) collectApplicationMetrics(ctx context.Context) ApplicationMetrics {
	app := ApplicationMetrics{QueueDepths: map[string]int{}}

	if c.sources.Workers != nil {
		for _, s := range c.sources.Workers.Statuses() {
			if s.Status == service.StatusRunning {
				app.ActiveCameras++
			}
		}
	}
	if c.sources.Subscribers != nil {
		for _, n := range c.sources.Subscribers() {
			app.Subscribers += n
		}
	}
	if c.sources.QueueDepths != nil {
		for name, depth := range c.sources.QueueDepths() {
			app.QueueDepths[name] = depth
		}
	}
	if c.sources.Recordings != nil {
		stats, err := c.sources.Recordings.RecordingStats(ctx)
		if err != nil {
			c.LogWarn("Failed to read recording stats", "error", err)
		} else {
			app.RecordingsCount = stats.Count
			app.RecordingsSizeBytes = stats.TotalBytes
			app.RecordingsArchived = stats.Archived
		}
	}
	return app
}

func (c *Collector) collectCameraStatuses() []CameraStatus {
	if c.sources.Workers == nil {
		return []CameraStatus{}
	}

	snaps := c.sources.Workers.Statuses()
	statuses := make([]CameraStatus, 0, len(snaps))
	for _, s := range snaps {
		statuses = append(statuses, CameraStatus{
			CameraID: strings.TrimPrefix(s.Name, "worker:"),
			Running:  s.Status == service.StatusRunning,
			Status:   s.Status,
			Error:    s.Error,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].CameraID < statuses[j].CameraID })
	return statuses
}
