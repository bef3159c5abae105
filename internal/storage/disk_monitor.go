package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
)

// DiskMonitor monitors usage of the filesystem holding recordings
type DiskMonitor struct {
	path            string
	maxUsagePercent float64
	logger          *logger.Logger
	mu              sync.RWMutex
	lastCheck       time.Time
	cacheDuration   time.Duration
	cachedUsage     *DiskUsage
	usageFn         func(ctx context.Context, path string) (*disk.UsageStat, error)
}

// DiskUsage contains disk usage information
type DiskUsage struct {
	TotalBytes     uint64
	UsedBytes      uint64
	AvailableBytes uint64
	UsagePercent   float64
}

// NewDiskMonitor creates a new disk monitor. path is created if missing.
func NewDiskMonitor(path string, maxUsagePercent float64, log *logger.Logger) (*DiskMonitor, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	if maxUsagePercent <= 0 || maxUsagePercent > 100 {
		maxUsagePercent = 90
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &DiskMonitor{
		path:            path,
		maxUsagePercent: maxUsagePercent,
		logger:          log,
		cacheDuration:   30 * time.Second,
		usageFn:         disk.UsageWithContext,
	}, nil
}

// Path returns the monitored directory
func (d *DiskMonitor) Path() string {
	return d.path
}

// MaxUsagePercent returns the configured threshold
func (d *DiskMonitor) MaxUsagePercent() float64 {
	return d.maxUsagePercent
}

// GetUsage returns current disk usage, cached for a short time
func (d *DiskMonitor) GetUsage(ctx context.Context) (*DiskUsage, error) {
	d.mu.RLock()
	if d.cachedUsage != nil && time.Since(d.lastCheck) < d.cacheDuration {
		usage := *d.cachedUsage
		d.mu.RUnlock()
		return &usage, nil
	}
	d.mu.RUnlock()

	stat, err := d.usageFn(ctx, d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	usage := &DiskUsage{
		TotalBytes:     stat.Total,
		UsedBytes:      stat.Used,
		AvailableBytes: stat.Free,
		UsagePercent:   stat.UsedPercent,
	}

	d.mu.Lock()
	d.cachedUsage = usage
	d.lastCheck = time.Now()
	d.mu.Unlock()

	copied := *usage
	return &copied, nil
}

// Invalidate drops the cached usage so the next call re-reads the filesystem
func (d *DiskMonitor) Invalidate() {
	d.mu.Lock()
	d.cachedUsage = nil
	d.mu.Unlock()
}

// IsDiskFull returns true if disk usage is at or above the threshold
func (d *DiskMonitor) IsDiskFull(ctx context.Context) (bool, error) {
	usage, err := d.GetUsage(ctx)
	if err != nil {
		return false, err
	}
	return usage.UsagePercent >= d.maxUsagePercent, nil
}
