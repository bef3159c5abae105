package health

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/storage"
)

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// SystemChecker checks memory and CPU load
type SystemChecker struct {
	MaxMemoryPercent float64
	MaxCPUPercent    float64

	memFn func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	cpuFn func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)
}

// NewSystemChecker reports degraded above the given percentages
func NewSystemChecker(maxMemoryPercent, maxCPUPercent float64) *SystemChecker {
	if maxMemoryPercent <= 0 {
		maxMemoryPercent = 90
	}
	if maxCPUPercent <= 0 {
		maxCPUPercent = 95
	}
	return &SystemChecker{
		MaxMemoryPercent: maxMemoryPercent,
		MaxCPUPercent:    maxCPUPercent,
		memFn:            mem.VirtualMemoryWithContext,
		cpuFn:            cpu.PercentWithContext,
	}
}

func (c *SystemChecker) Name() string {
	return "system"
}

func (c *SystemChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Status = StatusHealthy
	check.Message = "System resources OK"

	vm, err := c.memFn(ctx)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Failed to read memory usage: %v", err)
		return check
	}
	check.Details["memory_used_percent"] = vm.UsedPercent
	check.Details["memory_available_bytes"] = vm.Available

	// Zero interval compares against the previous call.
	percents, err := c.cpuFn(ctx, 0, false)
	if err == nil && len(percents) > 0 {
		check.Details["cpu_percent"] = percents[0]
		if percents[0] >= c.MaxCPUPercent {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("CPU usage %.1f%% over %.0f%%", percents[0], c.MaxCPUPercent)
		}
	}

	if vm.UsedPercent >= c.MaxMemoryPercent {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Memory usage %.1f%% over %.0f%%", vm.UsedPercent, c.MaxMemoryPercent)
	}
	return check
}

// Pinger is satisfied by the state manager
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db   Pinger
	path string
}

func NewDatabaseChecker(db Pinger, path string) *DatabaseChecker {
	return &DatabaseChecker{db: db, path: path}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["path"] = c.path

	if c.db == nil {
		check.Status = StatusUnhealthy
		check.Message = "Database not initialized"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// Prober is satisfied by the classifier and pre-filter clients
type Prober interface {
	HealthCheck(ctx context.Context) error
}

// ServiceChecker checks an HTTP collaborator. An unreachable collaborator
// degrades the report; the pipeline keeps running without it.
type ServiceChecker struct {
	name   string
	url    string
	prober Prober
}

func NewServiceChecker(name, url string, prober Prober) *ServiceChecker {
	return &ServiceChecker{name: name, url: url, prober: prober}
}

func (c *ServiceChecker) Name() string {
	return c.name
}

func (c *ServiceChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["url"] = c.url

	if c.prober == nil {
		check.Status = StatusDegraded
		check.Message = "Service not configured"
		return check
	}

	if err := c.prober.HealthCheck(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Service unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Service is reachable"
	return check
}

// Versioner is satisfied by the ffmpeg wrapper
type Versioner interface {
	GetVersion() (string, error)
	Path() string
}

// FFmpegChecker checks that the recording encoder can be executed
type FFmpegChecker struct {
	ffmpeg Versioner
}

func NewFFmpegChecker(ffmpeg Versioner) *FFmpegChecker {
	return &FFmpegChecker{ffmpeg: ffmpeg}
}

func (c *FFmpegChecker) Name() string {
	return "ffmpeg"
}

func (c *FFmpegChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	if c.ffmpeg == nil {
		check.Status = StatusUnhealthy
		check.Message = "ffmpeg not found"
		return check
	}
	check.Details["path"] = c.ffmpeg.Path()

	version, err := c.ffmpeg.GetVersion()
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("ffmpeg failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "ffmpeg available"
	check.Details["version"] = version
	return check
}

// StorageChecker checks the recording filesystem
type StorageChecker struct {
	disk *storage.DiskMonitor
}

func NewStorageChecker(disk *storage.DiskMonitor) *StorageChecker {
	return &StorageChecker{disk: disk}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["path"] = c.disk.Path()

	usage, err := c.disk.GetUsage(ctx)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to read disk usage: %v", err)
		return check
	}
	check.Details["usage_percent"] = usage.UsagePercent
	check.Details["available_bytes"] = usage.AvailableBytes
	check.Details["max_usage_percent"] = c.disk.MaxUsagePercent()

	if usage.UsagePercent >= c.disk.MaxUsagePercent() {
		// Retention frees space on its next pass.
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage %.1f%% over threshold", usage.UsagePercent)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Recording storage OK"
	return check
}
