package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
)

func TestDiskMonitor_GetUsage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	monitor, err := NewDiskMonitor(dir, 80.0, nil)
	if err != nil {
		t.Fatalf("Failed to create disk monitor: %v", err)
	}

	usage, err := monitor.GetUsage(context.Background())
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if usage.TotalBytes == 0 {
		t.Error("TotalBytes should be greater than 0")
	}
	if usage.UsagePercent < 0 || usage.UsagePercent > 100 {
		t.Errorf("UsagePercent should be between 0 and 100, got %f", usage.UsagePercent)
	}
}

func TestDiskMonitor_CacheAndInvalidate(t *testing.T) {
	monitor, err := NewDiskMonitor(t.TempDir(), 80.0, nil)
	if err != nil {
		t.Fatalf("Failed to create disk monitor: %v", err)
	}

	calls := 0
	percent := 50.0
	monitor.usageFn = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		calls++
		return &disk.UsageStat{Total: 100, UsedPercent: percent}, nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := monitor.GetUsage(ctx); err != nil {
			t.Fatalf("GetUsage failed: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("Expected cached usage, filesystem read %d times", calls)
	}

	full, err := monitor.IsDiskFull(ctx)
	if err != nil {
		t.Fatalf("IsDiskFull failed: %v", err)
	}
	if full {
		t.Error("50% should not be full at an 80% threshold")
	}

	percent = 80
	monitor.Invalidate()
	full, err = monitor.IsDiskFull(ctx)
	if err != nil {
		t.Fatalf("IsDiskFull failed: %v", err)
	}
	if !full {
		t.Error("80% should be full at an 80% threshold")
	}
	if calls != 2 {
		t.Errorf("Expected a fresh read after Invalidate, got %d reads", calls)
	}
}

func TestNewDiskMonitor_DefaultThreshold(t *testing.T) {
	monitor, err := NewDiskMonitor(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatalf("Failed to create disk monitor: %v", err)
	}
	if monitor.MaxUsagePercent() != 90 {
		t.Errorf("Expected default threshold 90, got %f", monitor.MaxUsagePercent())
	}
}
