package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

func TestRetentionPolicy_DeletesExpired(t *testing.T) {
	catalog, store, dir := setupTestCatalog(t, nil)
	now := time.Now()

	writeRecording(t, catalog, dir, "old-1", now.Add(-9*24*time.Hour))
	writeRecording(t, catalog, dir, "old-2", now.Add(-8*24*time.Hour))
	writeRecording(t, catalog, dir, "fresh", now.Add(-time.Hour))

	policy, err := NewRetentionPolicy(7, catalog, nil, nil)
	if err != nil {
		t.Fatalf("NewRetentionPolicy failed: %v", err)
	}

	report, err := policy.Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if report.Expired != 2 || report.FreedSpace != 0 {
		t.Errorf("Unexpected report: %+v", report)
	}

	stats, err := store.RecordingStats(context.Background())
	if err != nil {
		t.Fatalf("RecordingStats failed: %v", err)
	}
	if stats.Count != 1 {
		t.Errorf("Expected 1 recording left, got %d", stats.Count)
	}
}

func TestRetentionPolicy_FreesDiskSpace(t *testing.T) {
	store, dir := setupTestStore(t)
	monitor, err := NewDiskMonitor(dir, 50, nil)
	if err != nil {
		t.Fatalf("NewDiskMonitor failed: %v", err)
	}
	// Each recording takes 20% of the disk.
	monitor.usageFn = fakeUsage(store, 20)

	catalog, err := NewCatalog(CatalogConfig{Store: store, DiskMonitor: monitor}, nil)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}

	now := time.Now()
	for i, id := range []string{"a", "b", "c", "d"} {
		writeRecording(t, catalog, dir, id, now.Add(time.Duration(i-10)*time.Minute))
	}

	policy, err := NewRetentionPolicy(7, catalog, monitor, nil)
	if err != nil {
		t.Fatalf("NewRetentionPolicy failed: %v", err)
	}
	report, err := policy.Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}

	// 80% -> 60% -> 40%: the two oldest go.
	if report.FreedSpace != 2 {
		t.Errorf("Expected 2 recordings deleted for space, got %d", report.FreedSpace)
	}
	for _, id := range []string{"a", "b"} {
		rec, _ := store.GetRecording(context.Background(), id)
		if rec != nil {
			t.Errorf("Expected %s to be deleted", id)
		}
	}
	for _, id := range []string{"c", "d"} {
		rec, _ := store.GetRecording(context.Background(), id)
		if rec == nil {
			t.Errorf("Expected %s to be kept", id)
		}
	}
}

func TestRetentionPolicy_DiskFullWithNothingToDelete(t *testing.T) {
	store, dir := setupTestStore(t)
	monitor, err := NewDiskMonitor(dir, 50, nil)
	if err != nil {
		t.Fatalf("NewDiskMonitor failed: %v", err)
	}
	monitor.usageFn = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Total: 100, Used: 99, UsedPercent: 99}, nil
	}

	catalog, err := NewCatalog(CatalogConfig{Store: store, DiskMonitor: monitor}, nil)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	policy, err := NewRetentionPolicy(7, catalog, monitor, nil)
	if err != nil {
		t.Fatalf("NewRetentionPolicy failed: %v", err)
	}

	report, err := policy.Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce should not fail with an empty catalog: %v", err)
	}
	if report.FreedSpace != 0 {
		t.Errorf("Expected nothing deleted, got %+v", report)
	}
}

func TestNewRetentionPolicy_Defaults(t *testing.T) {
	catalog, _, _ := setupTestCatalog(t, nil)
	policy, err := NewRetentionPolicy(0, catalog, nil, nil)
	if err != nil {
		t.Fatalf("NewRetentionPolicy failed: %v", err)
	}
	if policy.retentionDays != 7 {
		t.Errorf("Expected default retention days 7, got %d", policy.retentionDays)
	}

	if _, err := NewRetentionPolicy(7, nil, nil, nil); err == nil {
		t.Error("Expected error without a catalog")
	}
}
