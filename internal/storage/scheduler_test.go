package storage

import (
	"context"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/service"
)

func TestNewScheduler_RejectsInvalidSchedule(t *testing.T) {
	catalog, store, _ := setupTestCatalog(t, nil)
	retention, err := NewRetentionPolicy(7, catalog, nil, nil)
	if err != nil {
		t.Fatalf("NewRetentionPolicy failed: %v", err)
	}

	if _, err := NewScheduler(SchedulerConfig{RetentionSchedule: "every hour"}, retention, nil, nil); err == nil {
		t.Error("Expected error for invalid retention schedule")
	}

	archiver := NewArchiver(newFakeUploader(), store, "clips", "", nil)
	_, err = NewScheduler(SchedulerConfig{RetentionSchedule: "0 0 * * * *", ArchiveSchedule: "* *"}, retention, archiver, nil)
	if err == nil {
		t.Error("Expected error for invalid archive schedule")
	}

	// Archive schedule is ignored without an archiver.
	if _, err := NewScheduler(SchedulerConfig{RetentionSchedule: "0 0 * * * *", ArchiveSchedule: "* *"}, retention, nil, nil); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	if _, err := NewScheduler(SchedulerConfig{RetentionSchedule: "0 0 * * * *"}, nil, nil, nil); err == nil {
		t.Error("Expected error without a retention policy")
	}
}

func TestScheduler_StartRunsInitialRetention(t *testing.T) {
	catalog, store, dir := setupTestCatalog(t, nil)
	writeRecording(t, catalog, dir, "old", time.Now().Add(-30*24*time.Hour))
	writeRecording(t, catalog, dir, "fresh", time.Now())

	retention, err := NewRetentionPolicy(7, catalog, nil, nil)
	if err != nil {
		t.Fatalf("NewRetentionPolicy failed: %v", err)
	}
	scheduler, err := NewScheduler(SchedulerConfig{RetentionSchedule: "@every 1h"}, retention, nil, nil)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	ctx := context.Background()
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if scheduler.GetStatus().GetStatus() != service.StatusRunning {
		t.Errorf("Expected running status")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Stop waits for the initial pass.
	rec, err := store.GetRecording(ctx, "old")
	if err != nil {
		t.Fatalf("GetRecording failed: %v", err)
	}
	if rec != nil {
		t.Error("Expected expired recording to be removed by the initial pass")
	}
	rec, _ = store.GetRecording(ctx, "fresh")
	if rec == nil {
		t.Error("Expected fresh recording to be kept")
	}
}
