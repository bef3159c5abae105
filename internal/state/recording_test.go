package state

import (
	"context"
	"testing"
	"time"
)

func testRecording(id, cameraID string, endedAt time.Time, size int64) RecordingState {
	return RecordingState{
		ID:                id,
		CameraID:          cameraID,
		Path:              "/data/recordings/" + cameraID + "/" + id + ".mp4",
		SidecarPath:       "/data/recordings/" + cameraID + "/" + id + ".json",
		StartedAt:         endedAt.Add(-10 * time.Second),
		EndedAt:           endedAt,
		Frames:            80,
		LookbackFrames:    24,
		FrameRate:         8,
		SizeBytes:         size,
		PeakProbabilities: map[string]float64{"fight": 0.93, "normal": 0.4},
	}
}

func TestManager_SaveRecording(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()
	ended := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

	if err := mgr.SaveRecording(ctx, testRecording("rec-1", "cam_01", ended, 4096)); err != nil {
		t.Fatalf("SaveRecording failed: %v", err)
	}

	rec, err := mgr.GetRecording(ctx, "rec-1")
	if err != nil {
		t.Fatalf("GetRecording failed: %v", err)
	}
	if rec == nil {
		t.Fatal("GetRecording returned nil")
	}
	if rec.CameraID != "cam_01" || rec.Frames != 80 || rec.LookbackFrames != 24 {
		t.Errorf("Unexpected recording: %+v", rec)
	}
	if !rec.EndedAt.Equal(ended) {
		t.Errorf("Expected EndedAt %v, got %v", ended, rec.EndedAt)
	}
	if rec.PeakProbabilities["fight"] != 0.93 {
		t.Errorf("Expected peak fight 0.93, got %v", rec.PeakProbabilities["fight"])
	}
	if rec.ArchivedAt != nil || rec.ArchiveKey != "" {
		t.Error("New recording should not be archived")
	}

	missing, err := mgr.GetRecording(ctx, "nope")
	if err != nil {
		t.Fatalf("GetRecording failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for unknown recording")
	}
}

func TestManager_ListRecordings(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	for i, cam := range []string{"cam_01", "cam_02", "cam_01", "cam_01"} {
		rec := testRecording("rec-"+string(rune('a'+i)), cam, base.Add(time.Duration(i)*time.Minute), 100)
		if err := mgr.SaveRecording(ctx, rec); err != nil {
			t.Fatalf("SaveRecording failed: %v", err)
		}
	}

	all, err := mgr.ListRecordings(ctx, ListRecordingsOptions{})
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	if len(all) != 4 || all[0].ID != "rec-d" {
		t.Fatalf("Expected 4 recordings newest first, got %d (first %q)", len(all), all[0].ID)
	}

	cam1, err := mgr.ListRecordings(ctx, ListRecordingsOptions{CameraID: "cam_01", Limit: 2})
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	if len(cam1) != 2 || cam1[0].ID != "rec-d" || cam1[1].ID != "rec-c" {
		t.Errorf("Unexpected cam_01 page: %+v", cam1)
	}

	windowed, err := mgr.ListRecordings(ctx, ListRecordingsOptions{
		StartTime: base.Add(30 * time.Second).Add(-10 * time.Second),
		EndTime:   base.Add(2*time.Minute - 10*time.Second),
	})
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	if len(windowed) != 1 || windowed[0].ID != "rec-b" {
		t.Errorf("Expected only rec-b in window, got %+v", windowed)
	}
}

func TestManager_RecordingsEndedBefore_DeleteRecording(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()
	now := time.Now()

	old := testRecording("old", "cam_01", now.Add(-10*24*time.Hour), 10)
	fresh := testRecording("fresh", "cam_01", now.Add(-time.Hour), 20)
	for _, rec := range []RecordingState{fresh, old} {
		if err := mgr.SaveRecording(ctx, rec); err != nil {
			t.Fatalf("SaveRecording failed: %v", err)
		}
	}

	expired, err := mgr.RecordingsEndedBefore(ctx, now.Add(-7*24*time.Hour), 10)
	if err != nil {
		t.Fatalf("RecordingsEndedBefore failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "old" {
		t.Fatalf("Expected only 'old' to be expired, got %+v", expired)
	}

	if err := mgr.DeleteRecording(ctx, "old"); err != nil {
		t.Fatalf("DeleteRecording failed: %v", err)
	}

	stats, err := mgr.RecordingStats(ctx)
	if err != nil {
		t.Fatalf("RecordingStats failed: %v", err)
	}
	if stats.Count != 1 || stats.TotalBytes != 20 {
		t.Errorf("Unexpected stats after delete: %+v", stats)
	}
}

func TestManager_MarkRecordingArchived(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"rec-1", "rec-2"} {
		if err := mgr.SaveRecording(ctx, testRecording(id, "cam_01", now, 10)); err != nil {
			t.Fatalf("SaveRecording failed: %v", err)
		}
	}

	if err := mgr.MarkRecordingArchived(ctx, "rec-1", "recordings/cam_01/rec-1.mp4", now); err != nil {
		t.Fatalf("MarkRecordingArchived failed: %v", err)
	}

	pending, err := mgr.PendingArchive(ctx, 10)
	if err != nil {
		t.Fatalf("PendingArchive failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "rec-2" {
		t.Errorf("Expected only rec-2 pending, got %+v", pending)
	}

	rec, err := mgr.GetRecording(ctx, "rec-1")
	if err != nil {
		t.Fatalf("GetRecording failed: %v", err)
	}
	if rec.ArchiveKey != "recordings/cam_01/rec-1.mp4" || rec.ArchivedAt == nil {
		t.Errorf("Archive fields not set: %+v", rec)
	}

	// Saving the same recording again must keep the archive fields.
	if err := mgr.SaveRecording(ctx, testRecording("rec-1", "cam_01", now, 99)); err != nil {
		t.Fatalf("SaveRecording failed: %v", err)
	}
	stats, err := mgr.RecordingStats(ctx)
	if err != nil {
		t.Fatalf("RecordingStats failed: %v", err)
	}
	if stats.Archived != 1 {
		t.Errorf("Expected 1 archived recording, got %d", stats.Archived)
	}
}

func TestManager_AlertTransitions(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	if err := mgr.SaveAlertTransition(ctx, "cam_01", "idle", "recording", []float64{0.7, 0.1}, at); err != nil {
		t.Fatalf("SaveAlertTransition failed: %v", err)
	}
	if err := mgr.SaveAlertTransition(ctx, "cam_01", "recording", "idle", []float64{0.1, 0.1}, at.Add(time.Second)); err != nil {
		t.Fatalf("SaveAlertTransition failed: %v", err)
	}

	list, err := mgr.ListAlertTransitions(ctx, "cam_01", 10)
	if err != nil {
		t.Fatalf("ListAlertTransitions failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 transitions, got %d", len(list))
	}
	if list[0].To != "idle" || list[1].To != "recording" {
		t.Errorf("Expected newest first, got %+v", list)
	}
	if len(list[1].Probabilities) != 2 || list[1].Probabilities[0] != 0.7 {
		t.Errorf("Unexpected probabilities: %v", list[1].Probabilities)
	}
	if !list[1].At.Equal(at) {
		t.Errorf("Expected At %v, got %v", at, list[1].At)
	}

	last, err := mgr.LastAlertStates(ctx)
	if err != nil {
		t.Fatalf("LastAlertStates failed: %v", err)
	}
	if last["cam_01"] != "idle" {
		t.Errorf("Expected last state idle, got %q", last["cam_01"])
	}
}
