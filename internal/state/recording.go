package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RecordingState is a finished recording in the catalog
type RecordingState struct {
	ID                string
	CameraID          string
	Path              string
	SidecarPath       string
	ThumbnailPath     string
	StartedAt         time.Time
	EndedAt           time.Time
	Frames            int
	LookbackFrames    int
	FrameRate         float64
	SizeBytes         int64
	PeakProbabilities map[string]float64
	ArchiveKey        string
	ArchivedAt        *time.Time
}

// RecordingStats summarizes the catalog
type RecordingStats struct {
	Count      int
	TotalBytes int64
	Archived   int
}

const recordingColumns = `id, camera_id, path, sidecar_path, thumbnail_path, started_at, ended_at, frames,
	lookback_frames, frame_rate, size_bytes, peak_probabilities, archive_key, archived_at`

// SaveRecording inserts or replaces a recording
func (m *Manager) SaveRecording(ctx context.Context, rec RecordingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	peaks, err := json.Marshal(rec.PeakProbabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal peak probabilities: %w", err)
	}

	var archivedAt interface{}
	if rec.ArchivedAt != nil {
		archivedAt = rec.ArchivedAt.UTC()
	}

	query := `
		INSERT INTO recordings (` + recordingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			sidecar_path = excluded.sidecar_path,
			thumbnail_path = excluded.thumbnail_path,
			ended_at = excluded.ended_at,
			frames = excluded.frames,
			size_bytes = excluded.size_bytes,
			peak_probabilities = excluded.peak_probabilities
	`

	_, err = m.db.GetDB().ExecContext(ctx, query,
		rec.ID, rec.CameraID, rec.Path, nullString(rec.SidecarPath), nullString(rec.ThumbnailPath),
		rec.StartedAt.UTC(), rec.EndedAt.UTC(), rec.Frames, rec.LookbackFrames,
		rec.FrameRate, rec.SizeBytes, string(peaks), nullString(rec.ArchiveKey), archivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save recording: %w", err)
	}

	return nil
}

// GetRecording retrieves a recording by ID. It returns nil when the id is unknown.
func (m *Manager) GetRecording(ctx context.Context, id string) (*RecordingState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT ` + recordingColumns + ` FROM recordings WHERE id = ?`
	rec, err := scanRecording(m.db.GetDB().QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return rec, nil
}

// ListRecordingsOptions filters ListRecordings
type ListRecordingsOptions struct {
	CameraID  string
	StartTime time.Time // started at or after
	EndTime   time.Time // started before
	Limit     int
	Offset    int
}

// ListRecordings returns recordings newest first
func (m *Manager) ListRecordings(ctx context.Context, opts ListRecordingsOptions) ([]RecordingState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var conditions []string
	var args []interface{}
	if opts.CameraID != "" {
		conditions = append(conditions, "camera_id = ?")
		args = append(args, opts.CameraID)
	}
	if !opts.StartTime.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, opts.StartTime.UTC())
	}
	if !opts.EndTime.IsZero() {
		conditions = append(conditions, "started_at < ?")
		args = append(args, opts.EndTime.UTC())
	}

	query := `SELECT ` + recordingColumns + ` FROM recordings`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	return m.queryRecordings(ctx, query, args...)
}

// RecordingsEndedBefore returns up to limit recordings that ended before cutoff, oldest first
func (m *Manager) RecordingsEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]RecordingState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + recordingColumns + ` FROM recordings WHERE ended_at < ? ORDER BY ended_at ASC LIMIT ?`
	return m.queryRecordings(ctx, query, cutoff.UTC(), limit)
}

// PendingArchive returns up to limit recordings not yet archived, oldest first
func (m *Manager) PendingArchive(ctx context.Context, limit int) ([]RecordingState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + recordingColumns + ` FROM recordings WHERE archived_at IS NULL ORDER BY ended_at ASC LIMIT ?`
	return m.queryRecordings(ctx, query, limit)
}

// MarkRecordingArchived records where a recording was uploaded
func (m *Manager) MarkRecordingArchived(ctx context.Context, id, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.GetDB().ExecContext(ctx,
		`UPDATE recordings SET archive_key = ?, archived_at = ? WHERE id = ?`,
		key, at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark recording archived: %w", err)
	}
	return nil
}

// DeleteRecording removes a recording from the catalog
func (m *Manager) DeleteRecording(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.db.GetDB().ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete recording: %w", err)
	}
	return nil
}

// RecordingStats counts recordings and their total size
func (m *Manager) RecordingStats(ctx context.Context) (RecordingStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats RecordingStats
	err := m.db.GetDB().QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0), COUNT(archived_at)
		FROM recordings
	`).Scan(&stats.Count, &stats.TotalBytes, &stats.Archived)
	if err != nil {
		return stats, fmt.Errorf("failed to get recording stats: %w", err)
	}
	return stats, nil
}

func (m *Manager) queryRecordings(ctx context.Context, query string, args ...interface{}) ([]RecordingState, error) {
	rows, err := m.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recordings: %w", err)
	}
	defer rows.Close()

	recordings := make([]RecordingState, 0)
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recordings = append(recordings, *rec)
	}
	return recordings, rows.Err()
}

func scanRecording(row rowScanner) (*RecordingState, error) {
	var rec RecordingState
	var sidecar, thumbnail, peaks, archiveKey sql.NullString
	var archivedAt sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.CameraID, &rec.Path, &sidecar, &thumbnail, &rec.StartedAt, &rec.EndedAt, &rec.Frames,
		&rec.LookbackFrames, &rec.FrameRate, &rec.SizeBytes, &peaks, &archiveKey, &archivedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.SidecarPath = sidecar.String
	rec.ThumbnailPath = thumbnail.String
	rec.ArchiveKey = archiveKey.String
	if archivedAt.Valid {
		rec.ArchivedAt = &archivedAt.Time
	}
	rec.PeakProbabilities = make(map[string]float64)
	if peaks.Valid && peaks.String != "" && peaks.String != "null" {
		if err := json.Unmarshal([]byte(peaks.String), &rec.PeakProbabilities); err != nil {
			return nil, fmt.Errorf("recording %s: invalid peak probabilities: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
