package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CameraState is a camera's persisted registration
type CameraState struct {
	ID       string
	Reader   string
	Paths    []string
	Enabled  bool
	LastSeen *time.Time
}

// SaveCamera saves or updates a camera in the database
func (m *Manager) SaveCamera(ctx context.Context, cam CameraState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths, err := json.Marshal(cam.Paths)
	if err != nil {
		return fmt.Errorf("failed to marshal camera paths: %w", err)
	}

	query := `
		INSERT INTO cameras (id, reader, paths, enabled, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reader = excluded.reader,
			paths = excluded.paths,
			enabled = excluded.enabled,
			last_seen = COALESCE(excluded.last_seen, cameras.last_seen),
			updated_at = excluded.updated_at
	`

	var lastSeen interface{}
	if cam.LastSeen != nil {
		lastSeen = cam.LastSeen.UTC()
	}

	_, err = m.db.GetDB().ExecContext(ctx, query,
		cam.ID, cam.Reader, string(paths), cam.Enabled, lastSeen, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}

	return nil
}

// GetCamera retrieves a camera by ID. It returns nil when the camera is unknown.
func (m *Manager) GetCamera(ctx context.Context, cameraID string) (*CameraState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT id, reader, paths, enabled, last_seen FROM cameras WHERE id = ?`
	cam, err := scanCamera(m.db.GetDB().QueryRowContext(ctx, query, cameraID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return cam, nil
}

// UpdateCameraLastSeen updates the last seen timestamp for a camera
func (m *Manager) UpdateCameraLastSeen(ctx context.Context, cameraID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `UPDATE cameras SET last_seen = ?, updated_at = ? WHERE id = ?`
	_, err := m.db.GetDB().ExecContext(ctx, query, at.UTC(), time.Now().UTC(), cameraID)
	if err != nil {
		return fmt.Errorf("failed to update camera last seen: %w", err)
	}

	return nil
}

// ListCameras lists all cameras ordered by id
func (m *Manager) ListCameras(ctx context.Context, enabledOnly bool) ([]CameraState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT id, reader, paths, enabled, last_seen FROM cameras`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY id`

	rows, err := m.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []CameraState
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, *cam)
	}

	return cameras, rows.Err()
}

// DisableMissingCameras marks every camera not in keep as disabled
func (m *Manager) DisableMissingCameras(ctx context.Context, keep []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE cameras SET enabled = 0`); err != nil {
		return fmt.Errorf("failed to disable cameras: %w", err)
	}
	for _, id := range keep {
		if _, err := tx.ExecContext(ctx, `UPDATE cameras SET enabled = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to enable camera %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteCamera deletes a camera
func (m *Manager) DeleteCamera(ctx context.Context, cameraID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.GetDB().ExecContext(ctx, `DELETE FROM cameras WHERE id = ?`, cameraID)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCamera(row rowScanner) (*CameraState, error) {
	var cam CameraState
	var paths string
	var lastSeen sql.NullTime
	if err := row.Scan(&cam.ID, &cam.Reader, &paths, &cam.Enabled, &lastSeen); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paths), &cam.Paths); err != nil {
		return nil, fmt.Errorf("camera %s: invalid paths: %w", cam.ID, err)
	}
	if lastSeen.Valid {
		cam.LastSeen = &lastSeen.Time
	}
	return &cam, nil
}
