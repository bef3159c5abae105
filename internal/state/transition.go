package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// AlertTransition is one persisted alert state change
type AlertTransition struct {
	ID            int64
	CameraID      string
	From          string
	To            string
	Probabilities []float64
	At            time.Time
}

// SaveAlertTransition appends an alert state change to the history
func (m *Manager) SaveAlertTransition(ctx context.Context, cameraID, from, to string, probabilities []float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	probs, err := json.Marshal(probabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal probabilities: %w", err)
	}

	_, err = m.db.GetDB().ExecContext(ctx, `
		INSERT INTO alert_transitions (camera_id, from_state, to_state, probabilities, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, cameraID, from, to, string(probs), at.UTC())
	if err != nil {
		return fmt.Errorf("failed to save alert transition: %w", err)
	}
	return nil
}

// ListAlertTransitions returns the newest transitions first. An empty
// cameraID lists every camera.
func (m *Manager) ListAlertTransitions(ctx context.Context, cameraID string, limit int) ([]AlertTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, camera_id, from_state, to_state, probabilities, occurred_at FROM alert_transitions`
	args := []interface{}{}
	if cameraID != "" {
		query += ` WHERE camera_id = ?`
		args = append(args, cameraID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := m.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert transitions: %w", err)
	}
	defer rows.Close()

	transitions := make([]AlertTransition, 0)
	for rows.Next() {
		var tr AlertTransition
		var probs sql.NullString
		if err := rows.Scan(&tr.ID, &tr.CameraID, &tr.From, &tr.To, &probs, &tr.At); err != nil {
			return nil, err
		}
		if probs.Valid && probs.String != "" {
			if err := json.Unmarshal([]byte(probs.String), &tr.Probabilities); err != nil {
				m.logger.Warn("Failed to parse transition probabilities", "id", tr.ID, "error", err)
			}
		}
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

// LastAlertStates returns the most recent to_state of every camera
func (m *Manager) LastAlertStates(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.GetDB().QueryContext(ctx, `
		SELECT t.camera_id, t.to_state
		FROM alert_transitions t
		JOIN (SELECT camera_id, MAX(id) AS id FROM alert_transitions GROUP BY camera_id) last
			ON t.id = last.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get last alert states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]string)
	for rows.Next() {
		var cam, to string
		if err := rows.Scan(&cam, &to); err != nil {
			return nil, err
		}
		states[cam] = to
	}
	return states, rows.Err()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
