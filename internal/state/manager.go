package state

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
)

// Manager persists the recording catalog, camera registry and alert history
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager opens the database under the configured data directory
func NewManager(cfg *config.Config, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := NewDatabase(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: log,
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// Ping checks that the database answers queries
func (m *Manager) Ping(ctx context.Context) error {
	var one int
	if err := m.db.GetDB().QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// SaveSystemState saves a system state value
func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}

	return nil
}

// GetSystemState retrieves a system state value
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	query := `SELECT value FROM system_state WHERE key = ?`
	err := m.db.GetDB().QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state: %w", err)
	}

	return value, nil
}

// RecoveredState is what a previous run left behind
type RecoveredState struct {
	Cameras     []CameraState
	SystemState map[string]string
	Recordings  RecordingStats
	// Cameras whose last persisted transition entered the recording state.
	// Their recordings were cut short by the previous shutdown.
	InterruptedAlerts []string
}

// RecoverState reads the persisted state on startup
func (m *Manager) RecoverState(ctx context.Context) (*RecoveredState, error) {
	m.logger.Info("Recovering persisted state")

	cameras, err := m.ListCameras(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to recover cameras: %w", err)
	}

	systemState, err := m.recoverSystemState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover system state: %w", err)
	}

	stats, err := m.RecordingStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover recording stats: %w", err)
	}

	last, err := m.LastAlertStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover alert states: %w", err)
	}

	recovered := &RecoveredState{
		Cameras:     cameras,
		SystemState: systemState,
		Recordings:  stats,
	}
	for _, cam := range sortedKeys(last) {
		if last[cam] == "recording" {
			recovered.InterruptedAlerts = append(recovered.InterruptedAlerts, cam)
		}
	}

	m.logger.Info("State recovery complete",
		"cameras", len(recovered.Cameras),
		"recordings", stats.Count,
		"interrupted_alerts", len(recovered.InterruptedAlerts),
	)

	return recovered, nil
}

func (m *Manager) recoverSystemState(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.GetDB().QueryContext(ctx, `SELECT key, value FROM system_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		state[key] = value
	}

	return state, rows.Err()
}
