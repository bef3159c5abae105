package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database manages the SQLite database holding the recording catalog
type Database struct {
	db     *sql.DB
	dbPath string
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := ensureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	database := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// GetDB returns the underlying database connection
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.dbPath
}

func (d *Database) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS system_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Cameras registered from configuration
	CREATE TABLE IF NOT EXISTS cameras (
		id TEXT PRIMARY KEY,
		reader TEXT NOT NULL,
		paths TEXT NOT NULL, -- JSON array
		enabled BOOLEAN DEFAULT 1,
		last_seen TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Finished alert recordings
	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		camera_id TEXT NOT NULL,
		path TEXT NOT NULL,
		sidecar_path TEXT,
		thumbnail_path TEXT,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP NOT NULL,
		frames INTEGER NOT NULL,
		lookback_frames INTEGER NOT NULL DEFAULT 0,
		frame_rate REAL NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		peak_probabilities TEXT, -- JSON object
		archive_key TEXT,
		archived_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Alert state history
	CREATE TABLE IF NOT EXISTS alert_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		camera_id TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		probabilities TEXT, -- JSON array
		occurred_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recordings_camera_started ON recordings(camera_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_recordings_ended ON recordings(ended_at);
	CREATE INDEX IF NOT EXISTS idx_recordings_archived ON recordings(archived_at);
	CREATE INDEX IF NOT EXISTS idx_alert_transitions_camera ON alert_transitions(camera_id, occurred_at);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
