package state

import (
	"testing"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
)

func setupTestManager(t *testing.T) *Manager {
	return openTestManager(t, t.TempDir())
}

func openTestManager(t *testing.T, dataDir string) *Manager {
	cfg := &config.Config{DataDir: dataDir}

	log, _ := logger.New(logger.LogConfig{Level: "info", Format: "text"})

	mgr, err := NewManager(cfg, log)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	return mgr
}
