package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/service"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check
type Check struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status    Status                      `json:"status"`
	Timestamp time.Time                   `json:"timestamp"`
	Uptime    string                      `json:"uptime"`
	Checks    map[string]Check            `json:"checks"`
	Services  map[string]service.Snapshot `json:"services,omitempty"`
}

// Checker is an interface for health checkers
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// StatusSource lists service statuses. *service.Manager implements it.
type StatusSource interface {
	GetAllStatuses() map[string]*service.ServiceStatus
}

// Manager runs health checks and serves the probe endpoints
type Manager struct {
	logger    *logger.Logger
	checkers  []Checker
	services  StatusSource
	startTime time.Time
	timeout   time.Duration
	mu        sync.RWMutex
}

// NewManager creates a new health check manager
func NewManager(log *logger.Logger, services StatusSource) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{
		logger:    log,
		checkers:  make([]Checker, 0),
		services:  services,
		startTime: time.Now(),
		timeout:   5 * time.Second,
	}
}

// RegisterChecker registers a health checker
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Check performs all health checks
func (m *Manager) Check(ctx context.Context) HealthReport {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	checks := make(map[string]Check, len(checkers))
	overallStatus := StatusHealthy

	for _, checker := range checkers {
		check := checker.Check(ctx)
		checks[check.Name] = check

		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
		} else if check.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	services := make(map[string]service.Snapshot)
	if m.services != nil {
		for name, status := range m.services.GetAllStatuses() {
			snap := status.Snapshot()
			services[name] = snap
			if snap.Status == service.StatusError && overallStatus == StatusHealthy {
				overallStatus = StatusDegraded
			}
		}
	}

	return HealthReport{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		Checks:    checks,
		Services:  services,
	}
}

// CheckNames returns the registered checker names in order
func (m *Manager) CheckNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checkers))
	for _, c := range m.checkers {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names
}

// HandleHealth serves the full report. Unhealthy reports return 503.
func (m *Manager) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := m.Check(r.Context())

	statusCode := http.StatusOK
	if report.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, report)
}

// HandleLiveness serves the liveness probe
func (m *Manager) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HandleReadiness serves the readiness probe: ready unless unhealthy
func (m *Manager) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	report := m.Check(r.Context())

	statusCode := http.StatusOK
	if report.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]interface{}{
		"status":    report.Status,
		"timestamp": report.Timestamp,
		"ready":     report.Status != StatusUnhealthy,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
