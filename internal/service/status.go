package service

import (
	"sync"
	"time"
)

// Status is a coarse lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// ServiceStatus tracks the lifecycle of one service or worker.
type ServiceStatus struct {
	Name      string
	StartedAt time.Time

	status Status
	err    error
	mu     sync.RWMutex
}

// NewServiceStatus creates a status in the stopped state.
func NewServiceStatus(name string) *ServiceStatus {
	return &ServiceStatus{
		Name:   name,
		status: StatusStopped,
	}
}

// SetStatus updates the state. Entering running records the start time and
// clears any previous error.
func (s *ServiceStatus) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == StatusRunning && s.status != StatusRunning {
		s.StartedAt = time.Now()
		s.err = nil
	}
	s.status = status
}

// SetError moves the status to error and remembers err.
func (s *ServiceStatus) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.err = err
}

func (s *ServiceStatus) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *ServiceStatus) GetError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *ServiceStatus) IsRunning() bool {
	return s.GetStatus() == StatusRunning
}

// GetUptime is zero unless the status is running.
func (s *ServiceStatus) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusRunning || s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}

// Snapshot is a JSON friendly copy of the status.
type Snapshot struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Uptime    string    `json:"uptime"`
	Error     string    `json:"error,omitempty"`
}

// Snapshot returns a consistent copy of the status.
func (s *ServiceStatus) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Name: s.Name, Status: s.status, StartedAt: s.StartedAt, Uptime: "0s"}
	if s.status == StatusRunning && !s.StartedAt.IsZero() {
		snap.Uptime = time.Since(s.StartedAt).Truncate(time.Second).String()
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}
