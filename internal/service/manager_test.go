package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
)

type mockService struct {
	name       string
	startError error
	stopDelay  time.Duration
	onStop     func()

	mu      sync.Mutex
	started bool
	stopped bool
}

func (m *mockService) Name() string { return m.name }

func (m *mockService) Start(ctx context.Context) error {
	if m.startError != nil {
		return m.startError
	}
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

func (m *mockService) Stop(ctx context.Context) error {
	if m.stopDelay > 0 {
		time.Sleep(m.stopDelay)
	}
	if m.onStop != nil {
		m.onStop()
	}
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return nil
}

type mockServiceWithEvents struct {
	mockService
	eventBus *EventBus
}

func (m *mockServiceWithEvents) SetEventBus(bus *EventBus) { m.eventBus = bus }

func TestNewManager(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	if mgr.GetServiceCount() != 0 {
		t.Errorf("Expected 0 services, got %d", mgr.GetServiceCount())
	}
	if mgr.GetEventBus() == nil {
		t.Error("Event bus should be initialized")
	}
}

func TestManager_RegisterInjectsEventBus(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	svc := &mockServiceWithEvents{mockService: mockService{name: "orchestrator"}}
	mgr.Register(svc)

	if svc.eventBus != mgr.GetEventBus() {
		t.Error("Event bus should be set for service with events")
	}
	if got := mgr.GetServiceStatus("orchestrator").GetStatus(); got != StatusStopped {
		t.Errorf("Expected status %s, got %s", StatusStopped, got)
	}
}

func TestManager_StartAndShutdownOrder(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	var mu sync.Mutex
	var stopOrder []string
	for _, name := range []string{"storage", "pipeline", "web"} {
		name := name
		mgr.Register(&mockService{name: name, onStop: func() {
			mu.Lock()
			stopOrder = append(stopOrder, name)
			mu.Unlock()
		}})
	}

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for name, status := range mgr.GetAllStatuses() {
		if !status.IsRunning() {
			t.Errorf("Service %s should be running, got %s", name, status.GetStatus())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	want := []string{"web", "pipeline", "storage"}
	if len(stopOrder) != len(want) {
		t.Fatalf("Expected %d services stopped, got %d", len(want), len(stopOrder))
	}
	for i := range want {
		if stopOrder[i] != want[i] {
			t.Errorf("Stop #%d: expected %s, got %s", i, want[i], stopOrder[i])
		}
	}
	if got := mgr.GetServiceStatus("web").GetStatus(); got != StatusStopped {
		t.Errorf("Expected web to be stopped, got %s", got)
	}
}

func TestManager_StartFailureStopsSequence(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	first := &mockService{name: "storage"}
	failing := &mockService{name: "web", startError: errors.New("address in use")}
	never := &mockService{name: "metrics"}
	mgr.Register(first)
	mgr.Register(failing)
	mgr.Register(never)

	err := mgr.Start(context.Background())
	if err == nil {
		t.Fatal("Start should report the failing service")
	}
	if !errors.Is(err, failing.startError) {
		t.Errorf("Expected wrapped start error, got %v", err)
	}

	if got := mgr.GetServiceStatus("web").GetStatus(); got != StatusError {
		t.Errorf("Expected status %s, got %s", StatusError, got)
	}
	if never.started {
		t.Error("Services after a failure should not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !first.stopped {
		t.Error("Started services should be stopped on shutdown")
	}
	if never.stopped {
		t.Error("Services that never started should not be stopped")
	}
}

func TestManager_ShutdownTimeout(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(&mockService{name: "slow", stopDelay: 2 * time.Second})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := mgr.Shutdown(ctx); err == nil {
		t.Error("Shutdown should time out and return an error")
	}
}
