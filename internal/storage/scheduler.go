package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/service"
)

// SchedulerConfig holds cron specs with a seconds field
type SchedulerConfig struct {
	RetentionSchedule string
	ArchiveSchedule   string
}

// Scheduler runs retention and archive sweeps on cron schedules
type Scheduler struct {
	*service.ServiceBase
	cfg       SchedulerConfig
	retention *RetentionPolicy
	archiver  *Archiver // nil when archiving is disabled
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewScheduler validates the schedules
func NewScheduler(cfg SchedulerConfig, retention *RetentionPolicy, archiver *Archiver, log *logger.Logger) (*Scheduler, error) {
	if retention == nil {
		return nil, fmt.Errorf("scheduler requires a retention policy")
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cfg.RetentionSchedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.RetentionSchedule, err)
	}
	if archiver != nil {
		if _, err := parser.Parse(cfg.ArchiveSchedule); err != nil {
			return nil, fmt.Errorf("invalid archive schedule %q: %w", cfg.ArchiveSchedule, err)
		}
	}

	return &Scheduler{
		ServiceBase: service.NewServiceBase("storage-scheduler", log),
		cfg:         cfg,
		retention:   retention,
		archiver:    archiver,
	}, nil
}

// Start registers the jobs and runs a retention pass right away
func (s *Scheduler) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)
	s.ctx, s.cancel = context.WithCancel(ctx)

	cl := cronLogger{s.Logger()}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := s.cron.AddFunc(s.cfg.RetentionSchedule, s.runRetention); err != nil {
		s.GetStatus().SetError(err)
		return fmt.Errorf("failed to schedule retention: %w", err)
	}
	if s.archiver != nil {
		if _, err := s.cron.AddFunc(s.cfg.ArchiveSchedule, s.runArchive); err != nil {
			s.GetStatus().SetError(err)
			return fmt.Errorf("failed to schedule archive: %w", err)
		}
	}

	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runRetention()
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Storage scheduler started",
		"retention_schedule", s.cfg.RetentionSchedule,
		"archive_enabled", s.archiver != nil,
	)
	return nil
}

// Stop stops the cron scheduler and waits for running jobs
func (s *Scheduler) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)
	if s.cancel != nil {
		s.cancel()
	}

	if s.cron != nil {
		stopped := s.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.wg.Wait()

	s.GetStatus().SetStatus(service.StatusStopped)
	s.LogInfo("Storage scheduler stopped")
	return nil
}

func (s *Scheduler) runRetention() {
	report, err := s.retention.Enforce(s.ctx)
	if err != nil {
		s.LogError("Retention pass failed", err)
		return
	}
	s.LogDebug("Retention pass finished", "expired", report.Expired, "freed_space", report.FreedSpace)
}

func (s *Scheduler) runArchive() {
	n, err := s.archiver.Sweep(s.ctx)
	if err != nil {
		s.LogError("Archive sweep failed", err)
		return
	}
	if n > 0 {
		s.LogInfo("Archive sweep finished", "archived", n)
	}
}

// cronLogger adapts the zap logger to cron.Logger
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
