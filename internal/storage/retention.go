package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
)

const retentionBatch = 100

// RetentionReport summarizes one enforcement pass
type RetentionReport struct {
	Expired    int
	FreedSpace int
	Failed     int
}

// RetentionPolicy deletes recordings older than the retention period and,
// while the disk is over its threshold, the oldest remaining ones
type RetentionPolicy struct {
	retentionDays int
	catalog       *Catalog
	store         Store
	diskMonitor   *DiskMonitor
	logger        *logger.Logger
	mu            sync.Mutex
	enforcing     bool
	now           func() time.Time
}

// NewRetentionPolicy creates a new retention policy
func NewRetentionPolicy(retentionDays int, catalog *Catalog, diskMonitor *DiskMonitor, log *logger.Logger) (*RetentionPolicy, error) {
	if catalog == nil {
		return nil, fmt.Errorf("retention policy requires a catalog")
	}
	if retentionDays <= 0 {
		retentionDays = 7
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &RetentionPolicy{
		retentionDays: retentionDays,
		catalog:       catalog,
		store:         catalog.store,
		diskMonitor:   diskMonitor,
		logger:        log,
		now:           time.Now,
	}, nil
}

// Enforce runs one retention pass
func (r *RetentionPolicy) Enforce(ctx context.Context) (RetentionReport, error) {
	r.mu.Lock()
	if r.enforcing {
		r.mu.Unlock()
		return RetentionReport{}, fmt.Errorf("retention policy is already being enforced")
	}
	r.enforcing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.enforcing = false
		r.mu.Unlock()
	}()

	var report RetentionReport
	if err := r.deleteExpired(ctx, &report); err != nil {
		return report, err
	}
	if err := r.freeDiskSpace(ctx, &report); err != nil {
		return report, err
	}

	if report.Expired > 0 || report.FreedSpace > 0 || report.Failed > 0 {
		r.logger.Info("Retention pass complete",
			"expired", report.Expired,
			"freed_space", report.FreedSpace,
			"failed", report.Failed,
		)
	}
	return report, nil
}

func (r *RetentionPolicy) deleteExpired(ctx context.Context, report *RetentionReport) error {
	cutoff := r.now().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)

	for {
		expired, err := r.store.RecordingsEndedBefore(ctx, cutoff, retentionBatch)
		if err != nil {
			return fmt.Errorf("failed to list expired recordings: %w", err)
		}

		deleted := 0
		for _, rec := range expired {
			if err := r.catalog.DeleteRecording(ctx, rec); err != nil {
				r.logger.Warn("Failed to delete expired recording", "recording_id", rec.ID, "error", err)
				report.Failed++
				continue
			}
			deleted++
		}
		report.Expired += deleted

		// A batch where nothing could be deleted would be returned again.
		if len(expired) < retentionBatch || deleted == 0 {
			return nil
		}
	}
}

func (r *RetentionPolicy) freeDiskSpace(ctx context.Context, report *RetentionReport) error {
	if r.diskMonitor == nil {
		return nil
	}

	for {
		full, err := r.diskMonitor.IsDiskFull(ctx)
		if err != nil {
			return fmt.Errorf("failed to check disk usage: %w", err)
		}
		if !full {
			return nil
		}

		oldest, err := r.store.RecordingsEndedBefore(ctx, r.now(), 1)
		if err != nil {
			return fmt.Errorf("failed to list recordings: %w", err)
		}
		if len(oldest) == 0 {
			r.logger.Warn("Disk usage over threshold with no recordings left to delete",
				"path", r.diskMonitor.Path(),
				"max_usage_percent", r.diskMonitor.MaxUsagePercent(),
			)
			return nil
		}

		if err := r.catalog.DeleteRecording(ctx, oldest[0]); err != nil {
			report.Failed++
			return fmt.Errorf("failed to delete recording %s: %w", oldest[0].ID, err)
		}
		report.FreedSpace++
	}
}
