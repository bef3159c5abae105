package ai

import (
	"context"
	"fmt"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/video"
)

// Pre-filter kinds
const (
	PreFilterHTTP   = "http"
	PreFilterStatic = "static"
)

// SubjectCounter is the cheap per-stride gate run before heavy analysis.
type SubjectCounter interface {
	CountSubjects(ctx context.Context, frame video.Frame) (int, error)
}

// StaticCounter reports the same count for every frame.
type StaticCounter struct {
	Count int
}

// CountSubjects returns the fixed count.
func (s StaticCounter) CountSubjects(context.Context, video.Frame) (int, error) {
	return s.Count, nil
}

// ResolvePreFilter builds the configured pre-filter. The http kind is probed
// for readiness so an unreachable service fails here rather than per frame.
func ResolvePreFilter(ctx context.Context, cfg config.PreFilterConfig, log *logger.Logger) (SubjectCounter, error) {
	switch cfg.Kind {
	case PreFilterStatic:
		return StaticCounter{Count: cfg.StaticCount}, nil
	case PreFilterHTTP, "":
		client := NewClient(ClientConfig{
			ServiceURL:          cfg.ServiceURL,
			Timeout:             cfg.Timeout,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			SubjectClass:        cfg.SubjectClass,
		}, log)
		if err := client.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("pre-filter unavailable: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown pre-filter kind %q", cfg.Kind)
	}
}
