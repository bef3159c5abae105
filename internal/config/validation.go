package config

import (
	"fmt"
	"strings"
	"time"
)

var validPolicies = map[string]bool{"block": true, "drop_oldest": true, "drop_newest": true}

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	if c.DataDir == "" {
		errors = append(errors, "data_dir is required")
	}

	p := c.Pipeline
	if len(p.Classes) == 0 {
		errors = append(errors, "pipeline.classes must list at least one class")
	}
	seen := make(map[string]bool, len(p.Classes))
	for _, class := range p.Classes {
		if seen[class] {
			errors = append(errors, fmt.Sprintf("pipeline.classes contains duplicate class: %s", class))
		}
		seen[class] = true
	}
	if p.AlertThreshold < 0 || p.AlertThreshold > 1 {
		errors = append(errors, fmt.Sprintf("pipeline.alert_threshold must be between 0 and 1, got: %.2f", p.AlertThreshold))
	}
	if p.ClipLength <= 0 {
		errors = append(errors, fmt.Sprintf("pipeline.clip_length must be > 0, got: %d", p.ClipLength))
	}
	if p.TargetFPS <= 0 || p.TargetFPS > 1000 {
		errors = append(errors, fmt.Sprintf("pipeline.target_fps must be in (0, 1000], got: %.2f", p.TargetFPS))
	}
	if p.LookbackSeconds < 0 {
		errors = append(errors, fmt.Sprintf("pipeline.lookback_seconds must be >= 0, got: %.2f", p.LookbackSeconds))
	}
	if p.Stride <= 0 {
		errors = append(errors, fmt.Sprintf("pipeline.stride must be > 0, got: %d", p.Stride))
	}
	if p.SubjectGate < 0 {
		errors = append(errors, fmt.Sprintf("pipeline.subject_gate must be >= 0, got: %d", p.SubjectGate))
	}
	if p.MaxCommandsPerFrame <= 0 {
		errors = append(errors, fmt.Sprintf("pipeline.max_commands_per_frame must be > 0, got: %d", p.MaxCommandsPerFrame))
	}
	if p.ErrorBackoff < 0 {
		errors = append(errors, fmt.Sprintf("pipeline.error_backoff must be >= 0, got: %v", p.ErrorBackoff))
	}

	for _, nq := range []struct {
		name string
		q    QueueConfig
	}{
		{"inference", c.Queues.Inference},
		{"results", c.Queues.Results},
		{"control", c.Queues.Control},
	} {
		name, q := nq.name, nq.q
		if q.Capacity <= 0 {
			errors = append(errors, fmt.Sprintf("queues.%s.capacity must be > 0, got: %d", name, q.Capacity))
		}
		if !validPolicies[q.Policy] {
			errors = append(errors, fmt.Sprintf("queues.%s.policy: %s (must be: block, drop_oldest, drop_newest)", name, q.Policy))
		}
	}

	ids := make(map[string]bool, len(c.Cameras.Sources))
	for i, cam := range c.Cameras.Sources {
		if cam.ID == "" {
			errors = append(errors, fmt.Sprintf("cameras.sources[%d].id is required", i))
			continue
		}
		if ids[cam.ID] {
			errors = append(errors, fmt.Sprintf("cameras.sources[%d].id is duplicated: %s", i, cam.ID))
		}
		ids[cam.ID] = true
		if len(cam.Paths) == 0 && c.Cameras.VideoDir == "" {
			errors = append(errors, fmt.Sprintf("cameras.sources[%d] (%s) needs paths or cameras.video_dir", i, cam.ID))
		}
	}

	switch c.PreFilter.Kind {
	case "http":
		if c.PreFilter.ServiceURL == "" {
			errors = append(errors, "prefilter.service_url is required for kind http")
		}
	case "static":
	default:
		errors = append(errors, fmt.Sprintf("invalid prefilter.kind: %s (must be: http or static)", c.PreFilter.Kind))
	}
	if c.PreFilter.ConfidenceThreshold < 0 || c.PreFilter.ConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("prefilter.confidence_threshold must be between 0 and 1, got: %.2f", c.PreFilter.ConfidenceThreshold))
	}

	if c.Classifier.ServiceURL == "" {
		errors = append(errors, "classifier.service_url is required")
	}
	if c.Classifier.Concurrency <= 0 {
		errors = append(errors, fmt.Sprintf("classifier.concurrency must be > 0, got: %d", c.Classifier.Concurrency))
	}

	if c.Tensor.Width <= 0 || c.Tensor.Height <= 0 {
		errors = append(errors, fmt.Sprintf("tensor size must be positive, got: %dx%d", c.Tensor.Width, c.Tensor.Height))
	}
	if len(c.Tensor.Mean) != 3 || len(c.Tensor.Std) != 3 {
		errors = append(errors, "tensor.mean and tensor.std must have 3 entries")
	}
	for _, s := range c.Tensor.Std {
		if s == 0 {
			errors = append(errors, "tensor.std entries must be non-zero")
			break
		}
	}

	if c.Storage.RetentionDays < 0 {
		errors = append(errors, fmt.Sprintf("storage.retention_days must be >= 0, got: %d", c.Storage.RetentionDays))
	}
	if c.Storage.MaxDiskUsagePercent <= 0 || c.Storage.MaxDiskUsagePercent > 100 {
		errors = append(errors, fmt.Sprintf("storage.max_disk_usage_percent must be in (0, 100], got: %.1f", c.Storage.MaxDiskUsagePercent))
	}
	if c.Storage.Archive.Enabled && c.Storage.Archive.Bucket == "" {
		errors = append(errors, "storage.archive.bucket is required when archive is enabled")
	}

	if c.Web.Port < 0 || c.Web.Port > 65535 {
		errors = append(errors, fmt.Sprintf("web.port must be between 0 and 65535, got: %d", c.Web.Port))
	}
	if c.Web.OutboxSize <= 0 {
		errors = append(errors, fmt.Sprintf("web.outbox_size must be > 0, got: %d", c.Web.OutboxSize))
	}
	if c.Telemetry.Enabled && c.Telemetry.Interval < time.Second {
		errors = append(errors, fmt.Sprintf("telemetry.interval must be at least 1s, got: %s", c.Telemetry.Interval))
	}

	if c.Recording.Dir == "" {
		errors = append(errors, "recording.dir is required")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
