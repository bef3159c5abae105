package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/video"
)

// Client is an HTTP client for the object detection service backing the
// pre-filter.
type Client struct {
	serviceURL        string
	httpClient        *http.Client
	logger            *logger.Logger
	defaultConfidence float64
	subjectClass      string
}

// ClientConfig contains configuration for the detection client
type ClientConfig struct {
	ServiceURL          string
	Timeout             time.Duration
	ConfidenceThreshold float64
	SubjectClass        string
}

// NewClient creates a new detection service client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Client{
		serviceURL: strings.TrimRight(config.ServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:            log,
		defaultConfidence: config.ConfidenceThreshold,
		subjectClass:      config.SubjectClass,
	}
}

// Infer performs detection on a single frame
func (c *Client) Infer(ctx context.Context, frame video.Frame) (*InferenceResponse, error) {
	req := InferenceRequest{
		Image: base64.StdEncoding.EncodeToString(frame.Data),
	}
	if c.defaultConfidence > 0 {
		req.ConfidenceThreshold = &c.defaultConfidence
	}
	if c.subjectClass != "" {
		req.EnabledClasses = []string{c.subjectClass}
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/inference", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn(
			"Detection service returned error",
			"status", resp.StatusCode,
			"response", string(body),
		)
		return nil, fmt.Errorf("detection service returned status %d: %s", resp.StatusCode, string(body))
	}

	var inferenceResp InferenceResponse
	if err := json.Unmarshal(body, &inferenceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug(
		"Detection completed",
		"camera_id", frame.CameraID,
		"detection_count", inferenceResp.DetectionCount,
		"inference_time_ms", inferenceResp.InferenceTimeMs,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)

	return &inferenceResp, nil
}

// CountSubjects returns the number of detections of the subject class whose
// confidence reaches the configured threshold.
func (c *Client) CountSubjects(ctx context.Context, frame video.Frame) (int, error) {
	resp, err := c.Infer(ctx, frame)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, box := range resp.BoundingBoxes {
		if c.subjectClass != "" && !strings.EqualFold(box.ClassName, c.subjectClass) {
			continue
		}
		if box.Confidence < c.defaultConfidence {
			continue
		}
		count++
	}
	return count, nil
}

// HealthCheck checks if the detection service is ready
func (c *Client) HealthCheck(ctx context.Context) error {
	return probeReady(ctx, c.httpClient, c.serviceURL)
}

func probeReady(ctx context.Context, client *http.Client, serviceURL string) error {
	url := fmt.Sprintf("%s/health/ready", serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service at %s not ready: status %d", serviceURL, resp.StatusCode)
	}

	return nil
}
