package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/pipeline"
)

// Classifier turns a dispatched clip into a probability vector.
type Classifier interface {
	Classify(ctx context.Context, job pipeline.InferenceJob) ([]float64, error)
}

// ClassifierClient calls the heavy classifier over HTTP.
type ClassifierClient struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
}

// ClassifierClientConfig configures a ClassifierClient.
type ClassifierClientConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

// NewClassifierClient creates a classifier client.
func NewClassifierClient(config ClassifierClientConfig, log *logger.Logger) *ClassifierClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ClassifierClient{
		serviceURL: strings.TrimRight(config.ServiceURL, "/"),
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     log,
	}
}

// Classify posts the job's clip tensor and returns the class probabilities.
func (c *ClassifierClient) Classify(ctx context.Context, job pipeline.InferenceJob) ([]float64, error) {
	if job.Clip == nil {
		return nil, errors.New("inference job has no clip")
	}

	jsonData, err := json.Marshal(ClassifyRequest{
		CameraID: job.CameraID,
		Shape:    job.Clip.Shape,
		Tensor:   job.Clip.Encode(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/classify", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		return nil, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, string(body))
	}

	var out ClassifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug("Clip classified",
		"camera_id", job.CameraID,
		"frame_seq", job.FrameSeq,
		"inference_time_ms", out.InferenceTimeMs,
	)
	return out.Probabilities, nil
}

// HealthCheck checks if the classifier is ready
func (c *ClassifierClient) HealthCheck(ctx context.Context) error {
	return probeReady(ctx, c.httpClient, c.serviceURL)
}
