package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/service"
)

// ClassifierService drains the inference queue through a Classifier and
// publishes the probability vectors on the shared result queue.
type ClassifierService struct {
	*service.ServiceBase
	classifier  Classifier
	jobs        *pipeline.Queue[pipeline.InferenceJob]
	results     *pipeline.Queue[pipeline.Result]
	concurrency int
	metrics     *metrics.Metrics
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewClassifierService creates the service. concurrency bounds the number of
// in-flight classifier calls.
func NewClassifierService(
	classifier Classifier,
	jobs *pipeline.Queue[pipeline.InferenceJob],
	results *pipeline.Queue[pipeline.Result],
	concurrency int,
	m *metrics.Metrics,
	log *logger.Logger,
) *ClassifierService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ClassifierService{
		ServiceBase: service.NewServiceBase("classifier", log),
		classifier:  classifier,
		jobs:        jobs,
		results:     results,
		concurrency: concurrency,
		metrics:     m,
	}
}

// Start begins consuming jobs.
func (s *ClassifierService) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Classifier service started", "concurrency", s.concurrency)
	return nil
}

// Stop stops consuming and waits for in-flight calls.
func (s *ClassifierService) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (s *ClassifierService) run(ctx context.Context) {
	defer close(s.done)

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for {
		job, err := s.jobs.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, pipeline.ErrQueueClosed) {
				s.LogError("Inference queue receive failed", err)
			}
			break
		}
		g.Go(func() error {
			s.handle(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *ClassifierService) handle(ctx context.Context, job pipeline.InferenceJob) {
	defer func() {
		if r := recover(); r != nil {
			s.LogError("Classifier panicked", fmt.Errorf("panic: %v", r), "camera_id", job.CameraID)
		}
	}()

	start := time.Now()
	probs, err := s.classifier.Classify(ctx, job)
	s.metrics.ObserveClassifier(time.Since(start), err)
	if err != nil {
		if ctx.Err() == nil {
			s.LogWarn("Classification failed", "camera_id", job.CameraID, "frame_seq", job.FrameSeq, "error", err)
		}
		return
	}

	result := pipeline.Result{
		CameraID:      job.CameraID,
		Probabilities: probs,
		ObservedAt:    time.Now(),
	}
	if err := s.results.Send(ctx, result); err != nil && ctx.Err() == nil {
		s.LogWarn("Dropping classification result", "camera_id", job.CameraID, "error", err)
	}
}
