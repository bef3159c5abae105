package integration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/broadcast"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/orchestrator"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/storage"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/tensor"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/video"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/worker"
)

type testPipeline struct {
	cfg      *config.Config
	state    *state.Manager
	registry *broadcast.Registry
	orch     *orchestrator.Orchestrator
	pool     *worker.Pool
	manager  *service.Manager
	sources  map[string]*endlessSource
}

// newTestPipeline wires cameras to the real queues, workers, classifier
// service, orchestrator, recorder and catalog. subjects maps each camera to
// the subject count its pre-filter reports.
func newTestPipeline(t *testing.T, subjects map[string]int, classifier ai.Classifier) *testPipeline {
	t.Helper()
	log := logger.NewNopLogger()
	dataDir := t.TempDir()

	cfg := &config.Config{
		DataDir: dataDir,
		Pipeline: config.PipelineConfig{
			Classes:             []string{"fight", "normal"},
			AlertThreshold:      0.6,
			ClipLength:          4,
			TargetFPS:           100,
			LookbackSeconds:     0.05,
			Stride:              2,
			SubjectGate:         2,
			MaxCommandsPerFrame: 32,
			ErrorBackoff:        10 * time.Millisecond,
		},
		Queues: config.QueuesConfig{
			Inference: config.QueueConfig{Capacity: 64, Policy: "drop_oldest"},
			Results:   config.QueueConfig{Capacity: 256, Policy: "block"},
			Control:   config.QueueConfig{Capacity: 64, Policy: "drop_oldest"},
		},
	}

	stateMgr, err := state.NewManager(cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { stateMgr.Close() })

	m := metrics.New()
	ids := make([]string, 0, len(subjects))
	for id := range subjects {
		ids = append(ids, id)
	}
	topology, err := pipeline.NewTopology(cfg.Queues, ids, m.QueueDrop)
	require.NoError(t, err)

	catalog, err := storage.NewCatalog(storage.CatalogConfig{
		Store:      stateMgr,
		Thumbnails: storage.NewThumbnailGenerator(8, 70),
		Metrics:    m,
	}, log)
	require.NoError(t, err)

	recorder := video.NewRecorder(video.RecorderConfig{
		Dir:          filepath.Join(dataDir, "recordings"),
		WriteSidecar: true,
		Classes:      cfg.Pipeline.Classes,
	}, fileEncoder{}, log)
	recorder.OnClosed(catalog.OnRecordingClosed)

	clips, err := tensor.NewBuilder(tensor.Options{
		Width:  8,
		Height: 8,
		Mean:   [3]float64{0.5, 0.5, 0.5},
		Std:    [3]float64{0.25, 0.25, 0.25},
	})
	require.NoError(t, err)

	data := testJPEG(t)
	sources := make(map[string]*endlessSource)
	var workers []*worker.Worker
	for id, count := range subjects {
		src := &endlessSource{cameraID: id, data: data, rate: 100}
		sources[id] = src
		control, ok := topology.Control(id)
		require.True(t, ok)
		count := count

		w, err := worker.New(worker.SettingsFromConfig(cfg.Pipeline), worker.Deps{
			Camera: config.CameraConfig{ID: id, Reader: "file", Paths: []string{id + ".mp4"}},
			OpenSource: func(ctx context.Context, kind string, paths []string) (video.Source, error) {
				return src, nil
			},
			ResolvePreFilter: func(ctx context.Context) (ai.SubjectCounter, error) {
				return ai.StaticCounter{Count: count}, nil
			},
			Clips:     clips,
			Recorder:  recorder,
			Control:   control,
			Inference: topology.Inference,
			Results:   topology.Results,
			Metrics:   m,
			Logger:    log,
		})
		require.NoError(t, err)
		workers = append(workers, w)
	}
	pool := worker.NewPool(workers, log)

	registry := broadcast.NewRegistry(1024, log)
	orch, err := orchestrator.New(orchestrator.Config{
		Classes:        cfg.Pipeline.Classes,
		AlertThreshold: cfg.Pipeline.AlertThreshold,
		ErrorBackoff:   cfg.Pipeline.ErrorBackoff,
	}, orchestrator.Deps{
		Results:     topology.Results,
		Controls:    topology,
		Publisher:   registry,
		Transitions: stateMgr,
		Metrics:     m,
		Logger:      log,
	})
	require.NoError(t, err)

	manager := service.NewManager(log)
	manager.Register(orch)
	manager.Register(ai.NewClassifierService(classifier, topology.Inference, topology.Results, 1, m, log))
	manager.Register(pool)

	return &testPipeline{
		cfg:      cfg,
		state:    stateMgr,
		registry: registry,
		orch:     orch,
		pool:     pool,
		manager:  manager,
		sources:  sources,
	}
}

func (p *testPipeline) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.manager.Start(ctx))
	t.Cleanup(func() {
		cancel()
		shutdownCtx, shutdownCancel := ContextWithTimeout(10 * time.Second)
		defer shutdownCancel()
		p.manager.Shutdown(shutdownCtx)
	})
}

func TestPipeline_AlertOpensAndClosesRecording(t *testing.T) {
	p := newTestPipeline(t, map[string]int{"cam_01": 3}, &scriptedClassifier{alertCalls: 3})

	sink := &memorySink{}
	_, err := p.registry.Join("cam_01", sink)
	require.NoError(t, err)

	p.start(t)
	ctx := context.Background()

	// Alert raised then cleared once the classifier calms down.
	require.Eventually(t, func() bool {
		transitions, err := p.state.ListAlertTransitions(ctx, "cam_01", 10)
		return err == nil && len(transitions) >= 2
	}, 10*time.Second, 20*time.Millisecond)

	transitions, err := p.state.ListAlertTransitions(ctx, "cam_01", 10)
	require.NoError(t, err)
	oldest, next := transitions[len(transitions)-1], transitions[len(transitions)-2]
	assert.Equal(t, "idle", oldest.From)
	assert.Equal(t, "recording", oldest.To)
	assert.Equal(t, "recording", next.From)
	assert.Equal(t, "idle", next.To)

	// The recording is finalized and cataloged.
	var rec state.RecordingState
	require.Eventually(t, func() bool {
		recs, err := p.state.ListRecordings(ctx, state.ListRecordingsOptions{CameraID: "cam_01"})
		if err != nil || len(recs) == 0 {
			return false
		}
		rec = recs[0]
		return true
	}, 10*time.Second, 20*time.Millisecond)

	assert.Greater(t, rec.LookbackFrames, 0)
	assert.GreaterOrEqual(t, rec.Frames, rec.LookbackFrames)
	assert.FileExists(t, rec.Path)
	assert.FileExists(t, rec.SidecarPath)
	assert.FileExists(t, rec.ThumbnailPath)
	assert.Equal(t, orchestrator.Idle, p.orch.States().Get("cam_01"))

	// Every result reached the subscriber as a labelled message.
	msgs := sink.Messages()
	require.NotEmpty(t, msgs)
	var first broadcast.Message
	require.NoError(t, json.Unmarshal(msgs[0], &first))
	assert.Equal(t, "cam_01", first.CameraID)
	assert.Equal(t, map[string]float64{"fight": 0.9, "normal": 0.1}, first.Probabilities)
}

func TestPipeline_BelowSubjectGatePublishesNeutral(t *testing.T) {
	classifier := &scriptedClassifier{alertCalls: 1000}
	p := newTestPipeline(t, map[string]int{"cam_01": 3, "cam_02": 0}, classifier)

	quiet := &memorySink{}
	_, err := p.registry.Join("cam_02", quiet)
	require.NoError(t, err)

	p.start(t)

	require.Eventually(t, func() bool { return len(quiet.Messages()) >= 3 }, 10*time.Second, 20*time.Millisecond)
	for _, payload := range quiet.Messages() {
		var msg broadcast.Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, "cam_02", msg.CameraID)
		assert.Equal(t, map[string]float64{"fight": 0, "normal": 0}, msg.Probabilities)
	}

	// The busy camera alerts, the quiet one never does.
	require.Eventually(t, func() bool {
		return p.orch.States().Get("cam_01") == orchestrator.Recording
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, orchestrator.Idle, p.orch.States().Get("cam_02"))

	_, ok := classifier.calls.Load("cam_02")
	assert.False(t, ok, "bypassed camera must not reach the classifier")
}

func TestPipeline_ShutdownClosesOpenRecording(t *testing.T) {
	p := newTestPipeline(t, map[string]int{"cam_01": 3}, &scriptedClassifier{alertCalls: 1 << 30})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.manager.Start(ctx))

	require.Eventually(t, func() bool {
		return p.orch.States().Get("cam_01") == orchestrator.Recording
	}, 10*time.Second, 20*time.Millisecond)

	// Give the worker a few frames to open the session.
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(filepath.Join(p.cfg.DataDir, "recordings", "cam_01"))
		return err == nil && len(entries) > 0
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	shutdownCtx, shutdownCancel := ContextWithTimeout(10 * time.Second)
	defer shutdownCancel()
	require.NoError(t, p.manager.Shutdown(shutdownCtx))

	assert.True(t, p.sources["cam_01"].released.Load(), "source released on shutdown")

	stats, err := p.state.RecordingStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count, "open recording finalized and cataloged on shutdown")
}
