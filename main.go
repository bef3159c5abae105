package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/broadcast"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/orchestrator"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/storage"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/telemetry"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/tensor"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/video"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/web"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/worker"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath, envFile string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.StringVar(&envFile, "env", ".env", "Path to optional .env file")
	flag.Parse()

	cfgSvc, err := config.NewService(configPath, envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting edge analytics pipeline",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"config", cfgSvc.Path(),
	)

	if err := run(cfg, log); err != nil {
		log.Error("Edge analytics pipeline failed", "error", err)
		log.Sync()
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// Persistent state
	stateMgr, err := state.NewManager(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer stateMgr.Close()

	recovered, err := stateMgr.RecoverState(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover state: %w", err)
	}
	for _, id := range recovered.InterruptedAlerts {
		log.Warn("Alert was active at last shutdown; recording did not finish", "camera_id", id)
	}

	// Cameras and queues
	cameras, skipped, err := pipeline.ResolveCameras(cfg.Cameras, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return fmt.Errorf("failed to resolve cameras: %w", err)
	}
	for _, id := range skipped {
		log.Warn("Camera has no video source; skipping", "camera_id", id)
	}
	if len(cameras) == 0 {
		return fmt.Errorf("no cameras configured")
	}

	cameraIDs := make([]string, 0, len(cameras))
	for _, cam := range cameras {
		cameraIDs = append(cameraIDs, cam.ID)
		if err := stateMgr.SaveCamera(ctx, state.CameraState{
			ID:      cam.ID,
			Reader:  cam.Reader,
			Paths:   cam.Paths,
			Enabled: true,
		}); err != nil {
			return fmt.Errorf("failed to register camera %s: %w", cam.ID, err)
		}
	}
	if err := stateMgr.DisableMissingCameras(ctx, cameraIDs); err != nil {
		log.Warn("Failed to disable removed cameras", "error", err)
	}

	topology, err := pipeline.NewTopology(cfg.Queues, cameraIDs, m.QueueDrop)
	if err != nil {
		return fmt.Errorf("failed to build queues: %w", err)
	}
	defer topology.Close()
	m.RegisterQueueDepths(topology.Depths)

	// Video and recording
	ffmpeg, err := video.NewFFmpegWrapper(cfg.Recording.FFmpegPath, log)
	if err != nil {
		return fmt.Errorf("ffmpeg is required: %w", err)
	}

	recorder := video.NewRecorder(video.RecorderConfig{
		Dir:          cfg.Recording.Dir,
		Codec:        cfg.Recording.Codec,
		Quality:      cfg.Recording.Quality,
		WriteSidecar: cfg.Recording.WriteSidecar,
		Classes:      cfg.Pipeline.Classes,
	}, ffmpeg, log)

	diskMonitor, err := storage.NewDiskMonitor(cfg.Recording.Dir, cfg.Storage.MaxDiskUsagePercent, log)
	if err != nil {
		return fmt.Errorf("failed to initialize disk monitor: %w", err)
	}
	var thumbs *storage.ThumbnailGenerator
	if cfg.Recording.ThumbnailSize > 0 {
		thumbs = storage.NewThumbnailGenerator(cfg.Recording.ThumbnailSize, 75)
	}
	catalog, err := storage.NewCatalog(storage.CatalogConfig{
		Store:       stateMgr,
		DiskMonitor: diskMonitor,
		Thumbnails:  thumbs,
		Metrics:     m,
	}, log)
	if err != nil {
		return err
	}
	recorder.OnClosed(catalog.OnRecordingClosed)

	clips, err := tensor.NewBuilder(tensor.Options{
		Width:  cfg.Tensor.Width,
		Height: cfg.Tensor.Height,
		Mean:   [3]float64{cfg.Tensor.Mean[0], cfg.Tensor.Mean[1], cfg.Tensor.Mean[2]},
		Std:    [3]float64{cfg.Tensor.Std[0], cfg.Tensor.Std[1], cfg.Tensor.Std[2]},
	})
	if err != nil {
		return fmt.Errorf("failed to create clip builder: %w", err)
	}

	svcMgr := service.NewManager(log)
	bus := svcMgr.GetEventBus()

	// Camera workers
	settings := worker.SettingsFromConfig(cfg.Pipeline)
	workers := make([]*worker.Worker, 0, len(cameras))
	for _, cam := range cameras {
		control, _ := topology.Control(cam.ID)
		camLog := log.With("camera_id", cam.ID)
		w, err := worker.New(settings, worker.Deps{
			Camera: cam,
			OpenSource: func(ctx context.Context, kind string, paths []string) (video.Source, error) {
				return video.NewSource(ctx, kind, paths, video.SourceOptions{
					CameraID:      cam.ID,
					Decoder:       ffmpeg,
					RTSPTimeout:   cfg.Cameras.RTSP.Timeout,
					RTSPTransport: cfg.Cameras.RTSP.Transport,
					Logger:        camLog,
				})
			},
			ResolvePreFilter: func(ctx context.Context) (ai.SubjectCounter, error) {
				return ai.ResolvePreFilter(ctx, cfg.PreFilter, camLog)
			},
			Clips:     clips,
			Recorder:  recorder,
			Control:   control,
			Inference: topology.Inference,
			Results:   topology.Results,
			Metrics:   m,
			Logger:    log,
			Publish: func(eventType service.EventType, data map[string]interface{}) {
				bus.Publish(service.Event{Type: eventType, Source: "worker", Timestamp: time.Now(), Data: data})
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create worker for %s: %w", cam.ID, err)
		}
		workers = append(workers, w)
	}
	pool := worker.NewPool(workers, log)

	// Classifier
	classifierClient := ai.NewClassifierClient(ai.ClassifierClientConfig{
		ServiceURL: cfg.Classifier.ServiceURL,
		Timeout:    cfg.Classifier.Timeout,
	}, log)
	classifierSvc := ai.NewClassifierService(classifierClient, topology.Inference, topology.Results, cfg.Classifier.Concurrency, m, log)

	// Subscribers and orchestrator
	registry := broadcast.NewRegistry(cfg.Web.OutboxSize, log)
	registry.OnChange(m.SetSubscribers)

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
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// Storage maintenance
	retention, err := storage.NewRetentionPolicy(cfg.Storage.RetentionDays, catalog, diskMonitor, log)
	if err != nil {
		return err
	}
	var archiver *storage.Archiver
	if cfg.Storage.Archive.Enabled {
		archiver, err = storage.NewS3Archiver(cfg.Storage.Archive, stateMgr, log)
		if err != nil {
			return fmt.Errorf("failed to create archiver: %w", err)
		}
	}
	scheduler, err := storage.NewScheduler(storage.SchedulerConfig{
		RetentionSchedule: cfg.Storage.RetentionSchedule,
		ArchiveSchedule:   cfg.Storage.Archive.Schedule,
	}, retention, archiver, log)
	if err != nil {
		return err
	}

	// Health and web
	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewSystemChecker(90, 95))
	healthMgr.RegisterChecker(health.NewDatabaseChecker(stateMgr, cfg.DatabasePath()))
	healthMgr.RegisterChecker(health.NewFFmpegChecker(ffmpeg))
	healthMgr.RegisterChecker(health.NewServiceChecker("classifier", cfg.Classifier.ServiceURL, classifierClient))
	if cfg.PreFilter.Kind == "http" {
		healthMgr.RegisterChecker(health.NewServiceChecker("prefilter", cfg.PreFilter.ServiceURL, ai.NewClient(ai.ClientConfig{
			ServiceURL: cfg.PreFilter.ServiceURL,
			Timeout:    cfg.PreFilter.Timeout,
		}, log)))
	}
	healthMgr.RegisterChecker(health.NewStorageChecker(diskMonitor))

	collector := telemetry.NewCollector(&cfg.Telemetry, telemetry.Sources{
		Disk:        diskMonitor,
		Recordings:  stateMgr,
		Workers:     pool,
		Subscribers: registry.Counts,
		QueueDepths: topology.Depths,
	}, m, log)

	webServer := web.NewServer(&cfg.Web, registry, log)
	webServer.SetVersion(version)
	webServer.SetHealthManager(healthMgr)
	webServer.SetRecordingDependencies(stateMgr, catalog)
	webServer.SetPipelineDependencies(orch.States(), pool)
	webServer.SetMetrics(m)
	webServer.SetTelemetry(collector)

	// Consumers start before producers; shutdown runs in reverse.
	svcMgr.Register(orch)
	svcMgr.Register(classifierSvc)
	svcMgr.Register(webServer)
	svcMgr.Register(scheduler)
	svcMgr.Register(collector)
	svcMgr.Register(pool)

	trackLastSeen(ctx, bus, stateMgr, log)

	if err := svcMgr.Start(ctx); err != nil {
		shutdown(svcMgr, log)
		return fmt.Errorf("failed to start services: %w", err)
	}
	stateMgr.SaveSystemState(ctx, "last_started_at", time.Now().UTC().Format(time.RFC3339))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	workersDone := pool.Done()
	for {
		select {
		case sig := <-sigChan:
			log.Info("Received shutdown signal", "signal", sig)
			cancel()
			return shutdown(svcMgr, log)
		case <-workersDone:
			// Subscribers and the API stay up after file sources run out.
			log.Info("All camera workers have finished")
			workersDone = nil
		}
	}
}

func shutdown(svcMgr *service.Manager, log *logger.Logger) error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}

// trackLastSeen records when each camera worker last changed state
func trackLastSeen(ctx context.Context, bus *service.EventBus, stateMgr *state.Manager, log *logger.Logger) {
	handler := func(ctx context.Context, event service.Event) error {
		id, _ := event.Data["camera_id"].(string)
		if id == "" {
			return nil
		}
		return stateMgr.UpdateCameraLastSeen(ctx, id, event.Timestamp)
	}
	onError := func(event service.Event, err error) {
		log.Warn("Failed to update camera last seen", "event", event.Type, "error", err)
	}
	for _, t := range []service.EventType{service.EventTypeWorkerStarted, service.EventTypeWorkerStopped, service.EventTypeWorkerFailed} {
		bus.SubscribeWithHandler(ctx, t, handler, onError)
	}
}
