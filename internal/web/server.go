package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/broadcast"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/orchestrator"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/storage"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/telemetry"
)

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	listener   net.Listener
	router     *gin.Engine
	upgrader   websocket.Upgrader
	registry   *broadcast.Registry
	health     *health.Manager    // Optional health manager
	recordings RecordingStore     // Optional recording catalog
	storage    StorageStatsSource // Optional storage statistics
	alerts     AlertStateSource   // Optional alert states
	workers    WorkerStatusSource // Optional worker statuses
	metrics    *metrics.Metrics   // Optional Prometheus registry
	telemetry  TelemetrySource    // Optional telemetry collector
	version    string             // Application version
	startTime  time.Time          // Server start time for uptime calculation
}

// RecordingStore reads the recording catalog
type RecordingStore interface {
	ListRecordings(ctx context.Context, opts state.ListRecordingsOptions) ([]state.RecordingState, error)
	GetRecording(ctx context.Context, id string) (*state.RecordingState, error)
}

// StorageStatsSource reports catalog and disk totals
type StorageStatsSource interface {
	GetStorageStats(ctx context.Context) (*storage.StorageStats, error)
}

// AlertStateSource exposes the orchestrator's alert states
type AlertStateSource interface {
	Snapshot() map[string]orchestrator.AlertState
}

// TelemetrySource exposes the latest telemetry sample
type TelemetrySource interface {
	GetLastSnapshot() *telemetry.Snapshot
}

// WorkerStatusSource exposes camera worker statuses
type WorkerStatusSource interface {
	Statuses() []service.Snapshot
}

// NewServer creates a new web server service. Subscribers of /ws/:camera_id
// join registry.
func NewServer(cfg *config.WebConfig, registry *broadcast.Registry, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	// Set Gin mode to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		registry:    registry,
		version:     "dev",
		startTime:   time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.setupRoutes()
	return s
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetHealthManager mounts the health report on /health
func (s *Server) SetHealthManager(m *health.Manager) {
	s.health = m
}

// SetRecordingDependencies sets dependencies for the recordings API
func (s *Server) SetRecordingDependencies(recordings RecordingStore, stats StorageStatsSource) {
	s.recordings = recordings
	s.storage = stats
}

// SetPipelineDependencies sets dependencies for the status API
func (s *Server) SetPipelineDependencies(alerts AlertStateSource, workers WorkerStatusSource) {
	s.alerts = alerts
	s.workers = workers
}

// SetMetrics exposes m on /metrics
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetTelemetry sets the telemetry collector
func (s *Server) SetTelemetry(t TelemetrySource) {
	s.telemetry = t
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}
	s.GetStatus().SetStatus(service.StatusStarting)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.GetStatus().SetError(err)
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	// WriteTimeout stays disabled: websocket writes set their own deadlines.
	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", ln.Addr().String())
			s.GetStatus().SetError(err)
		}
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Web server started", "address", ln.Addr().String())
	return nil
}

// Stop stops the web server. Subscribers are closed by the registry.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.GetStatus().SetStatus(service.StatusStopping)
	s.LogInfo("Stopping web server")
	if s.registry != nil {
		s.registry.Close()
	}
	err := s.httpServer.Shutdown(ctx)
	s.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// Name returns the service name
func (s *Server) Name() string {
	return "web-server"
}

// setupRoutes sets up all routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/ws/:camera_id", s.handleSubscribe)

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/live", s.handleLiveness)
	s.router.GET("/health/ready", s.handleReadiness)
	s.router.GET("/metrics", s.handleMetrics)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/storage", s.handleStorageStats)
		api.GET("/telemetry", s.handleTelemetry)

		recordings := api.Group("/recordings")
		{
			recordings.GET("", s.handleListRecordings)
			recordings.GET("/:id", s.handleGetRecording)
			recordings.GET("/:id/thumbnail", s.handleRecordingThumbnail)
		}
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := "*"
		if len(allowed) > 0 {
			origin = ""
			reqOrigin := c.Request.Header.Get("Origin")
			for _, a := range allowed {
				if a == "*" || a == reqOrigin {
					origin = a
					break
				}
			}
		}
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
