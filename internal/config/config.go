package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log        LogConfig        `yaml:"log"`
	DataDir    string           `yaml:"data_dir"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Queues     QueuesConfig     `yaml:"queues"`
	Cameras    CamerasConfig    `yaml:"cameras"`
	PreFilter  PreFilterConfig  `yaml:"prefilter"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Tensor     TensorConfig     `yaml:"tensor"`
	Recording  RecordingConfig  `yaml:"recording"`
	Storage    StorageConfig    `yaml:"storage"`
	Web        WebConfig        `yaml:"web"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PipelineConfig holds the values injected into workers and the orchestrator.
type PipelineConfig struct {
	Classes             []string      `yaml:"classes"`
	AlertThreshold      float64       `yaml:"alert_threshold"`
	ClipLength          int           `yaml:"clip_length"` // frames per clip at target_fps
	TargetFPS           float64       `yaml:"target_fps"`
	LookbackSeconds     float64       `yaml:"lookback_seconds"`
	Stride              int           `yaml:"stride"`
	SubjectGate         int           `yaml:"subject_gate"`
	MaxCommandsPerFrame int           `yaml:"max_commands_per_frame"`
	ErrorBackoff        time.Duration `yaml:"error_backoff"`
}

// ClipSeconds is the clip duration implied by clip_length at target_fps.
func (p PipelineConfig) ClipSeconds() float64 {
	if p.TargetFPS <= 0 {
		return 0
	}
	return float64(p.ClipLength) / p.TargetFPS
}

// QueueConfig configures one bounded channel.
type QueueConfig struct {
	Capacity int    `yaml:"capacity"`
	Policy   string `yaml:"policy"` // block, drop_oldest, drop_newest
}

// QueuesConfig configures the channel topology.
type QueuesConfig struct {
	Inference QueueConfig `yaml:"inference"`
	Results   QueueConfig `yaml:"results"`
	Control   QueueConfig `yaml:"control"`
}

// CameraConfig describes one camera worker.
type CameraConfig struct {
	ID     string   `yaml:"id"`
	Reader string   `yaml:"reader"` // file or rtsp
	Paths  []string `yaml:"paths"`
}

// CamerasConfig contains camera definitions and optional video discovery.
type CamerasConfig struct {
	VideoDir string         `yaml:"video_dir"`
	Sources  []CameraConfig `yaml:"sources"`
	RTSP     RTSPConfig     `yaml:"rtsp"`
}

// RTSPConfig contains RTSP client configuration
type RTSPConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	Transport string        `yaml:"transport"` // tcp or udp
}

// PreFilterConfig configures the subject-count pre-filter.
type PreFilterConfig struct {
	Kind                string        `yaml:"kind"` // http or static
	ServiceURL          string        `yaml:"service_url"`
	SubjectClass        string        `yaml:"subject_class"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	Timeout             time.Duration `yaml:"timeout"`
	StaticCount         int           `yaml:"static_count"`
}

// ClassifierConfig configures the heavy classifier adapter.
type ClassifierConfig struct {
	ServiceURL  string        `yaml:"service_url"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// TensorConfig controls clip preprocessing.
type TensorConfig struct {
	Width  int       `yaml:"width"`
	Height int       `yaml:"height"`
	Mean   []float64 `yaml:"mean"`
	Std    []float64 `yaml:"std"`
}

// RecordingConfig controls the recording writer.
type RecordingConfig struct {
	Dir           string `yaml:"dir"`
	FFmpegPath    string `yaml:"ffmpeg_path"`
	Codec         string `yaml:"codec"`
	Quality       int    `yaml:"quality"`
	WriteSidecar  bool   `yaml:"write_sidecar"`
	ThumbnailSize int    `yaml:"thumbnail_size"` // longest edge in pixels, negative disables
}

// StorageConfig contains recording retention and archive configuration
type StorageConfig struct {
	RetentionDays       int           `yaml:"retention_days"`
	RetentionSchedule   string        `yaml:"retention_schedule"` // cron spec with seconds
	MaxDiskUsagePercent float64       `yaml:"max_disk_usage_percent"`
	Archive             ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig configures the optional S3-compatible upload of closed recordings.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Schedule  string `yaml:"schedule"` // cron spec with seconds
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	OutboxSize     int      `yaml:"outbox_size"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TelemetryConfig controls the periodic host and pipeline sampler
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	cfg := Config{
		Web:       WebConfig{Enabled: true},
		Recording: RecordingConfig{WriteSidecar: true},
		Telemetry: TelemetryConfig{Enabled: true},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/analytics.dev.yaml",
		"./config/analytics.yaml",
		"../config/analytics.yaml",
		"/etc/view-guard-edge/analytics.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}

	p := &c.Pipeline
	if p.AlertThreshold == 0 {
		p.AlertThreshold = 0.6
	}
	if p.ClipLength == 0 {
		p.ClipLength = 16
	}
	if p.TargetFPS == 0 {
		p.TargetFPS = 8
	}
	if p.LookbackSeconds == 0 {
		p.LookbackSeconds = 3
	}
	if p.Stride == 0 {
		p.Stride = 8
	}
	if p.SubjectGate == 0 {
		p.SubjectGate = 2
	}
	if p.MaxCommandsPerFrame == 0 {
		p.MaxCommandsPerFrame = 32
	}
	if p.ErrorBackoff == 0 {
		p.ErrorBackoff = time.Second
	}

	defaultQueue(&c.Queues.Inference, 256, "drop_oldest")
	defaultQueue(&c.Queues.Results, 1024, "block")
	defaultQueue(&c.Queues.Control, 64, "drop_oldest")

	for i := range c.Cameras.Sources {
		if c.Cameras.Sources[i].Reader == "" {
			c.Cameras.Sources[i].Reader = "file"
		}
	}
	if c.Cameras.RTSP.Timeout == 0 {
		c.Cameras.RTSP.Timeout = 10 * time.Second
	}
	if c.Cameras.RTSP.Transport == "" {
		c.Cameras.RTSP.Transport = "tcp"
	}

	if c.PreFilter.Kind == "" {
		c.PreFilter.Kind = "http"
	}
	if c.PreFilter.ServiceURL == "" {
		c.PreFilter.ServiceURL = "http://localhost:8080"
	}
	if c.PreFilter.SubjectClass == "" {
		c.PreFilter.SubjectClass = "person"
	}
	if c.PreFilter.ConfidenceThreshold == 0 {
		c.PreFilter.ConfidenceThreshold = 0.5
	}
	if c.PreFilter.Timeout == 0 {
		c.PreFilter.Timeout = 5 * time.Second
	}

	if c.Classifier.ServiceURL == "" {
		c.Classifier.ServiceURL = "http://localhost:8090"
	}
	if c.Classifier.Timeout == 0 {
		c.Classifier.Timeout = 30 * time.Second
	}
	if c.Classifier.Concurrency == 0 {
		c.Classifier.Concurrency = 2
	}

	if c.Tensor.Width == 0 {
		c.Tensor.Width = 224
	}
	if c.Tensor.Height == 0 {
		c.Tensor.Height = 224
	}
	if len(c.Tensor.Mean) == 0 {
		c.Tensor.Mean = []float64{0.485, 0.456, 0.406}
	}
	if len(c.Tensor.Std) == 0 {
		c.Tensor.Std = []float64{0.229, 0.224, 0.225}
	}

	if c.Recording.Dir == "" {
		c.Recording.Dir = filepath.Join(c.DataDir, "recordings")
	}
	if c.Recording.FFmpegPath == "" {
		c.Recording.FFmpegPath = "ffmpeg"
	}
	if c.Recording.Codec == "" {
		c.Recording.Codec = "libx264"
	}
	if c.Recording.Quality == 0 {
		c.Recording.Quality = 23
	}
	if c.Recording.ThumbnailSize == 0 {
		c.Recording.ThumbnailSize = 320
	}

	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 7
	}
	if c.Storage.RetentionSchedule == "" {
		c.Storage.RetentionSchedule = "0 0 * * * *"
	}
	if c.Storage.MaxDiskUsagePercent == 0 {
		c.Storage.MaxDiskUsagePercent = 90
	}
	if c.Storage.Archive.Schedule == "" {
		c.Storage.Archive.Schedule = "0 */5 * * * *"
	}
	if c.Storage.Archive.Region == "" {
		c.Storage.Archive.Region = "auto"
	}

	if c.Web.Host == "" {
		c.Web.Host = "127.0.0.1"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8000
	}
	if c.Web.OutboxSize == 0 {
		c.Web.OutboxSize = 16
	}

	if c.Telemetry.Interval == 0 {
		c.Telemetry.Interval = 30 * time.Second
	}
}

func defaultQueue(q *QueueConfig, capacity int, policy string) {
	if q.Capacity == 0 {
		q.Capacity = capacity
	}
	if q.Policy == "" {
		q.Policy = policy
	}
}

// DatabasePath is the sqlite file holding the recording catalog.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "analytics.db")
}
