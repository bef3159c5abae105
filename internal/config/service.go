package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Service owns the loaded configuration.
type Service struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
}

// NewService loads the YAML file, applies .env and environment overrides and
// validates the result. A missing env file is not an error.
func NewService(configPath, envFile string) (*Service, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
	}, nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Path returns the file the configuration was loaded from.
func (s *Service) Path() string {
	return s.configPath
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("EDGE_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("EDGE_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("EDGE_DATA_DIR"); val != "" {
		if cfg.Recording.Dir == filepath.Join(cfg.DataDir, "recordings") {
			cfg.Recording.Dir = filepath.Join(val, "recordings")
		}
		cfg.DataDir = val
	}
	cfg.Web.Port = GetEnvInt("EDGE_WEB_PORT", cfg.Web.Port)
	cfg.Web.Host = GetEnvWithDefault("EDGE_WEB_HOST", cfg.Web.Host)
	cfg.Classifier.ServiceURL = GetEnvWithDefault("EDGE_CLASSIFIER_URL", cfg.Classifier.ServiceURL)
	cfg.PreFilter.ServiceURL = GetEnvWithDefault("EDGE_PREFILTER_URL", cfg.PreFilter.ServiceURL)
	cfg.Pipeline.AlertThreshold = GetEnvFloat64("EDGE_ALERT_THRESHOLD", cfg.Pipeline.AlertThreshold)
	if val := os.Getenv("EDGE_CLASSES"); val != "" {
		classes := strings.Split(val, ",")
		for i := range classes {
			classes[i] = strings.TrimSpace(classes[i])
		}
		cfg.Pipeline.Classes = classes
	}

	cfg.Storage.Archive.Enabled = GetEnvBool("EDGE_ARCHIVE_ENABLED", cfg.Storage.Archive.Enabled)
	cfg.Storage.Archive.AccessKey = GetEnvWithDefault("EDGE_ARCHIVE_ACCESS_KEY", cfg.Storage.Archive.AccessKey)
	cfg.Storage.Archive.SecretKey = GetEnvWithDefault("EDGE_ARCHIVE_SECRET_KEY", cfg.Storage.Archive.SecretKey)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(val, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// GetEnvFloat64 gets a float64 environment variable
func GetEnvFloat64(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(val, "%f", &result); err != nil {
		return defaultValue
	}
	return result
}
