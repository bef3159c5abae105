package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger and accepts key/value pairs instead of typed fields.
type Logger struct {
	*zap.Logger
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// New builds a logger from configuration. Unknown levels fall back to info.
func New(cfg LogConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
		encoderConfig = zap.NewProductionEncoderConfig()
		zcfg.Encoding = "json"
	} else {
		zcfg = zap.NewDevelopmentConfig()
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		zcfg.Encoding = "console"
	}

	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	zcfg.EncoderConfig = encoderConfig
	zcfg.Level = zap.NewAtomicLevelAt(level)

	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		zcfg.OutputPaths = []string{"stderr"}
	default:
		zcfg.OutputPaths = []string{cfg.Output}
		zcfg.ErrorOutputPaths = []string{cfg.Output}
	}

	zl, err := zcfg.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return &Logger{zl}, nil
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// WithFields creates a child logger with additional fields
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

// With creates a child logger from key/value pairs.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{l.Logger.With(convertFields(kv...)...)}
}

// Named returns a child logger with the given name segment appended.
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	l.Logger.Info(msg, convertFields(kv...)...)
}

func (l *Logger) Error(msg string, kv ...interface{}) {
	l.Logger.Error(msg, convertFields(kv...)...)
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.Logger.Warn(msg, convertFields(kv...)...)
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.Logger.Debug(msg, convertFields(kv...)...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, kv ...interface{}) {
	l.Logger.Fatal(msg, convertFields(kv...)...)
}

// convertFields turns alternating key/value arguments into zap fields.
// Errors are logged under zap's error encoder; non-string keys are skipped.
func convertFields(kv ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i < len(kv)-1; i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, isErr := kv[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return fields
}

// NewNopLogger creates a no-op logger for testing
func NewNopLogger() *Logger {
	return &Logger{zap.NewNop()}
}
