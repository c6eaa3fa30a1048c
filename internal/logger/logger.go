package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"image-compressor/internal/config"
)

// LoggerConfig defines the configuration for the logger.
type LoggerConfig struct {
	Level      string    // debug, info, warn or error
	FilePath   string    // rotated log file; empty disables the file sink
	MaxSize    int       // megabytes before rotation
	MaxBackups int       // rotated files to keep
	MaxAge     int       // days to keep rotated files
	Compress   bool      // gzip rotated files
	Console    bool      // also log to Output
	Output     io.Writer // console writer, stderr when nil
}

// FromConfig maps the logging section of the run configuration.
// verbose forces debug and quiet forces error with no console output.
func FromConfig(c config.LoggingConfig, verbose, quiet bool) LoggerConfig {
	lc := LoggerConfig{
		Level:      c.Level,
		FilePath:   c.FilePath,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
		Console:    !quiet,
	}
	switch {
	case quiet:
		lc.Level = "error"
	case verbose:
		lc.Level = "debug"
	}
	return lc
}

// NewLogger returns a JSON logrus.Logger writing to the configured sinks.
// The console sink is kept when there is no file sink so errors are never lost.
func NewLogger(cfg LoggerConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	sinks, err := cfg.sinks()
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	l.SetOutput(io.MultiWriter(sinks...))
	return l, nil
}

func (cfg LoggerConfig) sinks() ([]io.Writer, error) {
	var out []io.Writer
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, err
		}
		out = append(out, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
	if cfg.Console || len(out) == 0 {
		// stdout carries the report.
		w := cfg.Output
		if w == nil {
			w = os.Stderr
		}
		out = append(out, w)
	}
	return out, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// WithRun tags entries with a fresh run id.
func WithRun(l logrus.FieldLogger) *logrus.Entry {
	return l.WithField("run_id", uuid.NewString())
}

// WithFile returns a logger entry with the specified file context.
func WithFile(l logrus.FieldLogger, filePath string) *logrus.Entry {
	return l.WithField("file", filePath)
}

// WithOperation returns a logger entry with the specified operation context.
func WithOperation(l logrus.FieldLogger, operation string) *logrus.Entry {
	return l.WithField("operation", operation)
}

// WithFileOperation returns a logger entry with both file and operation context.
func WithFileOperation(l logrus.FieldLogger, filePath, operation string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"file":      filePath,
		"operation": operation,
	})
}

// DefaultConfig returns the default LoggerConfig: info level, console only.
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      "info",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
		Console:    true,
	}
}
