// Package logging provides structured logging infrastructure for the
// workflow engine.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/codemachine-dev/codemachine/internal/config"
)

// NewFromConfig creates a slog.Logger based on configuration. When a log
// file is configured, output goes to both stderr and the file.
func NewFromConfig(cfg *config.Config, baseDir string) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Logging.Level)
	handler := newHandler(cfg.Logging.Format, os.Stderr, level)

	var closer io.Closer
	if cfg.Logging.File != "" {
		logPath := cfg.LogFile(baseDir)

		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return nil, nil, err
		}

		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, err
		}
		closer = file

		multi := io.MultiWriter(os.Stderr, file)
		handler = newHandler(cfg.Logging.Format, multi, level)
	}

	return slog.New(handler), closer, nil
}

// NewDefault creates a default logger writing to stderr.
func NewDefault() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// NewForTest creates a silent logger for tests.
func NewForTest() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// parseLevel converts a config log level to slog.Level.
func parseLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelInfo:
		return slog.LevelInfo
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newHandler creates a slog.Handler based on format.
func newHandler(format config.LogFormat, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case config.LogFormatText:
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

// WithWorkflow returns a logger scoped to a workflow run.
func WithWorkflow(logger *slog.Logger, workflowID string) *slog.Logger {
	return logger.With("workflow_id", workflowID)
}

// WithStep returns a logger scoped to a module step.
func WithStep(logger *slog.Logger, moduleIndex int, agentID string) *slog.Logger {
	return logger.With("module_index", moduleIndex, "agent", agentID)
}

// WithEngine returns a logger scoped to an engine invocation.
func WithEngine(logger *slog.Logger, engineID, monitoringID string) *slog.Logger {
	return logger.With("engine", engineID, "monitoring_id", monitoringID)
}
