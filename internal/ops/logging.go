package ops

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sandwichfarm/zapline/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new structured logger based on config.
// Logs go to stderr so command output on stdout stays clean.
func NewLogger(cfg *config.Logging) *Logger {
	return newLogger(cfg, os.Stderr, func(groups []string, a slog.Attr) slog.Attr {
		// Customize timestamp format
		if a.Key == slog.TimeKey {
			if t, ok := a.Value.Any().(time.Time); ok {
				a.Value = slog.StringValue(t.Format(time.RFC3339))
			}
		}
		return a
	})
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	return newLogger(cfg, w, nil)
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewLoggerWithWriter(&config.Logging{Level: "error", Format: "text"}, io.Discard)
}

func newLogger(cfg *config.Logging, w io.Writer, replace func([]string, slog.Attr) slog.Attr) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replace,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// WithFields adds custom fields to the logger
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// Component-specific logger helpers

// LogRelayQuery logs the outcome of one endpoint's share of a fan-out query.
// Failures are warnings: the gateway absorbs them.
func (l *Logger) LogRelayQuery(relay string, duration time.Duration, count int, err error) {
	if err != nil {
		l.Warn("relay query failed",
			"relay", relay,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("relay query completed",
			"relay", relay,
			"duration_ms", duration.Milliseconds(),
			"events", count)
	}
}

// LogPublishAttempt logs a single publish attempt against one relay
func (l *Logger) LogPublishAttempt(relay, eventID string, attempt int, err error) {
	if err != nil {
		l.Warn("publish attempt failed",
			"relay", relay,
			"event_id", eventID,
			"attempt", attempt,
			"error", err)
	} else {
		l.Debug("publish accepted",
			"relay", relay,
			"event_id", eventID,
			"attempt", attempt)
	}
}

// LogZapTransition logs a settlement state change
func (l *Logger) LogZapTransition(session, from, to, reason string) {
	l.Info("zap state changed",
		"session", session,
		"from", from,
		"to", to,
		"reason", reason)
}

// LogCacheOperation logs a cache operation
func (l *Logger) LogCacheOperation(op string, key string, hit bool) {
	l.Debug("cache operation",
		"operation", op,
		"key", key,
		"hit", hit)
}

// LogAggregateUpdate logs an aggregate computation
func (l *Logger) LogAggregateUpdate(eventID string, family string, count int) {
	l.Debug("aggregate computed",
		"event_id", eventID,
		"family", family,
		"count", count)
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, commit string, config map[string]interface{}) {
	l.Info("zapline starting",
		"version", version,
		"commit", commit,
		"config", config)
}

// LogShutdown logs application shutdown
func (l *Logger) LogShutdown(reason string) {
	l.Info("zapline shutting down",
		"reason", reason)
}

// LogPanic logs a panic with stack trace
func (l *Logger) LogPanic(recovered interface{}, stack string) {
	l.Error("panic recovered",
		"panic", fmt.Sprintf("%v", recovered),
		"stack", stack)
}

// Default logger configuration
var defaultLogger *Logger

func init() {
	// Create a default logger for early startup
	defaultLogger = NewLogger(&config.Logging{
		Level:  "info",
		Format: "text",
	})
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Helper functions for common logging patterns

// Info logs an info message
func Info(msg string, fields ...any) {
	defaultLogger.Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...any) {
	defaultLogger.Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...any) {
	defaultLogger.Error(msg, fields...)
}
