// Package logging provides structured logging for the offline engine.
// It wraps log/slog behind a small Logger type so components stay
// decoupled from the host application's logging setup; the default is a
// no-op logger.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
)

// LogLevel represents different logging levels
type LogLevel int

// LogLevelDebug represents debug logging level
const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// Logger is a leveled structured logger with bound context fields.
// The zero value discards every message, as does the logger returned by
// NewNopLogger, so components can log unconditionally.
type Logger struct {
	logger *slog.Logger
	level  LogLevel
}

// LogConfig holds configuration for the engine logger.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error)
	Level LogLevel
	// EnableCallerInfo includes file and line number in logs
	EnableCallerInfo bool
}

// DefaultLogConfig returns a default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            LogLevelInfo,
		EnableCallerInfo: false,
	}
}

// NewLogger creates a new structured logger with the given configuration.
// Output goes to stderr as text.
func NewLogger(config LogConfig) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     slogLevel(config.Level),
		AddSource: config.EnableCallerInfo,
	})
	return &Logger{logger: slog.New(handler), level: config.Level}
}

// NewSlogLogger wraps an existing slog.Logger supplied by the host
// application. The level filtering of the wrapped handler applies.
func NewSlogLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		return NewNopLogger()
	}
	return &Logger{logger: logger, level: LogLevelDebug}
}

// NewNopLogger creates a no-op logger that discards all log messages.
func NewNopLogger() *Logger {
	return &Logger{}
}

// slogLevel maps a LogLevel onto its slog equivalent.
func slogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs debug-level messages
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	if l.logger == nil || l.level > LogLevelDebug {
		return
	}
	l.logger.DebugContext(ctx, msg, args...)
}

// Info logs info-level messages
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	if l.logger == nil || l.level > LogLevelInfo {
		return
	}
	l.logger.InfoContext(ctx, msg, args...)
}

// Warn logs warning-level messages
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	if l.logger == nil || l.level > LogLevelWarn {
		return
	}
	l.logger.WarnContext(ctx, msg, args...)
}

// Error logs error-level messages
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.ErrorContext(ctx, msg, args...)
}

// With returns a logger carrying additional context fields. Bound fields
// are emitted ahead of the per-call fields on every record. A nop logger
// returns itself unchanged.
func (l *Logger) With(args ...any) *Logger {
	if l.logger == nil || len(args) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(args...), level: l.level}
}

// WithOperation returns a logger with operation context
func (l *Logger) WithOperation(operation Operation) *Logger {
	return l.With("operation", string(operation))
}

// WithPartition returns a logger with partition name context
func (l *Logger) WithPartition(name string) *Logger {
	return l.With("partition", name)
}

// WithStore returns a logger with queue store context
func (l *Logger) WithStore(store string) *Logger {
	return l.With("store", store)
}

// WithURL returns a logger with request URL context
func (l *Logger) WithURL(url string) *Logger {
	return l.With("url", url)
}

// WithDuration returns a logger with duration context
func (l *Logger) WithDuration(duration time.Duration) *Logger {
	return l.With("duration", duration)
}

// Operation represents different types of engine operations for logging.
type Operation string

// Operation constants for engine operations
const (
	OpInstall  Operation = "install"
	OpActivate Operation = "activate"
	OpPrecache Operation = "precache"
	OpMatch    Operation = "match"
	OpPut      Operation = "put"
	OpPurge    Operation = "purge"
	OpTrim     Operation = "trim"
	OpFetch    Operation = "fetch"
	OpRefresh  Operation = "refresh"
	OpFallback Operation = "fallback"
	OpEnqueue  Operation = "enqueue"
	OpList     Operation = "list"
	OpRemove   Operation = "remove"
	OpDrain    Operation = "drain"
	OpSubmit   Operation = "submit"
	OpMessage  Operation = "message"
)

// LogOperation logs an engine operation with its outcome and duration.
func LogOperation(
	ctx context.Context,
	logger *Logger,
	operation Operation,
	duration time.Duration,
	success bool,
	err error,
	fields ...any,
) {
	if logger == nil {
		return
	}

	args := []any{
		"operation", string(operation),
		"duration_ms", duration.Milliseconds(),
		"success", success,
	}
	args = append(args, fields...)

	if err != nil {
		args = append(args, "error", err.Error())
	}

	if success {
		logger.Debug(ctx, "operation completed", args...)
	} else {
		logger.Warn(ctx, "operation failed", args...)
	}
}

// LogCacheHit logs a cache hit event.
func LogCacheHit(ctx context.Context, logger *Logger, partition, key string) {
	if logger == nil {
		return
	}

	logger.Debug(ctx, "cache hit",
		"partition", partition,
		"key", key,
		"result", "hit")
}

// LogCacheMiss logs a cache miss event.
func LogCacheMiss(ctx context.Context, logger *Logger, partition, key, reason string) {
	if logger == nil {
		return
	}

	logger.Debug(ctx, "cache miss",
		"partition", partition,
		"key", key,
		"reason", reason,
		"result", "miss")
}

// LogPartitionDrop logs the removal of a superseded cache partition.
func LogPartitionDrop(ctx context.Context, logger *Logger, name string, entries int) {
	if logger == nil {
		return
	}

	logger.Info(ctx, "stale partition removed",
		"partition", name,
		"entries", entries)
}

// LogDrainPass logs the outcome of one replay drain pass over a queue store.
func LogDrainPass(
	ctx context.Context,
	logger *Logger,
	store string,
	attempted int,
	replayed int,
	failed int,
	duration time.Duration,
) {
	if logger == nil {
		return
	}

	logger.Info(ctx, "drain pass completed",
		"store", store,
		"attempted", attempted,
		"replayed", replayed,
		"failed", failed,
		"duration_ms", duration.Milliseconds())
}

// ParseLogLevel parses a string log level into a LogLevel. Unknown levels
// return LogLevelInfo alongside the error so callers can keep the default.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, platformerrors.Newf(platformerrors.CodeInvalidConfig,
			"invalid log level %q", level)
	}
}
