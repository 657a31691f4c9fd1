package kfetch

import (
	"log"
	"os"
)

// LogLevel designates the severity of a log message logged through Logger.
type LogLevel int8

const (
	// LogLevelNone disables logging entirely.
	LogLevelNone LogLevel = iota
	// LogLevelError logs fatal-to-a-partition errors and unexpected
	// conditions.
	LogLevelError
	// LogLevelWarn logs recoverable protocol errors and retries.
	LogLevelWarn
	// LogLevelInfo logs lifecycle events: start, close, resets.
	LogLevelInfo
	// LogLevelDebug logs per-request/response detail useful when
	// diagnosing a specific partition's behavior.
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "NONE"
	}
}

// Logger is the logging seam the fetch engine logs through. It is
// deliberately minimal so that a caller can adapt any structured logging
// backend (zap, zerolog, slog, ...) without this package depending on one
// directly.
type Logger interface {
	Level() LogLevel
	Log(level LogLevel, msg string, keyvals ...any)
}

// BasicLogger is a Logger backed by the standard library's log.Logger,
// logging every message at or below the configured level.
type BasicLogger struct {
	level LogLevel
	inner *log.Logger
}

// NewBasicLogger returns a BasicLogger that writes to stderr at level.
func NewBasicLogger(level LogLevel) *BasicLogger {
	return &BasicLogger{level: level, inner: log.New(os.Stderr, "[kfetch] ", log.LstdFlags)}
}

// Level implements Logger.
func (b *BasicLogger) Level() LogLevel { return b.level }

// Log implements Logger.
func (b *BasicLogger) Log(level LogLevel, msg string, keyvals ...any) {
	if level > b.level || b.level == LogLevelNone {
		return
	}
	args := append([]any{level.String(), msg}, keyvals...)
	b.inner.Println(args...)
}

type nopLogger struct{}

func (nopLogger) Level() LogLevel                      { return LogLevelNone }
func (nopLogger) Log(LogLevel, string, ...any) {}
