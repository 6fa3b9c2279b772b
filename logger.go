package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel defines severity for logger output.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// ParseLogLevel maps a config or flag value to a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "", "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Logger provides leveled logging on top of a slog text handler. The
// structured logger it wraps is handed to the simulator packages so both
// share one level.
type Logger struct {
	level  *slog.LevelVar
	logger *slog.Logger
}

// NewLogger creates a logger writing to w with the desired level.
func NewLogger(level LogLevel, w io.Writer) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(level.slogLevel())
	return &Logger{
		level:  lv,
		logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})).With("app", "cluster-pm"),
	}
}

// SetLevel adjusts current logging level.
func (l *Logger) SetLevel(level LogLevel) {
	if l == nil {
		return
	}
	l.level.Set(level.slogLevel())
}

// Slog returns the structured logger behind l.
func (l *Logger) Slog() *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l.logger
}

func (l *Logger) logf(target LogLevel, format string, args ...any) {
	if l == nil {
		return
	}
	lvl := target.slogLevel()
	ctx := context.Background()
	if !l.logger.Enabled(ctx, lvl) {
		return
	}
	l.logger.Log(ctx, lvl, fmt.Sprintf(format, args...))
}

// Debugf prints debug messages.
func (l *Logger) Debugf(format string, args ...any) {
	l.logf(LogLevelDebug, format, args...)
}

// Infof prints info messages.
func (l *Logger) Infof(format string, args ...any) {
	l.logf(LogLevelInfo, format, args...)
}

// Warnf prints warning messages.
func (l *Logger) Warnf(format string, args ...any) {
	l.logf(LogLevelWarn, format, args...)
}

// Errorf prints error messages.
func (l *Logger) Errorf(format string, args ...any) {
	l.logf(LogLevelError, format, args...)
}

var defaultLogger = NewLogger(LogLevelInfo, os.Stderr)

// GetLogger returns the global logger.
func GetLogger() *Logger {
	return defaultLogger
}

// SetLogger replaces the global logger (primarily for tests).
func SetLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultLogger = l
}
