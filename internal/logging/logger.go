// Package logging provides structured logging for the generation pipeline
// on top of log/slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// LogLevel represents different log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the structured logging interface used across the pipeline.
// Warn and Error take the error first so call sites never forget to
// attach it.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...any)
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, err error, msg string, fields ...any)
	Error(ctx context.Context, err error, msg string, fields ...any)

	With(fields ...any) Logger
	WithComponent(component string) Logger
}

// Config holds logger configuration.
type Config struct {
	Level     LogLevel
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// StencilLogger implements Logger on top of slog.
type StencilLogger struct {
	logger    *slog.Logger
	level     LogLevel
	component string
	fields    []any
}

// NewLogger creates a new structured logger.
func NewLogger(config *Config) *StencilLogger {
	if config == nil {
		config = DefaultConfig()
	}

	opts := &slog.HandlerOptions{
		Level:     slogLevel(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &StencilLogger{
		logger:    slog.New(handler),
		level:     config.Level,
		component: config.Component,
	}
}

// NewNopLogger returns a logger that discards everything. Used in tests
// and as the default when callers pass a nil logger.
func NewNopLogger() *StencilLogger {
	return NewLogger(&Config{Level: LevelError, Output: io.Discard})
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs a debug message.
func (l *StencilLogger) Debug(ctx context.Context, msg string, fields ...any) {
	if l.level > LevelDebug {
		return
	}
	l.log(ctx, slog.LevelDebug, nil, msg, fields...)
}

// Info logs an info message.
func (l *StencilLogger) Info(ctx context.Context, msg string, fields ...any) {
	if l.level > LevelInfo {
		return
	}
	l.log(ctx, slog.LevelInfo, nil, msg, fields...)
}

// Warn logs a warning message.
func (l *StencilLogger) Warn(ctx context.Context, err error, msg string, fields ...any) {
	if l.level > LevelWarn {
		return
	}
	l.log(ctx, slog.LevelWarn, err, msg, fields...)
}

// Error logs an error message.
func (l *StencilLogger) Error(ctx context.Context, err error, msg string, fields ...any) {
	l.log(ctx, slog.LevelError, err, msg, fields...)
}

// With creates a new logger with additional persistent fields.
func (l *StencilLogger) With(fields ...any) Logger {
	combined := make([]any, 0, len(l.fields)+len(fields))
	combined = append(combined, l.fields...)
	combined = append(combined, fields...)

	return &StencilLogger{
		logger:    l.logger,
		level:     l.level,
		component: l.component,
		fields:    combined,
	}
}

// WithComponent creates a new logger scoped to a component.
func (l *StencilLogger) WithComponent(component string) Logger {
	return &StencilLogger{
		logger:    l.logger,
		level:     l.level,
		component: component,
		fields:    l.fields,
	}
}

func (l *StencilLogger) log(ctx context.Context, level slog.Level, err error, msg string, fields ...any) {
	attrs := make([]slog.Attr, 0, len(l.fields)/2+len(fields)/2+2)

	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	attrs = appendPairs(attrs, l.fields)
	attrs = appendPairs(attrs, fields)

	record := slog.NewRecord(time.Now(), level, msg, 0)
	record.AddAttrs(attrs...)
	_ = l.logger.Handler().Handle(ctx, record)
}

func appendPairs(attrs []slog.Attr, fields []any) []slog.Attr {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, fields[i+1]))
	}
	return attrs
}
