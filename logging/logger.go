package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case insensitive level name ("debug", "info", "warn",
// "warning", "error") into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger defines the minimal logging interface for xagent.
// This allows users to provide their own logger implementation or use the built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// Config configures construction of a slog backed Logger.
type Config struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultConfig returns a baseline JSON info level configuration.
func DefaultConfig() *Config {
	return &Config{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// New builds a Logger from a config (or defaults if nil).
func New(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	l := slog.New(handler)
	if cfg.Component != "" {
		l = l.With("component", cfg.Component)
	}

	return NewSlogAdapter(l)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger that attaches args to every record. Slog backed loggers
// use the native slog.With; any other implementation is wrapped.
func With(l Logger, args ...any) Logger {
	if l == nil {
		return NoOpLogger{}
	}

	if len(args) == 0 {
		return l
	}

	switch v := l.(type) {
	case NoOpLogger:
		return v
	case *SlogAdapter:
		return &SlogAdapter{Logger: v.Logger.With(args...)}
	case *withLogger:
		merged := make([]any, 0, len(v.args)+len(args))
		merged = append(merged, v.args...)
		merged = append(merged, args...)

		return &withLogger{inner: v.inner, args: merged}
	default:
		return &withLogger{inner: l, args: args}
	}
}

type withLogger struct {
	inner Logger
	args  []any
}

func (w *withLogger) merge(args []any) []any {
	out := make([]any, 0, len(w.args)+len(args))
	out = append(out, w.args...)

	return append(out, args...)
}

func (w *withLogger) Debug(msg string, args ...any) { w.inner.Debug(msg, w.merge(args)...) }
func (w *withLogger) Info(msg string, args ...any)  { w.inner.Info(msg, w.merge(args)...) }
func (w *withLogger) Warn(msg string, args ...any)  { w.inner.Warn(msg, w.merge(args)...) }
func (w *withLogger) Error(msg string, args ...any) { w.inner.Error(msg, w.merge(args)...) }

// LogToolCall records execution details for a tool invocation.
func LogToolCall(l Logger, tool, callID string, dur time.Duration, err error) {
	if err != nil {
		l.Error("tool.call.failed", "tool_name", tool, "call_id", callID, "duration_ms", dur.Milliseconds(), "success", false, "error", err.Error())
		return
	}

	l.Info("tool.call.completed", "tool_name", tool, "call_id", callID, "duration_ms", dur.Milliseconds(), "success", true)
}

// LogModelCall records model call latency, token usage and success.
func LogModelCall(l Logger, modelName, op string, tokens int, dur time.Duration, err error) {
	if err != nil {
		l.Warn("model.call.failed", "model", modelName, "operation", op, "duration_ms", dur.Milliseconds(), "success", false, "error", err.Error())
		return
	}

	l.Debug("model.call.completed", "model", modelName, "operation", op, "token_count", tokens, "duration_ms", dur.Milliseconds(), "success", true)
}

// LogWorkflow records aggregate workflow run metrics.
func LogWorkflow(l Logger, pattern string, agents int, dur time.Duration, err error) {
	if err != nil {
		l.Error("workflow.run.failed", "pattern", pattern, "agent_count", agents, "duration_ms", dur.Milliseconds(), "success", false, "error", err.Error())
		return
	}

	l.Info("workflow.run.completed", "pattern", pattern, "agent_count", agents, "duration_ms", dur.Milliseconds(), "success", true)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}
