package pool

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

type traceIDKey struct{}

var traceIDCounter atomic.Uint64

// Logger wraps slog.Logger with trace ID propagation, the way the teacher
// repo's pkg/pyproc/logger.go does for worker RPCs. Every pool/group/
// process/session lifecycle event logs through one of these instead of an
// abstract injected sink.
type Logger struct {
	*slog.Logger
	traceEnabled bool
}

// NewLogger builds a Logger from LoggingConfig.
func NewLogger(cfg LoggingConfig) *Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return &Logger{Logger: slog.New(handler), traceEnabled: cfg.TraceEnabled}
}

// WithTraceID stamps a fresh trace ID onto ctx, covering one get()/session
// lifecycle end to end across Pool, Group and Process log lines.
func WithTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceIDCounter.Add(1))
}

func traceIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(traceIDKey{}).(uint64)
	return id, ok
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.Logger.InfoContext(ctx, msg, l.withTrace(ctx, args)...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.Logger.WarnContext(ctx, msg, l.withTrace(ctx, args)...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.Logger.ErrorContext(ctx, msg, l.withTrace(ctx, args)...)
}

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.Logger.DebugContext(ctx, msg, l.withTrace(ctx, args)...)
}

func (l *Logger) withTrace(ctx context.Context, args []any) []any {
	if !l.traceEnabled {
		return args
	}
	if traceID, ok := traceIDFromContext(ctx); ok {
		return append([]any{"trace_id", traceID}, args...)
	}
	return args
}

// WithGroupName returns a logger with the group name attached to every line.
func (l *Logger) WithGroupName(groupName string) *Logger {
	return &Logger{Logger: l.Logger.With("group", groupName), traceEnabled: l.traceEnabled}
}

// WithProcess returns a logger with the process pid attached.
func (l *Logger) WithProcess(pid int) *Logger {
	return &Logger{Logger: l.Logger.With("pid", pid), traceEnabled: l.traceEnabled}
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
