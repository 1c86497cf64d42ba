package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Logger is a structured logger for playwire components.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON logger writing to stderr.
// Stdout is left to command output.
func NewLogger(component string, level slog.Level) *Logger {
	return NewLoggerTo(os.Stderr, component, level, "json")
}

// NewLoggerTo creates a logger writing to w in the given format ("json" or "text").
func NewLoggerTo(w io.Writer, component string, level slog.Level, format string) *Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "playwire"),
	)
	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a child logger with a different component tag.
func (l *Logger) Component(name string) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{Logger: l.Logger.With(slog.String("component", name))}
}

// WithContext attaches the active trace and span ids, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return l
	}
	return &Logger{
		Logger: l.Logger.With(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		),
	}
}

// WithGUID returns a logger scoped to one remote object.
func (l *Logger) WithGUID(guid string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("guid", guid))}
}

// WithSession returns a logger with session-specific fields
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("session_id", sessionID))}
}

// WithNamespace returns a logger scoped to a workspace namespace.
func (l *Logger) WithNamespace(workspaceID, namespace string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("workspace_id", workspaceID),
			slog.String("namespace", namespace),
		),
	}
}

// FrameDropped logs an inbound frame that could not be routed.
func (l *Logger) FrameDropped(reason, guid, method string) {
	l.Debug("frame dropped",
		slog.String("reason", reason),
		slog.String("guid", guid),
		slog.String("method", method),
	)
}

// SessionAcquired logs the outcome of a session acquisition.
func (l *Logger) SessionAcquired(source, browser string, headless bool, endpoint string) {
	l.Info("session acquired",
		slog.String("source", source),
		slog.String("browser", browser),
		slog.Bool("headless", headless),
		slog.String("endpoint", endpoint),
	)
}
