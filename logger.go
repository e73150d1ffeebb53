package vecbench

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with consistent field names for indexing,
// embedding and benchmark operations.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// WithBackend adds a backend field to the logger.
func (l *Logger) WithBackend(kind string) *Logger {
	return &Logger{Logger: l.Logger.With("backend", kind)}
}

// WithModel adds a model field to the logger.
func (l *Logger) WithModel(model string) *Logger {
	return &Logger{Logger: l.Logger.With("model", model)}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// LogBuild logs an index build.
func (l *Logger) LogBuild(ctx context.Context, kind string, count int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index build failed",
			"backend", kind,
			"count", count,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "index built",
		"backend", kind,
		"count", count,
		"elapsed", elapsed,
	)
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogEmbed logs a gateway call.
func (l *Logger) LogEmbed(ctx context.Context, model string, texts, cacheHits int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "embedding failed",
			"model", model,
			"texts", texts,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "embedding completed",
			"model", model,
			"texts", texts,
			"cache_hits", cacheHits,
		)
	}
}

// LogPersist logs persisting an index blob.
func (l *Logger) LogPersist(ctx context.Context, name string, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "persist failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index persisted",
			"name", name,
			"bytes", bytes,
		)
	}
}
