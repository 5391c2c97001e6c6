package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

type ctxKey struct{}

const (
	JSONHandler = "json"
	TextHandler = "text"
	DevHandler  = "dev"
)

// New returns a logger writing to w. An empty handler picks the dev handler
// when w is a terminal and JSON otherwise.
func New(w io.Writer, level, handler string) *slog.Logger {
	lvl := ParseLevel(level)
	if handler == "" {
		handler = JSONHandler
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			handler = DevHandler
		}
	}

	switch strings.ToLower(handler) {
	case DevHandler:
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: "[15:04:05.000]",
		}))
	case TextHandler, "txt":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	default:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Void discards everything. Used by tests and by callers without a logger.
func Void() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger stored in ctx, or a discarding logger.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return Void()
}
