package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/samber/lo"
)

type loggingCtxKey struct{}

func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggingCtxKey{}).(*slog.Logger); ok {
		return logger
	}
	return NoOpLogger()
}

func ToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggingCtxKey{}, logger)
}

// DefaultLogger is a text logger to stderr. Debug level is enabled with verbose.
func DefaultLogger(verbose bool) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lo.Ternary(verbose, slog.LevelDebug, slog.LevelInfo),
	}))
}

// DefaultFileLogger logs to a file instead of the terminal, used when the TUI
// owns the terminal.
func DefaultFileLogger(verbose bool, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lo.Ternary(verbose, slog.LevelDebug, slog.LevelInfo),
	}))
}

func NoOpLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
