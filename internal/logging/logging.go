// Package logging builds the process logger: rotating combined and error log files, plus stdout
// outside production.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Level      string
	Dir        string
	Production bool
	// Stdout overrides the console writer; nil means os.Stdout.
	Stdout io.Writer
}

// Logger wraps the slog logger together with the file sinks that must be closed on shutdown.
type Logger struct {
	*slog.Logger
	closers []io.Closer
}

// New creates the logger. With an empty Dir only the console sink is used.
func New(opts Options) (*Logger, error) {
	level := ParseLevel(opts.Level)

	var handlers []slog.Handler
	var closers []io.Closer

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, err
		}
		combined := rotator(filepath.Join(opts.Dir, "combined.log"))
		errorsOnly := rotator(filepath.Join(opts.Dir, "error.log"))
		closers = append(closers, combined, errorsOnly)

		handlers = append(handlers,
			slog.NewJSONHandler(combined, &slog.HandlerOptions{Level: level}),
			slog.NewJSONHandler(errorsOnly, &slog.HandlerOptions{Level: slog.LevelError}),
		)
	}

	if !opts.Production || len(handlers) == 0 {
		out := opts.Stdout
		if out == nil {
			out = os.Stdout
		}
		handlers = append(handlers, slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	}

	return &Logger{
		Logger:  slog.New(fanout(handlers)),
		closers: closers,
	}, nil
}

// Close flushes and closes the file sinks.
func (l *Logger) Close() error {
	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
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

func rotator(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}

// fanout dispatches each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
