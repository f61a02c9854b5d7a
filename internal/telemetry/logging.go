// Package telemetry builds the process logger: JSON records split into an
// all-levels file and a warnings file, plus a console sink.
package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/basket/clickgram/internal/shared"
)

const (
	OutputLogName = "output.log"
	ErrorLogName  = "error.log"
)

// Options configures NewLogger.
type Options struct {
	Dir      string // defaults to "logs"
	Level    string
	Quiet    bool // no console output
	Compress bool // gzip rotated files
	Console  io.Writer
}

// NewLogger opens the log files under opts.Dir and returns a logger writing
// to all sinks. Close the returned Sink to release the files.
func NewLogger(opts Options) (*slog.Logger, *Sink, error) {
	dir := opts.Dir
	if strings.TrimSpace(dir) == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	output, err := openRotatingFile(filepath.Join(dir, OutputLogName))
	if err != nil {
		return nil, nil, err
	}
	errorsFile, err := openRotatingFile(filepath.Join(dir, ErrorLogName))
	if err != nil {
		_ = output.Close()
		return nil, nil, err
	}
	sink := &Sink{files: []*rotatingFile{output, errorsFile}, compress: opts.Compress}

	lvl := parseLevel(opts.Level)
	handlers := []slog.Handler{
		slog.NewJSONHandler(output, handlerOptions(lvl)),
		slog.NewJSONHandler(errorsFile, handlerOptions(max(lvl, slog.LevelWarn))),
	}
	if !opts.Quiet {
		console := opts.Console
		if console == nil {
			console = os.Stdout
		}
		if isTerminal(console) {
			handlers = append(handlers, slog.NewTextHandler(console, handlerOptions(lvl)))
		} else {
			handlers = append(handlers, slog.NewJSONHandler(console, handlerOptions(lvl)))
		}
	}

	logger := slog.New(fanout(handlers)).With("component", "runtime", "trace_id", "-")
	return logger, sink, nil
}

func handlerOptions(lvl slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			if shared.SensitiveKey(a.Key) {
				return slog.String(a.Key, shared.Placeholder)
			}
			if a.Value.Kind() == slog.KindString {
				// Bot tokens show up inside Bot API URLs in transport errors.
				return slog.String(a.Key, shared.Redact(a.Value.String()))
			}
			return a
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// fanoutHandler hands each record to every handler that accepts its level.
type fanoutHandler []slog.Handler

func fanout(handlers []slog.Handler) slog.Handler {
	return fanoutHandler(handlers)
}

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, inner := range h {
		if inner.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, inner := range h {
		if !inner.Enabled(ctx, r.Level) {
			continue
		}
		if err := inner.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, inner := range h {
		out[i] = inner.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, inner := range h {
		out[i] = inner.WithGroup(name)
	}
	return out
}
