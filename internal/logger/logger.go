package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// ConsoleLevel is the lowest level shown on stderr by default.
const ConsoleLevel = slog.LevelWarn

// Config describes where the tool's own diagnostics go: a terse text stream
// on stderr and, when File.Path is set, a rotated JSON file.
type Config struct {
	Level       slog.Level // file level
	StderrLevel slog.Level // console level, usually warn
	Color       bool       // ANSI level colors on the console, only when it is a terminal
	Stderr      io.Writer  // defaults to os.Stderr
	File        FileConfig
}

// FileConfig holds lumberjack rotation parameters for the JSON log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int  // megabytes before rotation (default 10)
	MaxBackups int  // number of backups to keep (default 3)
	MaxAgeDays int  // days to keep (default 7)
	Compress   bool // Gzip rotated files
}

// Writer returns a rotating writer for Path, or nil when Path is empty.
func (c FileConfig) Writer() io.WriteCloser {
	if c.Path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.Path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// New builds the logger described by c. The returned closer flushes the log
// file and is never nil.
func New(c Config) (*slog.Logger, io.Closer) {
	w := c.Stderr
	if w == nil {
		w = os.Stderr
	}
	consoleOpts := &slog.HandlerOptions{Level: c.StderrLevel}
	var console slog.Handler
	if c.Color && isTerminal(w) {
		console = NewColorTextHandler(w, consoleOpts, false)
	} else {
		console = slog.NewTextHandler(w, textOptions(consoleOpts, false))
	}

	fw := c.File.Writer()
	if fw == nil {
		return slog.New(console), nopCloser{}
	}
	_ = os.MkdirAll(filepath.Dir(c.File.Path), 0o700)
	file := slog.NewJSONHandler(fw, &slog.HandlerOptions{Level: c.Level})
	return slog.New(Fanout(console, file)), fw
}

// ParseLevel accepts debug, info, warn or error (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout sends every record to each handler that accepts its level.
type fanout []slog.Handler

// Fanout combines handlers into one.
func Fanout(hs ...slog.Handler) slog.Handler { return fanout(hs) }

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
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

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
