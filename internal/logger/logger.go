// Package logger builds the daemon's slog logger: a console handler plus a
// lumberjack-rotated server.log that backs the logs command.
package logger

import (
	"bufio"
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
	DefaultDir        = "./logs"
	DefaultFile       = "server.log"
	DefaultTailLines  = 20
)

// Config describes where server.log lives and how it rotates.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `mapstructure:"dir"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"`  // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
	Level      string `mapstructure:"level"`
	Color      bool   `mapstructure:"color"` // colored console output
}

// Path returns the full path of the active log file.
func (c Config) Path() string {
	dir := c.Dir
	if dir == "" {
		dir = DefaultDir
	}
	file := c.File
	if file == "" {
		file = DefaultFile
	}
	return filepath.Join(dir, file)
}

// Writer returns the rotating file writer, creating the log directory.
func (c Config) Writer() (io.WriteCloser, error) {
	path := c.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}, nil
}

// Logger is a slog.Logger writing to the console and to server.log.
type Logger struct {
	*slog.Logger
	path string
	file io.Closer
}

// New builds a Logger. console may be nil to log to the file only.
func New(c Config, console io.Writer) (*Logger, error) {
	w, err := c.Writer()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	handlers := []slog.Handler{slog.NewTextHandler(w, opts)}
	if console != nil {
		if c.Color {
			handlers = append(handlers, NewColorTextHandler(console, opts, true))
		} else {
			handlers = append(handlers, slog.NewTextHandler(console, opts))
		}
	}
	return &Logger{
		Logger: slog.New(Fanout(handlers...)),
		path:   c.Path(),
		file:   w,
	}, nil
}

// Path returns the log file path.
func (l *Logger) Path() string { return l.path }

// Tail returns the last n lines of the log file.
func (l *Logger) Tail(n int) ([]string, error) { return Tail(l.path, n) }

// Close flushes and closes the log file.
func (l *Logger) Close() error { return l.file.Close() }

// Tail returns up to n trailing lines of the file at path, oldest first.
// A missing file yields no lines and no error.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		n = DefaultTailLines
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return ring, nil
}

// ParseLevel maps debug/info/warn/error to a slog level; anything else is info.
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

// Fanout returns a handler that sends every record to all handlers.
func Fanout(handlers ...slog.Handler) slog.Handler {
	return fanoutHandler(handlers)
}

type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
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

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
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
