// Package logging sets up the process logger: JSON slog records written to a
// size-rotated file, optionally teed to stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Path   string
	Level  string
	Stderr bool
	// MaxSizeMB and MaxBackups bound disk use on the display's SD card.
	MaxSizeMB  int
	MaxBackups int
}

type Logger struct {
	*slog.Logger
	LogFile string
	Start   time.Time

	closer io.Closer
}

// ParseLevel maps config strings to slog levels. Unknown strings are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func New(opts Options) (*Logger, error) {
	if opts.Path == "" {
		opts.Path = "stratux_hud.log"
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 16
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 2
	}
	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}

	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB, // MB
		MaxBackups: opts.MaxBackups,
	}
	var w io.Writer = lj
	if opts.Stderr {
		w = io.MultiWriter(lj, os.Stderr)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	l := &Logger{
		Logger:  slog.New(h),
		LogFile: opts.Path,
		Start:   time.Now(),
		closer:  lj,
	}
	l.Info("logging started",
		slog.String("GOOS", runtime.GOOS),
		slog.String("GOARCH", runtime.GOARCH),
		slog.Int("NumCPUs", runtime.NumCPU()))
	return l, nil
}

// Discard returns a logger that drops everything; handy for tests and for
// components constructed without a logger.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler), Start: time.Now()}
}

// Slog returns the underlying *slog.Logger, tolerating a nil receiver.
func (l *Logger) Slog() *slog.Logger {
	if l == nil || l.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.Logger
}

func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
