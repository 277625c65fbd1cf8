// Package logging builds the shell's structured logger. Every record carries
// the run id so logs from one session can be correlated.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Paintersrp/tether/internal/config"
)

// FileName is the log file created inside the configured directory.
const FileName = "tether.log"

// Logger wraps the configured slog logger and the file it writes to, if any.
type Logger struct {
	*slog.Logger
	RunID string
	Path  string

	file *os.File
}

// Options controls where the logger writes.
type Options struct {
	// Stderr receives logs when no file is used.
	Stderr io.Writer
	// RequireFile forces file output, falling back to a directory under the
	// system temp dir when none is configured. The terminal UI needs this so
	// log lines do not corrupt the screen.
	RequireFile bool
}

// New builds a logger from cfg.
func New(cfg config.Logging, opts Options) (*Logger, error) {
	writer := opts.Stderr
	if writer == nil {
		writer = os.Stderr
	}

	dir := cfg.Dir
	if dir == "" && opts.RequireFile {
		dir = filepath.Join(os.TempDir(), "tether")
	}

	l := &Logger{RunID: uuid.NewString()}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		l.Path = filepath.Join(dir, FileName)
		file, err := os.OpenFile(l.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = file
		writer = file
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}
	l.Logger = slog.New(handler).With("run_id", l.RunID)
	return l, nil
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Close syncs and closes the log file. It is a no-op for stderr loggers.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log file: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	l.file = nil
	return nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
