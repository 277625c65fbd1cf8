// Package launcher resolves how the backend is started for the current run mode
// and spawns it.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Paintersrp/tether/internal/cliutil"
	"github.com/Paintersrp/tether/internal/config"
	"github.com/Paintersrp/tether/internal/process"
)

// ErrExecutableNotFound reports that no packaged backend executable exists in
// any of the resource directories.
var ErrExecutableNotFound = errors.New("backend executable not found")

// SpawnError is returned when the backend cannot be started. It is never
// retried.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn backend %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Launcher spawns the backend process.
type Launcher struct {
	cfg    *config.Config
	logger *slog.Logger

	goos    string
	baseDir string
	stat    func(string) (os.FileInfo, error)
	start   func(process.Spec, ...process.Option) (*process.Managed, error)
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithBaseDir overrides the directory relative resource dirs resolve against.
// It defaults to the directory of the running executable.
func WithBaseDir(dir string) Option {
	return func(l *Launcher) {
		l.baseDir = dir
	}
}

// WithLogger sets the logger for spawn and backend output diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New constructs a Launcher for cfg.
func New(cfg *config.Config, opts ...Option) *Launcher {
	l := &Launcher{
		cfg:    cfg,
		logger: slog.Default(),
		goos:   runtime.GOOS,
		stat:   os.Stat,
		start:  process.Start,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.baseDir == "" {
		if exe, err := os.Executable(); err == nil {
			l.baseDir = filepath.Dir(exe)
		}
	}
	return l
}

// ExecutableName returns the platform specific executable file name.
func ExecutableName(base, goos string) string {
	if goos == "windows" && !strings.HasSuffix(strings.ToLower(base), ".exe") {
		return base + ".exe"
	}
	return base
}

// Resolve returns the launch specification for the configured mode.
func (l *Launcher) Resolve() (process.Spec, error) {
	b := l.cfg.Backend
	if l.cfg.Mode == config.ModeDevelopment {
		args := append([]string{b.Dev.Script}, b.Dev.Args...)
		return process.Spec{
			Command: b.Dev.Interpreter,
			Args:    args,
			Dir:     b.Dev.Workdir,
			Env:     b.Env,
		}, nil
	}

	name := ExecutableName(b.Executable, l.goos)
	searched := make([]string, 0, len(b.ResourceDirs))
	for _, dir := range b.ResourceDirs {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(l.baseDir, dir)
		}
		candidate := filepath.Clean(filepath.Join(dir, name))
		searched = append(searched, candidate)
		info, err := l.stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return process.Spec{
			Command: candidate,
			Args:    append([]string(nil), b.Args...),
			Dir:     filepath.Dir(candidate),
			Env:     b.Env,
		}, nil
	}

	path := name
	if len(searched) > 0 {
		path = searched[0]
	}
	return process.Spec{}, &SpawnError{
		Path: path,
		Err:  fmt.Errorf("%w (searched %s)", ErrExecutableNotFound, strings.Join(searched, ", ")),
	}
}

// Start resolves and spawns the backend. Output lines and the eventual exit are
// logged; onLog and onExit, when set, also receive them.
func (l *Launcher) Start(onLog func(process.LogEntry), onExit func(process.Exit)) (*process.Managed, error) {
	spec, err := l.Resolve()
	if err != nil {
		return nil, err
	}

	l.logger.Info("starting backend", "mode", l.cfg.Mode, "command", spec.String(), "dir", spec.Dir)

	logOpt := process.WithLogHandler(func(entry process.LogEntry) {
		entry.Message = cliutil.RedactSecrets(entry.Message)
		level := slog.LevelInfo
		if entry.Source == process.LogSourceStderr {
			level = slog.LevelWarn
		}
		l.logger.Log(context.Background(), level, "backend output", "stream", entry.Source, "line", entry.Message)
		if onLog != nil {
			onLog(entry)
		}
	})
	exitOpt := process.WithExitHandler(func(exit process.Exit) {
		l.logger.Info("backend process exited", "code", exit.Code, "signal", exit.Signal, "err", exit.Err)
		if onExit != nil {
			onExit(exit)
		}
	})

	proc, err := l.start(spec, logOpt, exitOpt)
	if err != nil {
		return nil, &SpawnError{Path: spec.Command, Err: err}
	}
	l.logger.Info("backend spawned", "pid", proc.PID())
	return proc, nil
}
