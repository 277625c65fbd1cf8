package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Paintersrp/tether/internal/api"
	"github.com/Paintersrp/tether/internal/config"
	"github.com/Paintersrp/tether/internal/process"
	"github.com/Paintersrp/tether/internal/supervisor"
)

// Supervisor is the part of *supervisor.Supervisor the coordinator drives.
type Supervisor interface {
	Start(ctx context.Context) error
	AwaitHealthy(ctx context.Context) error
	Shutdown(trigger supervisor.Trigger) <-chan struct{}
	ShuttingDown() bool
	Done() <-chan struct{}
	State() process.State
	PID() int
	Outcome() (supervisor.Outcome, bool)
}

// Coordinator drives the surfaces of one shell run.
type Coordinator struct {
	host    Host
	sup     Supervisor
	logger  *slog.Logger
	content Content

	exitCode atomic.Int32
	exitOnce sync.Once

	readyOnce sync.Once
	ready     chan struct{}

	mu     sync.Mutex
	splash Surface
	main   Surface
}

// NewCoordinator constructs a Coordinator for cfg.
func NewCoordinator(cfg *config.Config, host Host, sup Supervisor, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	frontend, err := FrontendURL(cfg)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		host:   host,
		sup:    sup,
		logger: logger,
		content: Content{
			BackendURL:  cfg.BackendURL(),
			FrontendURL: frontend,
			Mode:        cfg.Mode,
		},
		ready: make(chan struct{}),
	}, nil
}

// FrontendURL returns where the main surface loads the frontend from: the dev
// server in development mode, the built index file otherwise.
func FrontendURL(cfg *config.Config) (string, error) {
	if cfg.Mode == config.ModeDevelopment {
		return cfg.UI.DevServerURL, nil
	}
	abs, err := filepath.Abs(cfg.UI.BuildIndex)
	if err != nil {
		return "", fmt.Errorf("resolve build index: %w", err)
	}
	path := filepath.ToSlash(abs)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return (&url.URL{Scheme: "file", Path: path}).String(), nil
}

// Content returns what the main surface renders.
func (c *Coordinator) Content() Content {
	return c.content
}

// Ready is closed once the main surface has been shown.
func (c *Coordinator) Ready() <-chan struct{} {
	return c.ready
}

// Run starts the backend behind the splash and runs the host loop. It returns
// the process exit code once the loop has stopped and backend cleanup is
// complete.
func (c *Coordinator) Run(ctx context.Context) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.guard(func() { c.startup(ctx) })
	go c.guard(func() { c.route(ctx) })

	err := c.runHost(ctx)

	// The loop can also end on ctx; cleanup must still have run before exit.
	<-c.sup.Shutdown(supervisor.TriggerBeforeQuit)
	return int(c.exitCode.Load()), err
}

// Interrupt handles a termination signal: the backend is cleaned up and the
// shell exits with code 0.
func (c *Coordinator) Interrupt() {
	c.logger.Info("termination signal received")
	c.quit(supervisor.TriggerSignal, 0)
}

// Fatal handles an unrecoverable error: the backend is cleaned up and the
// shell exits with code 1.
func (c *Coordinator) Fatal(err error) {
	c.logger.Error("fatal error", "err", err)
	c.quit(supervisor.TriggerFatal, 1)
}

// Request handles a close or quit request.
func (c *Coordinator) Request(kind RequestKind) {
	c.logger.Info("shell request", "request", kind)
	switch kind {
	case RequestCloseMain:
		done := c.sup.Shutdown(kind.Trigger())
		go c.guard(func() {
			<-done
			c.closeSurfaces()
			c.Request(RequestAllClosed)
		})
	case RequestAllClosed:
		c.quit(kind.Trigger(), 0)
	case RequestQuit:
		select {
		case <-c.sup.Done():
		default:
			c.logger.Info("deferring quit until backend cleanup completes")
		}
		c.quit(kind.Trigger(), 0)
	}
}

// Status reports the backend state for the status API.
func (c *Coordinator) Status(context.Context) (*api.StatusReport, error) {
	report := &api.StatusReport{
		State:        c.sup.State().String(),
		PID:          c.sup.PID(),
		Mode:         string(c.content.Mode),
		BackendURL:   c.content.BackendURL,
		FrontendURL:  c.content.FrontendURL,
		ShuttingDown: c.sup.ShuttingDown(),
		GeneratedAt:  time.Now().UTC(),
	}
	select {
	case <-c.ready:
		report.Ready = !report.ShuttingDown
	default:
	}
	if outcome, ok := c.sup.Outcome(); ok {
		report.Shutdown = &api.ShutdownReport{
			Trigger: string(outcome.Trigger),
			Stage:   string(outcome.Stage),
		}
		if outcome.Err != nil {
			report.Shutdown.Error = outcome.Err.Error()
		}
	}
	return report, nil
}

// Quit handles an explicit quit request from the status API.
func (c *Coordinator) Quit(context.Context) (*api.QuitResult, error) {
	accepted := !c.sup.ShuttingDown()
	c.Request(RequestQuit)
	return &api.QuitResult{Accepted: accepted, RequestedAt: time.Now().UTC()}, nil
}

func (c *Coordinator) startup(ctx context.Context) {
	splash := c.host.ShowSplash()
	c.mu.Lock()
	c.splash = splash
	c.mu.Unlock()

	err := c.sup.Start(ctx)
	if err == nil {
		err = c.sup.AwaitHealthy(ctx)
	}
	if err != nil {
		if errors.Is(err, supervisor.ErrShuttingDown) {
			return
		}
		c.startupFailed(err)
		return
	}

	main := c.host.CreateMain(c.content)
	c.mu.Lock()
	c.main = main
	c.mu.Unlock()

	select {
	case <-main.ReadyToShow():
	case <-c.sup.Done():
		return
	case <-ctx.Done():
		return
	}
	if c.sup.ShuttingDown() {
		return
	}
	main.Show()
	splash.Close()
	c.readyOnce.Do(func() { close(c.ready) })
	c.logger.Info("main surface shown", "backend_url", c.content.BackendURL, "frontend_url", c.content.FrontendURL)
}

func (c *Coordinator) startupFailed(err error) {
	c.logger.Error("backend startup failed", "err", err)
	c.mu.Lock()
	splash := c.splash
	c.mu.Unlock()
	if splash != nil {
		splash.Close()
	}
	c.quit(supervisor.TriggerFatal, 1)
}

func (c *Coordinator) route(ctx context.Context) {
	requests := c.host.Requests()
	for {
		select {
		case <-ctx.Done():
			return
		case kind, ok := <-requests:
			if !ok {
				return
			}
			c.Request(kind)
		}
	}
}

func (c *Coordinator) quit(trigger supervisor.Trigger, code int) {
	if code != 0 {
		c.exitCode.CompareAndSwap(0, int32(code))
	}
	done := c.sup.Shutdown(trigger)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("closing surfaces failed", "panic", r)
			}
		}()
		<-done
		c.closeSurfaces()
		c.exitOnce.Do(c.host.Exit)
	}()
}

func (c *Coordinator) closeSurfaces() {
	c.mu.Lock()
	splash, main := c.splash, c.main
	c.mu.Unlock()
	if main != nil {
		main.Close()
	}
	if splash != nil {
		splash.Close()
	}
}

// runHost runs the host loop. A panic in the loop is fatal: the backend is
// still cleaned up and the run exits with code 1.
func (c *Coordinator) runHost(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("host loop panic: %v", r)
			c.Fatal(err)
		}
	}()
	return c.host.Run(ctx)
}

func (c *Coordinator) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.Fatal(fmt.Errorf("panic: %v", r))
		}
	}()
	fn()
}

var _ api.Controller = (*Coordinator)(nil)
