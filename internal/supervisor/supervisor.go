// Package supervisor owns the backend process for the lifetime of a shell run.
// It starts the backend, waits for readiness, and funnels every exit trigger
// into a single termination sequence that escalates from a graceful stop to an
// OS-level kill.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Paintersrp/tether/internal/metrics"
	"github.com/Paintersrp/tether/internal/probe"
	"github.com/Paintersrp/tether/internal/process"
	"github.com/Paintersrp/tether/internal/terminate"
)

const diagnosticTimeout = 5 * time.Second

var (
	// ErrShuttingDown is returned by Start and AwaitHealthy once shutdown has
	// begun.
	ErrShuttingDown = errors.New("supervisor is shutting down")
	// ErrNotStarted is returned by AwaitHealthy before Start succeeded.
	ErrNotStarted = errors.New("backend has not been started")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("backend already started")
	// ErrBackendExited reports that the backend exited before becoming ready.
	ErrBackendExited = errors.New("backend exited before becoming ready")
)

// Trigger names the source of a shutdown request.
type Trigger string

const (
	TriggerWindowClose Trigger = "window-close"
	TriggerAllClosed   Trigger = "all-closed"
	TriggerBeforeQuit  Trigger = "before-quit"
	TriggerSignal      Trigger = "signal"
	TriggerFatal       Trigger = "fatal"
)

// Stage names the rung of the termination ladder that ended the sequence.
type Stage string

const (
	StageNone     Stage = "none"
	StageGraceful Stage = "graceful"
	StageForceful Stage = "forceful"
	StageFallback Stage = "fallback"
)

// Outcome describes how the shutdown sequence ended.
type Outcome struct {
	Trigger Trigger
	Stage   Stage
	Err     error
}

// TerminationError is reported when every rung of the ladder failed. The
// process may still be running.
type TerminationError struct {
	PID int
	Err error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("failed to terminate backend pid %d: %v", e.PID, e.Err)
}

func (e *TerminationError) Unwrap() error {
	return e.Err
}

// Launcher spawns the backend.
type Launcher interface {
	Start(onLog func(process.LogEntry), onExit func(process.Exit)) (*process.Managed, error)
}

// HealthMonitor waits for the backend to report ready.
type HealthMonitor interface {
	WaitUntilHealthy(ctx context.Context) (probe.Result, error)
}

// Diagnoser reports which process owns the backend port after shutdown.
type Diagnoser interface {
	ReportPortOwner(ctx context.Context, port int)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventSink registers a callback that receives lifecycle and backend log
// events. It is called synchronously and should return promptly.
func WithEventSink(fn func(Event)) Option {
	return func(s *Supervisor) {
		s.sink = fn
	}
}

// WithDiagnostics runs d against port after the termination sequence, once
// delay has elapsed.
func WithDiagnostics(d Diagnoser, port int, delay time.Duration) Option {
	return func(s *Supervisor) {
		s.diag = d
		s.diagPort = port
		s.diagDelay = delay
	}
}

// Supervisor exclusively owns the managed backend process.
type Supervisor struct {
	launcher Launcher
	monitor  HealthMonitor
	term     terminate.Terminator
	logger   *slog.Logger
	sink     func(Event)

	diag      Diagnoser
	diagPort  int
	diagDelay time.Duration

	// shutting is set exactly once, before any shutdown work is queued.
	shutting atomic.Bool
	requests chan Trigger
	done     chan struct{}

	// life is cancelled when shutdown begins and aborts startup.
	life       context.Context
	cancelLife context.CancelFunc

	readyOnce sync.Once
	ready     chan struct{}

	// mu serializes spawning against the termination sequence.
	mu      sync.Mutex
	proc    *process.Managed
	final   process.State
	outcome *Outcome
}

// New constructs a Supervisor and starts its shutdown coordinator.
func New(l Launcher, m HealthMonitor, t terminate.Terminator, opts ...Option) *Supervisor {
	life, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		launcher:   l,
		monitor:    m,
		term:       t,
		logger:     slog.Default(),
		requests:   make(chan Trigger, 1),
		done:       make(chan struct{}),
		life:       life,
		cancelLife: cancel,
		ready:      make(chan struct{}),
		final:      process.StateNotStarted,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.coordinate()
	return s
}

// Start spawns the backend. It fails with ErrShuttingDown once shutdown has
// begun and never retries a failed spawn.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutting.Load() {
		return ErrShuttingDown
	}
	if s.proc != nil {
		return ErrAlreadyStarted
	}

	s.sendEvent(EventTypeStarting, "starting backend", ReasonInitialStart, nil)
	proc, err := s.launcher.Start(s.sendLog, s.handleExit)
	if err != nil {
		s.final = process.StateFailed
		s.sendEvent(EventTypeFailed, "backend failed to start", ReasonStartFailure, err)
		return err
	}
	s.proc = proc
	return nil
}

// AwaitHealthy blocks until the backend passes its readiness probe. It fails
// with the monitor's error after the attempt budget is spent, with
// ErrBackendExited if the process dies first, and with ErrShuttingDown if
// shutdown begins meanwhile.
func (s *Supervisor) AwaitHealthy(ctx context.Context) error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		if s.shutting.Load() {
			return ErrShuttingDown
		}
		return ErrNotStarted
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopLife := context.AfterFunc(s.life, func() { cancel(ErrShuttingDown) })
	defer stopLife()
	go func() {
		select {
		case <-proc.Done():
			cancel(ErrBackendExited)
		case <-ctx.Done():
		}
	}()

	res, err := s.monitor.WaitUntilHealthy(ctx)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil && ctx.Err() != nil {
			err = cause
		}
		proc.Transition(process.StateStarting, process.StateFailed)
		if errors.Is(err, ErrShuttingDown) {
			return err
		}
		reason := ReasonStartFailure
		var timeout *probe.HealthTimeoutError
		if errors.As(err, &timeout) {
			reason = ReasonProbeTimeout
		}
		s.logger.Error("backend did not become ready", "err", err)
		s.sendEvent(EventTypeFailed, "backend did not become ready", reason, err)
		return err
	}

	if !proc.Transition(process.StateStarting, process.StateHealthy) {
		return ErrShuttingDown
	}
	s.readyOnce.Do(func() { close(s.ready) })
	metrics.SetBackendReady(true)
	s.logger.Info("backend ready", "pid", proc.PID(), "attempts", res.Attempt)
	s.sendEvent(EventTypeReady, "backend ready", ReasonProbeReady, nil)
	return nil
}

// Shutdown requests termination of the backend. Only the first call starts the
// termination sequence; every call returns the same channel, closed when the
// sequence has finished.
func (s *Supervisor) Shutdown(trigger Trigger) <-chan struct{} {
	if !s.shutting.CompareAndSwap(false, true) {
		metrics.RecordShutdownRequest(string(trigger), false)
		s.logger.Debug("shutdown already in progress", "trigger", trigger)
		return s.done
	}
	metrics.RecordShutdownRequest(string(trigger), true)
	s.logger.Info("shutdown requested", "trigger", trigger)
	s.cancelLife()
	s.requests <- trigger
	return s.done
}

// ShuttingDown reports whether shutdown has been requested.
func (s *Supervisor) ShuttingDown() bool {
	return s.shutting.Load()
}

// Ready is closed once the backend has passed its readiness probe.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed once the termination sequence has finished.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Outcome returns the result of the termination sequence once it has finished.
func (s *Supervisor) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return Outcome{}, false
	}
	return *s.outcome, true
}

// State returns the lifecycle state of the backend.
func (s *Supervisor) State() process.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		return s.proc.State()
	}
	return s.final
}

// PID returns the backend pid, or 0 when no process is held.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc.PID()
}

func (s *Supervisor) handleExit(exit process.Exit) {
	if s.shutting.Load() {
		return
	}
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil || proc.State() != process.StateHealthy {
		return
	}
	metrics.SetBackendReady(false)
	s.logger.Warn("backend exited while the shell is running", "exit", exit.String())
	s.sendEvent(EventTypeCrashed, "backend exited: "+exit.String(), ReasonInstanceCrash, exit.Err)
}

func (s *Supervisor) coordinate() {
	trigger := <-s.requests
	defer close(s.done)

	s.sendTriggered(EventTypeStopping, trigger, "stopping backend", ReasonShutdown, nil)

	// Waits for an in-flight spawn so a freshly started process is not missed.
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	outcome := s.terminate(trigger, proc)

	s.mu.Lock()
	if proc != nil {
		s.final = process.StateTerminated
	}
	s.proc = nil
	s.outcome = &outcome
	s.mu.Unlock()
	metrics.SetBackendReady(false)

	if outcome.Err != nil {
		s.sendTriggered(EventTypeError, trigger, "backend termination failed", ReasonStopFailed, outcome.Err)
	} else {
		s.sendTriggered(EventTypeStopped, trigger, "backend stopped", ReasonShutdown, nil)
	}

	s.runDiagnostics()
}

func (s *Supervisor) terminate(trigger Trigger, proc *process.Managed) Outcome {
	outcome := Outcome{Trigger: trigger, Stage: StageNone}
	if proc == nil {
		s.logger.Info("no backend process to terminate", "trigger", trigger)
		return outcome
	}
	if !beginTerminating(proc) {
		s.logger.Info("backend already terminated", "trigger", trigger)
		return outcome
	}

	target := terminate.Target{PID: proc.PID(), Done: proc.Done()}
	logger := s.logger.With("pid", target.PID, "trigger", trigger)

	select {
	case <-proc.Done():
		proc.Transition(process.StateTerminating, process.StateTerminated)
		logger.Info("backend had already exited")
		return outcome
	default:
	}

	ladder := []struct {
		stage Stage
		run   func(context.Context, terminate.Target) error
	}{
		{StageGraceful, s.term.Graceful},
		{StageForceful, s.term.Forceful},
		{StageFallback, s.term.Fallback},
	}

	ctx := context.Background()
	var errs []error
	for _, rung := range ladder {
		logger.Info("terminating backend", "stage", rung.stage)
		err := rung.run(ctx, target)
		metrics.RecordTerminationStage(string(rung.stage), err)
		outcome.Stage = rung.stage
		if err == nil {
			proc.Transition(process.StateTerminating, process.StateTerminated)
			logger.Info("backend terminated", "stage", rung.stage)
			return outcome
		}
		logger.Warn("termination stage failed", "stage", rung.stage, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", rung.stage, err))
	}

	proc.Transition(process.StateTerminating, process.StateTerminated)
	outcome.Err = &TerminationError{PID: target.PID, Err: errors.Join(errs...)}
	logger.Error("all termination stages failed", "err", outcome.Err)
	return outcome
}

func beginTerminating(proc *process.Managed) bool {
	for _, from := range []process.State{process.StateStarting, process.StateHealthy, process.StateFailed} {
		if proc.Transition(from, process.StateTerminating) {
			return true
		}
	}
	return false
}

func (s *Supervisor) runDiagnostics() {
	if s.diag == nil {
		return
	}
	if s.diagDelay > 0 {
		time.Sleep(s.diagDelay)
	}
	ctx, cancel := context.WithTimeout(context.Background(), diagnosticTimeout)
	defer cancel()
	s.diag.ReportPortOwner(ctx, s.diagPort)
}
