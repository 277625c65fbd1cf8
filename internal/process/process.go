package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"

	// waitDelay bounds how long Wait keeps the output pipes open after the
	// backend exits, in case a grandchild still holds them.
	waitDelay = 2 * time.Second

	maxLogLine = 1 << 20
)

// Spec describes how the backend is launched.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
}

func (s Spec) String() string {
	parts := append([]string{s.Command}, s.Args...)
	return strings.Join(parts, " ")
}

// LogEntry is a single line of backend output.
type LogEntry struct {
	Message string
	Source  string
	Level   string
}

// Exit records how the backend process ended. Code is -1 when the process was
// terminated by a signal or never produced a status.
type Exit struct {
	Code   int
	Signal string
	Err    error
}

func (e Exit) String() string {
	signal := e.Signal
	if signal == "" {
		signal = "none"
	}
	return fmt.Sprintf("code=%d signal=%s", e.Code, signal)
}

// Option configures a Managed process before it is spawned.
type Option func(*Managed)

// WithLogHandler installs the callback that receives every captured output line.
// The handler runs on the stream goroutine and must not block for long.
func WithLogHandler(fn func(LogEntry)) Option {
	return func(m *Managed) {
		m.onLog = fn
	}
}

// WithExitHandler installs the callback invoked once after the process exits.
func WithExitHandler(fn func(Exit)) Option {
	return func(m *Managed) {
		m.onExit = fn
	}
}

// Managed is the handle to the spawned backend.
type Managed struct {
	spec Spec
	cmd  *exec.Cmd

	state atomic.Int32

	onLog  func(LogEntry)
	onExit func(Exit)

	done chan struct{}
	exit Exit
}

// Start spawns the process described by spec. The returned handle is in the
// Starting state.
func Start(spec Spec, opts ...Option) (*Managed, error) {
	if spec.Command == "" {
		return nil, errors.New("process spec requires a command")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}

	env := os.Environ()
	if spec.Env != nil {
		overrides := make([]string, 0, len(spec.Env))
		for k, v := range spec.Env {
			overrides = append(overrides, fmt.Sprintf("%s=%s", k, v))
		}
		env = append(env, overrides...)
	}
	cmd.Env = env

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.WaitDelay = waitDelay

	configureCmdSysProcAttr(cmd)

	m := &Managed{
		spec: spec,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state.Store(int32(StateStarting))

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go m.streamLogs(stdoutR, LogSourceStdout, &wg)
	go m.streamLogs(stderrR, LogSourceStderr, &wg)

	go func() {
		err := cmd.Wait()
		stdoutW.Close()
		stderrW.Close()
		wg.Wait()
		m.exit = exitFrom(cmd.ProcessState, err)
		close(m.done)
		if m.onExit != nil {
			m.onExit(m.exit)
		}
	}()

	return m, nil
}

// PID returns the operating system process id.
func (m *Managed) PID() int {
	if m == nil || m.cmd == nil || m.cmd.Process == nil {
		return 0
	}
	return m.cmd.Process.Pid
}

// Spec returns the launch specification.
func (m *Managed) Spec() Spec {
	return m.spec
}

// State returns the current lifecycle state.
func (m *Managed) State() State {
	if m == nil {
		return StateNotStarted
	}
	return State(m.state.Load())
}

// Transition moves the process from one state to the next if the current state
// still equals from and the lifecycle permits it.
func (m *Managed) Transition(from, to State) bool {
	if !from.CanTransition(to) {
		return false
	}
	return m.state.CompareAndSwap(int32(from), int32(to))
}

// Done is closed once the process has exited and its output is drained.
func (m *Managed) Done() <-chan struct{} {
	return m.done
}

// Exit returns the exit record. ok is false while the process is still running.
func (m *Managed) Exit() (exit Exit, ok bool) {
	select {
	case <-m.done:
		return m.exit, true
	default:
		return Exit{}, false
	}
}

func (m *Managed) streamLogs(r io.Reader, source string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		entry := LogEntry{Message: line, Source: source, Level: "info"}
		if source == LogSourceStderr {
			entry.Level = "warn"
		}
		if m.onLog != nil {
			m.onLog(entry)
		}
	}
	// Keep draining so an oversized line never blocks the child.
	_, _ = io.Copy(io.Discard, r)
}

func exitFrom(state *os.ProcessState, err error) Exit {
	exit := Exit{Code: -1}
	if state != nil {
		exit.Code = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			exit.Signal = ws.Signal().String()
		}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		exit.Err = err
	}
	return exit
}
