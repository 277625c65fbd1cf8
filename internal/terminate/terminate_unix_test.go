//go:build !windows

package terminate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Paintersrp/tether/internal/process"
)

type recordedRun struct {
	mu    sync.Mutex
	calls []string
	err   func(name string, args []string) error
}

func (r *recordedRun) run(_ context.Context, name string, args ...string) error {
	r.mu.Lock()
	r.calls = append(r.calls, strings.Join(append([]string{name}, args...), " "))
	r.mu.Unlock()
	if r.err != nil {
		return r.err(name, args)
	}
	return nil
}

func startShell(t *testing.T, script string) *process.Managed {
	t.Helper()
	proc, err := process.Start(process.Spec{Command: "/bin/sh", Args: []string{"-c", script}})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Kill(-proc.PID(), unix.SIGKILL)
		<-proc.Done()
	})
	return proc
}

func TestGracefulStopsProcessGroup(t *testing.T) {
	proc := startShell(t, "sleep 30")
	term := New(Options{GracePeriod: 2 * time.Second, KillTimeout: time.Second})

	err := term.Graceful(context.Background(), Target{PID: proc.PID(), Done: proc.Done()})
	require.NoError(t, err)

	exit, ok := proc.Exit()
	require.True(t, ok)
	require.Equal(t, "terminated", exit.Signal)
}

func TestGracefulTimesOutWhenSignalIgnored(t *testing.T) {
	proc := startShell(t, "trap '' TERM; sleep 30; true")
	// Give the shell a moment to install the trap.
	time.Sleep(100 * time.Millisecond)

	term := New(Options{GracePeriod: 200 * time.Millisecond, KillTimeout: 2 * time.Second})
	target := Target{PID: proc.PID(), Done: proc.Done()}

	err := term.Graceful(context.Background(), target)
	require.ErrorIs(t, err, ErrExitTimeout)

	require.NoError(t, term.Forceful(context.Background(), target))
	exit, ok := proc.Exit()
	require.True(t, ok)
	require.Equal(t, "killed", exit.Signal)
}

func TestSignalSkipsExitedTarget(t *testing.T) {
	done := make(chan struct{})
	close(done)
	var calls int
	term := &posixTerminator{
		opts: Options{GracePeriod: time.Second},
		kill: func(int, unix.Signal) error {
			calls++
			return nil
		},
	}

	require.NoError(t, term.Graceful(context.Background(), Target{PID: 4242, Done: done}))
	require.Zero(t, calls)
}

func TestSignalTreatsMissingProcessAsSuccess(t *testing.T) {
	term := &posixTerminator{
		opts: Options{},
		kill: func(int, unix.Signal) error { return unix.ESRCH },
	}
	require.NoError(t, term.Forceful(context.Background(), Target{PID: 4242}))
}

func TestSignalReportsPermissionFailure(t *testing.T) {
	var pids []int
	term := &posixTerminator{
		opts: Options{},
		kill: func(pid int, _ unix.Signal) error {
			pids = append(pids, pid)
			return unix.EPERM
		},
	}
	err := term.Graceful(context.Background(), Target{PID: 4242})
	require.ErrorIs(t, err, unix.EPERM)
	require.Equal(t, []int{-4242}, pids)
}

func TestFallbackScopedByDefault(t *testing.T) {
	rec := &recordedRun{}
	term := New(Options{Run: rec.run, Pattern: "backend"})

	require.NoError(t, term.Fallback(context.Background(), Target{PID: 4242}))
	require.Equal(t, []string{"pkill -KILL -P 4242", "kill -KILL 4242"}, rec.calls)
}

func TestFallbackBroadAddsPatternKill(t *testing.T) {
	rec := &recordedRun{}
	term := New(Options{Run: rec.run, Broad: true, Pattern: "backend"})

	require.NoError(t, term.Fallback(context.Background(), Target{PID: 4242}))
	require.Equal(t, []string{"pkill -KILL -P 4242", "kill -KILL 4242", "pkill -f backend"}, rec.calls)
}

func TestFallbackJoinsFailures(t *testing.T) {
	boom := errors.New("boom")
	rec := &recordedRun{err: func(name string, _ []string) error {
		if name == "kill" {
			return boom
		}
		return nil
	}}
	term := New(Options{Run: rec.run})

	err := term.Fallback(context.Background(), Target{PID: 4242})
	require.ErrorIs(t, err, boom)
}
