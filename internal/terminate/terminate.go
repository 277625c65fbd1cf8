// Package terminate provides the per-OS process terminator used by the shutdown
// ladder. The implementation is chosen at build time; callers only see the
// Terminator interface.
package terminate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// ErrExitTimeout reports that a signal was delivered but the process did not
// exit within the allotted wait.
var ErrExitTimeout = errors.New("process did not exit in time")

// Target identifies the process to terminate. Done is closed when the process
// has exited.
type Target struct {
	PID  int
	Done <-chan struct{}
}

// Terminator implements the three rungs of the escalation ladder. A process that
// no longer exists is reported as success by every rung.
type Terminator interface {
	Graceful(ctx context.Context, target Target) error
	Forceful(ctx context.Context, target Target) error
	Fallback(ctx context.Context, target Target) error
}

// Options configures the platform terminator.
type Options struct {
	// GracePeriod bounds the wait after the graceful signal.
	GracePeriod time.Duration
	// KillTimeout bounds the wait after the forceful signal.
	KillTimeout time.Duration
	// Broad enables name-based kills in the fallback rung. They can hit
	// unrelated processes that share the name.
	Broad bool
	// ImageNames are killed by image name on Windows when Broad is set.
	ImageNames []string
	// Pattern is matched against full command lines on POSIX when Broad is set.
	Pattern string

	Logger *slog.Logger

	// Run executes an OS command; tests replace it.
	Run func(ctx context.Context, name string, args ...string) error
}

// New returns the terminator for the running operating system.
func New(opts Options) Terminator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Run == nil {
		opts.Run = runCommand
	}
	return newPlatform(opts)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			return fmt.Errorf("%s: %w: %s", name, err, trimOutput(out))
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func trimOutput(out []byte) string {
	const limit = 256
	if len(out) > limit {
		out = out[:limit]
	}
	for len(out) > 0 && (out[len(out)-1] == '\n' || out[len(out)-1] == '\r') {
		out = out[:len(out)-1]
	}
	return string(out)
}

// waitExit blocks until the target exits, the timeout elapses or ctx ends.
func waitExit(ctx context.Context, target Target, timeout time.Duration) error {
	if target.Done == nil {
		return nil
	}
	if timeout <= 0 {
		select {
		case <-target.Done:
			return nil
		default:
			return fmt.Errorf("pid %d: %w", target.PID, ErrExitTimeout)
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-target.Done:
		return nil
	case <-timer.C:
		return fmt.Errorf("pid %d after %s: %w", target.PID, timeout, ErrExitTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func exited(target Target) bool {
	if target.Done == nil {
		return false
	}
	select {
	case <-target.Done:
		return true
	default:
		return false
	}
}
