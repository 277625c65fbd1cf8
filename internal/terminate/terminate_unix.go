//go:build !windows

package terminate

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"
)

type posixTerminator struct {
	opts Options
	kill func(pid int, sig unix.Signal) error
}

func newPlatform(opts Options) Terminator {
	return &posixTerminator{opts: opts, kill: unix.Kill}
}

// Graceful sends SIGTERM to the backend's process group and waits for it to exit.
func (t *posixTerminator) Graceful(ctx context.Context, target Target) error {
	if err := t.signalGroup(target, unix.SIGTERM); err != nil {
		return err
	}
	return waitExit(ctx, target, t.opts.GracePeriod)
}

// Forceful sends SIGKILL to the backend's process group and waits for it to exit.
func (t *posixTerminator) Forceful(ctx context.Context, target Target) error {
	if err := t.signalGroup(target, unix.SIGKILL); err != nil {
		return err
	}
	return waitExit(ctx, target, t.opts.KillTimeout)
}

// Fallback shells out to kill the tracked pid and its direct children, and, when
// broad cleanup is enabled, everything whose command line matches the pattern.
func (t *posixTerminator) Fallback(ctx context.Context, target Target) error {
	var errs []error
	if target.PID > 0 {
		pid := strconv.Itoa(target.PID)
		// pkill exits 1 when nothing matched, which is not a failure here.
		if err := t.opts.Run(ctx, "pkill", "-KILL", "-P", pid); err != nil && !noMatch(err) {
			errs = append(errs, err)
		}
		if err := t.opts.Run(ctx, "kill", "-KILL", pid); err != nil && !exited(target) {
			errs = append(errs, err)
		}
	}
	if t.opts.Broad && t.opts.Pattern != "" {
		t.opts.Logger.Warn("killing processes by command line pattern", "pattern", t.opts.Pattern)
		if err := t.opts.Run(ctx, "pkill", "-f", t.opts.Pattern); err != nil && !noMatch(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return waitExit(ctx, target, t.opts.KillTimeout)
}

func (t *posixTerminator) signalGroup(target Target, sig unix.Signal) error {
	if target.PID <= 0 || exited(target) {
		return nil
	}
	// The backend leads its own group, so -pid reaches the whole tree.
	err := t.kill(-target.PID, sig)
	if errors.Is(err, unix.ESRCH) {
		err = t.kill(target.PID, sig)
	}
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %s to pid %d: %w", unix.SignalName(sig), target.PID, err)
	}
	return nil
}

func noMatch(err error) bool {
	var exitErr interface{ ExitCode() int }
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}
