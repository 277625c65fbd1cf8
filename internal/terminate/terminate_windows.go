//go:build windows

package terminate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
)

type windowsTerminator struct {
	opts Options
	kill func(pid int) error
}

func newPlatform(opts Options) Terminator {
	return &windowsTerminator{opts: opts, kill: terminatePID}
}

func terminatePID(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// Graceful asks the process tree to close without /f and waits for it to exit.
func (t *windowsTerminator) Graceful(ctx context.Context, target Target) error {
	if target.PID <= 0 || exited(target) {
		return nil
	}
	if err := t.opts.Run(ctx, "taskkill", "/pid", strconv.Itoa(target.PID), "/t"); err != nil && !exited(target) {
		return err
	}
	return waitExit(ctx, target, t.opts.GracePeriod)
}

// Forceful force-kills the process tree. The top-level process is terminated
// directly only when taskkill itself fails.
func (t *windowsTerminator) Forceful(ctx context.Context, target Target) error {
	if target.PID <= 0 || exited(target) {
		return nil
	}
	pid := strconv.Itoa(target.PID)
	if treeErr := t.opts.Run(ctx, "taskkill", "/pid", pid, "/t", "/f"); treeErr != nil && !exited(target) {
		t.opts.Logger.Debug("tree kill failed, terminating pid", "pid", target.PID, "err", treeErr)
		if err := t.kill(target.PID); err != nil && !errors.Is(err, os.ErrProcessDone) && !exited(target) {
			return errors.Join(treeErr, fmt.Errorf("kill pid %d: %w", target.PID, err))
		}
	}
	return waitExit(ctx, target, t.opts.KillTimeout)
}

// Fallback force-kills the whole tree by pid and, when broad cleanup is enabled,
// every process running one of the configured image names.
func (t *windowsTerminator) Fallback(ctx context.Context, target Target) error {
	var errs []error
	if target.PID > 0 {
		if err := t.opts.Run(ctx, "taskkill", "/pid", strconv.Itoa(target.PID), "/t", "/f"); err != nil && !exited(target) {
			errs = append(errs, err)
		}
	}
	if t.opts.Broad {
		for _, image := range t.opts.ImageNames {
			t.opts.Logger.Warn("killing processes by image name", "image", image)
			if err := t.opts.Run(ctx, "taskkill", "/f", "/im", image); err != nil {
				t.opts.Logger.Debug("image kill failed", "image", image, "err", err)
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return waitExit(ctx, target, t.opts.KillTimeout)
}
