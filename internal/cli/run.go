package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	httpapi "github.com/Paintersrp/tether/internal/api/http"
	"github.com/Paintersrp/tether/internal/config"
	"github.com/Paintersrp/tether/internal/logging"
	"github.com/Paintersrp/tether/internal/logmux"
	"github.com/Paintersrp/tether/internal/shell"
	"github.com/Paintersrp/tether/internal/tui"
)

const eventBuffer = 512

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the backend and the shell (the default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd, opts)
		},
	}
	addModeFlags(cmd)
	addRunFlags(cmd)
	return cmd
}

func runShell(cmd *cobra.Command, opts *options) error {
	cfg, err := opts.resolve()
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	r := &runner{
		cfg:     cfg,
		stdout:  cmd.OutOrStdout(),
		stderr:  cmd.ErrOrStderr(),
		signals: signals,
		tui:     !cfg.UI.Headless && term.IsTerminal(int(os.Stdout.Fd())),
	}
	code, err := r.run(cmd.Context())
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// runner owns one shell run: logging, the supervisor, the host loop, the
// status API and signal handling.
type runner struct {
	cfg     *config.Config
	stdout  io.Writer
	stderr  io.Writer
	signals <-chan os.Signal
	tui     bool

	// listener overrides cfg.Status.Addr when set.
	listener net.Listener
	// newHost overrides host selection when set.
	newHost func(logger *slog.Logger) shell.Host
}

func (r *runner) run(ctx context.Context) (code int, err error) {
	logger, err := logging.New(r.cfg.Logging, logging.Options{Stderr: r.stderr, RequireFile: r.tui})
	if err != nil {
		return 1, err
	}
	defer logger.Close()
	log := logger.Logger
	slog.SetDefault(log)

	log.Info("starting shell", "mode", r.cfg.Mode, "backend_url", r.cfg.BackendURL(), "log_file", logger.Path)

	host := r.host(log.With("component", "shell"))

	// Backend output reaches the host through a bounded relay so a slow
	// surface cannot stall the output readers.
	relay := logmux.New(eventBuffer)
	sup := newSupervisor(r.cfg, log, relay.Publish)
	coord, err := shell.NewCoordinator(r.cfg, host, sup, log.With("component", "shell"))
	if err != nil {
		relay.Close()
		return 1, err
	}

	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		defer func() {
			if rec := recover(); rec != nil {
				coord.Fatal(fmt.Errorf("%w in event relay: %v", errPanic, rec))
				// Lifecycle events block until read; keep draining so
				// cleanup can finish.
				for range relay.Output() {
				}
			}
		}()
		for evt := range relay.Output() {
			host.Notify(evt)
		}
	}()
	defer func() {
		relay.Close()
		<-relayed
	}()

	defer func() {
		if rec := recover(); rec != nil {
			panicErr := fmt.Errorf("%w: %v", errPanic, rec)
			coord.Fatal(panicErr)
			<-sup.Done()
			code, err = 1, panicErr
		}
	}()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer stop()
		return contain(coord, sup.Done(), func() error {
			var runErr error
			code, runErr = coord.Run(runCtx)
			return runErr
		})
	})

	if !r.cfg.Status.Disabled {
		server, err := httpapi.NewServer(httpapi.Config{
			Addr:       r.cfg.Status.Addr,
			Controller: coord,
			Listener:   r.listener,
		})
		if err != nil {
			coord.Fatal(err)
			<-sup.Done()
			return 1, err
		}
		g.Go(func() error {
			return contain(coord, sup.Done(), func() error {
				if err := server.Run(gctx); err != nil {
					coord.Fatal(fmt.Errorf("status api: %w", err))
					return err
				}
				return nil
			})
		})
	}

	g.Go(func() error {
		return contain(coord, sup.Done(), func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case sig := <-r.signals:
					log.Info("signal received", "signal", sig.String())
					coord.Interrupt()
				}
			}
		})
	})

	err = g.Wait()
	if errors.Is(err, errPanic) {
		code = 1
	}
	if outcome, ok := sup.Outcome(); ok {
		log.Info("shell exited", "code", code, "trigger", outcome.Trigger, "stage", outcome.Stage)
	}
	return code, err
}

var errPanic = errors.New("panic")

// contain runs fn and turns a panic into a fatal shutdown. It returns only
// after the backend has been cleaned up.
func contain(coord *shell.Coordinator, cleaned <-chan struct{}, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", errPanic, rec)
			coord.Fatal(err)
			<-cleaned
		}
	}()
	return fn()
}

func (r *runner) host(logger *slog.Logger) shell.Host {
	if r.newHost != nil {
		return r.newHost(logger)
	}
	if r.tui {
		return tui.New()
	}
	return shell.NewHeadless(logger, shell.WithEventOutput(r.stdout, r.stderr))
}
