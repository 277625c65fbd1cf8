package cli

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/tether/internal/logging"
)

func newProbeCmd(opts *options) *cobra.Command {
	var attempts int
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Poll an already running backend until it reports ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve()
			if err != nil {
				return err
			}
			if attempts > 0 {
				cfg.Health.MaxAttempts = attempts
			}

			logger, err := logging.New(cfg.Logging, logging.Options{Stderr: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			res, err := newMonitor(cfg, logger.Logger).WaitUntilHealthy(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ready after %d attempt(s)\n", cfg.ReadinessURL(), res.Attempt)
			return nil
		},
	}
	cmd.Flags().IntVar(&attempts, "attempts", 0, "Override the number of readiness attempts")
	return cmd
}
