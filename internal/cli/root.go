package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ExitError carries a non-zero exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *options) {
	opts := newOptions()

	root := &cobra.Command{
		Use:   "tether",
		Short: "Desktop shell that supervises a local backend server",
		Long: `tether starts the local backend, waits until it reports ready, shows the
main surface pointing at it, and guarantees the backend is terminated however
the shell exits.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.bindFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd, opts)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to the tether configuration file (default ./"+defaultConfigFile+" when present)")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "Log format (text, json)")
	addModeFlags(root)
	addRunFlags(root)

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newProbeCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newVersionCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, opts
}

// Execute runs the CLI entrypoint.
func Execute() {
	root := NewRootCmd()
	err := root.ExecuteContext(stdcontext.Background())
	if err == nil {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, exitErr.Err)
		}
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
