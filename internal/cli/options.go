package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Paintersrp/tether/internal/config"
)

const (
	defaultConfigFile = "tether.yaml"
	envPrefix         = "TETHER"
)

// options resolves flags, TETHER_* environment variables and the config file
// into one configuration.
type options struct {
	v *viper.Viper
}

func newOptions() *options {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	// TETHER_LOG_LEVEL for log-level.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return &options{v: v}
}

func addModeFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("dev", false, "Run the backend from source and load the frontend dev server")
	cmd.Flags().Bool("prod", false, "Ignore TETHER_ENV=development and run the packaged backend")
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("headless", false, "Do not render a terminal UI")
	cmd.Flags().Bool("diagnose", false, "Report which process owns the backend port after shutdown")
	cmd.Flags().String("status-addr", "", "Address for the local status API")
	cmd.Flags().Bool("no-status", false, "Disable the local status API")
}

func (o *options) bindFlags(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr := o.v.BindPFlag(f.Name, f); bindErr != nil && err == nil {
			err = fmt.Errorf("bind flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

func (o *options) configPath() string {
	if path := o.v.GetString("config"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

// resolve loads the config file and applies flag and environment overrides.
// --dev wins over everything; TETHER_ENV=development selects development mode
// unless --prod is given.
func (o *options) resolve() (*config.Config, error) {
	cfg, err := config.Load(o.configPath())
	if err != nil {
		return nil, err
	}

	prod := o.v.GetBool("prod")
	envDev := strings.EqualFold(strings.TrimSpace(o.v.GetString("env")), string(config.ModeDevelopment))
	switch {
	case o.v.GetBool("dev") || (envDev && !prod):
		cfg.Mode = config.ModeDevelopment
	case prod:
		cfg.Mode = config.ModePackaged
	}

	if o.v.GetBool("headless") {
		cfg.UI.Headless = true
	}
	if o.v.GetBool("diagnose") {
		cfg.Diagnostics.PortCheck = true
	}
	if level := o.v.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := o.v.GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}
	if addr := o.v.GetString("status-addr"); addr != "" {
		cfg.Status.Addr = addr
	}
	if o.v.GetBool("no-status") {
		cfg.Status.Disabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
