package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
)

// Validate reports every inconsistency in the configuration.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeDevelopment, ModePackaged:
	default:
		errs = append(errs, fmt.Errorf("mode: unsupported value %q", c.Mode))
	}

	if err := validatePort(c.Backend.Port); err != nil {
		errs = append(errs, fmt.Errorf("backend.port: %w", err))
	}
	if strings.TrimSpace(c.Backend.Host) == "" {
		errs = append(errs, errors.New("backend.host: must not be empty"))
	}
	if strings.ContainsAny(c.Backend.Executable, `/\`) {
		errs = append(errs, fmt.Errorf("backend.executable: %q must be a file name, not a path", c.Backend.Executable))
	}
	if c.Mode == ModeDevelopment && strings.TrimSpace(c.Backend.Dev.Interpreter) == "" {
		errs = append(errs, errors.New("backend.dev.interpreter: required in development mode"))
	}

	if c.Health.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("health.maxAttempts: must be at least 1, got %d", c.Health.MaxAttempts))
	}
	if c.Health.Interval.Duration < 0 {
		errs = append(errs, errors.New("health.interval: must not be negative"))
	}
	if c.Health.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("health.timeout: must be positive"))
	}
	if strings.TrimSpace(c.Health.Marker) == "" {
		errs = append(errs, errors.New("health.marker: must not be empty"))
	}

	if c.Shutdown.GracePeriod.Duration < 0 {
		errs = append(errs, errors.New("shutdown.gracePeriod: must not be negative"))
	}
	if c.Shutdown.KillTimeout.Duration < 0 {
		errs = append(errs, errors.New("shutdown.killTimeout: must not be negative"))
	}
	if c.Shutdown.BroadFallback && strings.TrimSpace(c.Shutdown.FallbackPattern) == "" {
		errs = append(errs, errors.New("shutdown.fallbackPattern: required when broadFallback is enabled"))
	}

	if _, err := url.Parse(c.UI.DevServerURL); err != nil {
		errs = append(errs, fmt.Errorf("ui.devServerURL: %w", err))
	}

	if !c.Status.Disabled {
		if _, _, err := net.SplitHostPort(c.Status.Addr); err != nil {
			errs = append(errs, fmt.Errorf("status.addr: %w", err))
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func validatePort(port int) error {
	parsed, err := nat.ParsePort(strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("invalid port %d: %w", port, err)
	}
	if parsed == 0 {
		return errors.New("port must be between 1 and 65535")
	}
	return nil
}
