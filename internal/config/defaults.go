package config

import "time"

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8000
	DefaultExecutable      = "backend"
	DefaultReadinessMarker = "server is up and running"
	DefaultMaxAttempts     = 60
	DefaultInterval        = time.Second
	DefaultProbeTimeout    = 2 * time.Second
	DefaultGracePeriod     = 2 * time.Second
	DefaultKillTimeout     = 2 * time.Second
	DefaultDevServerURL    = "http://localhost:5173"
	DefaultBuildIndex      = "build/index.html"
	DefaultStatusAddr      = "127.0.0.1:7663"
	DefaultDiagnoseDelay   = time.Second
)

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModePackaged
	}

	b := &c.Backend
	if b.Host == "" {
		b.Host = DefaultHost
	}
	if b.Port == 0 {
		b.Port = DefaultPort
	}
	if b.Executable == "" {
		b.Executable = DefaultExecutable
	}
	if len(b.ResourceDirs) == 0 {
		b.ResourceDirs = []string{"resources", "../resources"}
	}
	if b.Dev.Interpreter == "" {
		b.Dev.Interpreter = "python"
	}
	if b.Dev.Script == "" {
		b.Dev.Script = "main.py"
	}
	if b.Dev.Workdir == "" {
		b.Dev.Workdir = "../src/backend"
	}

	h := &c.Health
	if h.Path == "" {
		h.Path = "/"
	}
	if h.Marker == "" {
		h.Marker = DefaultReadinessMarker
	}
	if h.MaxAttempts == 0 {
		h.MaxAttempts = DefaultMaxAttempts
	}
	if !h.Interval.IsSet() {
		h.Interval.Duration = DefaultInterval
	}
	if !h.Timeout.IsSet() {
		h.Timeout.Duration = DefaultProbeTimeout
	}

	s := &c.Shutdown
	if !s.GracePeriod.IsSet() {
		s.GracePeriod.Duration = DefaultGracePeriod
	}
	if !s.KillTimeout.IsSet() {
		s.KillTimeout.Duration = DefaultKillTimeout
	}
	if len(s.FallbackImages) == 0 {
		s.FallbackImages = []string{"backend.exe", "python.exe"}
	}
	if s.FallbackPattern == "" {
		s.FallbackPattern = "backend"
	}

	if c.UI.DevServerURL == "" {
		c.UI.DevServerURL = DefaultDevServerURL
	}
	if c.UI.BuildIndex == "" {
		c.UI.BuildIndex = DefaultBuildIndex
	}

	if c.Status.Addr == "" {
		c.Status.Addr = DefaultStatusAddr
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if !c.Diagnostics.Delay.IsSet() {
		c.Diagnostics.Delay.Duration = DefaultDiagnoseDelay
	}
}
