package config

import (
	"fmt"
	"time"
)

// Mode selects how the backend is spawned and where the frontend is loaded from.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModePackaged    Mode = "packaged"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Config mirrors the tether.yaml document.
type Config struct {
	Mode        Mode        `yaml:"mode"`
	Backend     Backend     `yaml:"backend"`
	Health      Health      `yaml:"health"`
	Shutdown    Shutdown    `yaml:"shutdown"`
	UI          UI          `yaml:"ui"`
	Status      Status      `yaml:"status"`
	Logging     Logging     `yaml:"logging"`
	Diagnostics Diagnostics `yaml:"diagnostics"`
}

// Backend describes the managed backend server.
type Backend struct {
	Host         string            `yaml:"host"`
	Port         int               `yaml:"port"`
	Executable   string            `yaml:"executable"`
	ResourceDirs []string          `yaml:"resourceDirs"`
	Args         []string          `yaml:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	EnvFromFile  string            `yaml:"envFromFile,omitempty"`
	Dev          DevBackend        `yaml:"dev"`
}

// DevBackend describes the interpreter launch used in development mode.
type DevBackend struct {
	Interpreter string   `yaml:"interpreter"`
	Script      string   `yaml:"script"`
	Args        []string `yaml:"args,omitempty"`
	Workdir     string   `yaml:"workdir"`
}

// Health configures the readiness probe.
type Health struct {
	Path        string   `yaml:"path"`
	Marker      string   `yaml:"marker"`
	MaxAttempts int      `yaml:"maxAttempts"`
	Interval    Duration `yaml:"interval"`
	Timeout     Duration `yaml:"timeout"`
}

// Shutdown configures the termination escalation ladder.
type Shutdown struct {
	GracePeriod     Duration `yaml:"gracePeriod"`
	KillTimeout     Duration `yaml:"killTimeout"`
	BroadFallback   bool     `yaml:"broadFallback"`
	FallbackImages  []string `yaml:"fallbackImages"`
	FallbackPattern string   `yaml:"fallbackPattern"`
}

// UI configures the presentation surfaces.
type UI struct {
	DevServerURL string `yaml:"devServerURL"`
	BuildIndex   string `yaml:"buildIndex"`
	Headless     bool   `yaml:"headless"`
}

// Status configures the local status API.
type Status struct {
	Addr     string `yaml:"addr"`
	Disabled bool   `yaml:"disabled"`
}

// Logging configures the shell's own structured logs.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir,omitempty"`
}

// Diagnostics configures the post-shutdown port ownership check.
type Diagnostics struct {
	PortCheck bool     `yaml:"portCheck"`
	Delay     Duration `yaml:"delay"`
}

// BackendURL returns the base URL the presentation layer talks to.
func (c *Config) BackendURL() string {
	return fmt.Sprintf("http://%s:%d", c.Backend.Host, c.Backend.Port)
}

// ReadinessURL returns the URL polled by the readiness probe.
func (c *Config) ReadinessURL() string {
	path := c.Health.Path
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	return c.BackendURL() + path
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Backend.ResourceDirs = append([]string(nil), c.Backend.ResourceDirs...)
	dup.Backend.Args = append([]string(nil), c.Backend.Args...)
	dup.Backend.Dev.Args = append([]string(nil), c.Backend.Dev.Args...)
	if c.Backend.Env != nil {
		dup.Backend.Env = make(map[string]string, len(c.Backend.Env))
		for k, v := range c.Backend.Env {
			dup.Backend.Env[k] = v
		}
	}
	dup.Shutdown.FallbackImages = append([]string(nil), c.Shutdown.FallbackImages...)
	return &dup
}
