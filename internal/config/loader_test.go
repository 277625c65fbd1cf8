package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "tether.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ModePackaged, cfg.Mode)
	require.Equal(t, DefaultPort, cfg.Backend.Port)
	require.Equal(t, "http://127.0.0.1:8000", cfg.BackendURL())
	require.Equal(t, "http://127.0.0.1:8000/", cfg.ReadinessURL())
	require.Equal(t, 60, cfg.Health.MaxAttempts)
	require.Equal(t, time.Second, cfg.Health.Interval.Duration)
	require.Equal(t, DefaultReadinessMarker, cfg.Health.Marker)
	require.Equal(t, []string{"backend.exe", "python.exe"}, cfg.Shutdown.FallbackImages)
	require.False(t, cfg.Shutdown.BroadFallback)
}

func TestLoadResolvesPathsAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TETHER_TEST_TOKEN", "secret")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backend.env"), []byte(strings.Join([]string{
		"# comment",
		"export FROM_FILE=1",
		`QUOTED="a b"`,
		"SHARED=file",
	}, "\n")), 0o644))

	path := writeConfig(t, dir, `
mode: development
backend:
  port: 9100
  envFromFile: backend.env
  env:
    TOKEN: ${TETHER_TEST_TOKEN}
    SHARED: inline
  dev:
    interpreter: python3
    workdir: src/backend
health:
  maxAttempts: 5
  interval: 250ms
ui:
  buildIndex: dist/index.html
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ModeDevelopment, cfg.Mode)
	require.Equal(t, 9100, cfg.Backend.Port)
	require.Equal(t, filepath.Join(dir, "src", "backend"), cfg.Backend.Dev.Workdir)
	require.Equal(t, filepath.Join(dir, "dist", "index.html"), cfg.UI.BuildIndex)
	require.Equal(t, "python3", cfg.Backend.Dev.Interpreter)
	require.Equal(t, "main.py", cfg.Backend.Dev.Script)
	require.Equal(t, 250*time.Millisecond, cfg.Health.Interval.Duration)
	require.Equal(t, map[string]string{
		"TOKEN":     "secret",
		"FROM_FILE": "1",
		"QUOTED":    "a b",
		"SHARED":    "inline",
	}, cfg.Backend.Env)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
backend:
  prot: 8000
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "schema validation failed")
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
health:
  interval: soon
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "health.interval")
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, Default().Backend, cfg.Backend)
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Mode = "kiosk"
	cfg.Backend.Port = 70000
	cfg.Backend.Executable = "bin/backend"
	cfg.Health.Timeout.Duration = 0
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"mode", "backend.port", "backend.executable", "health.timeout", "logging.format"} {
		require.Contains(t, err.Error(), want)
	}
}

func TestValidateSkipsDisabledStatus(t *testing.T) {
	cfg := Default()
	cfg.Status.Addr = "not an address"
	require.Error(t, cfg.Validate())

	cfg.Status.Disabled = true
	require.NoError(t, cfg.Validate())
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Default()
	cfg.Backend.Env = map[string]string{"A": "1"}
	dup := cfg.Clone()
	dup.Backend.Env["A"] = "2"
	dup.Backend.ResourceDirs[0] = "elsewhere"

	require.Equal(t, "1", cfg.Backend.Env["A"])
	require.Equal(t, "resources", cfg.Backend.ResourceDirs[0])
}

func TestSchemaErrorsNameFields(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
mode: staging
backend:
  resourceDirs: [1]
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "- mode:")
	require.Contains(t, err.Error(), "- backend.resourceDirs[0]:")
}

func TestFieldPath(t *testing.T) {
	require.Equal(t, "config", fieldPath(""))
	require.Equal(t, "config", fieldPath("/"))
	require.Equal(t, "health.interval", fieldPath("/health/interval"))
	require.Equal(t, "backend.args[2]", fieldPath("/backend/args/2"))
	require.Equal(t, "backend.env.a/b", fieldPath("/backend/env/a~1b"))
}
