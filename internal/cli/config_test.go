package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tether.yaml")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigLintSuccess(t *testing.T) {
	path := writeConfig(t,
		"mode: packaged",
		"backend:",
		"  port: 8000",
		"  executable: backend",
		"health:",
		"  maxAttempts: 30",
		"  interval: 500ms",
	)
	stdout, stderr, err := execute(t, "config", "lint", path)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	want := fmt.Sprintf("%s: OK\n", path)
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
	if stderr != "" {
		t.Fatalf("unexpected stderr output: %q", stderr)
	}
}

func TestConfigLintUsesConfigFlag(t *testing.T) {
	path := writeConfig(t, "mode: development")
	stdout, _, err := execute(t, "config", "lint", "-c", path)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if stdout != path+": OK\n" {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
}

func TestConfigLintSchemaViolation(t *testing.T) {
	path := writeConfig(t,
		"mode: staging",
		"backend:",
		"  port: 8000",
	)
	stdout, stderr, err := execute(t, "config", "lint", path)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if stdout != "" {
		t.Fatalf("expected empty stdout, got %q", stdout)
	}
	if !strings.Contains(stderr, "schema validation failed") {
		t.Fatalf("stderr does not mention schema failure: %q", stderr)
	}
	if !strings.Contains(stderr, "mode") {
		t.Fatalf("stderr does not mention mode path: %q", stderr)
	}
}

func TestConfigLintUnknownField(t *testing.T) {
	path := writeConfig(t,
		"backend:",
		"  portt: 8000",
	)
	_, stderr, err := execute(t, "config", "lint", path)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(stderr, path) {
		t.Fatalf("stderr does not name the file: %q", stderr)
	}
}

func TestConfigLintMissingFile(t *testing.T) {
	_, stderr, err := execute(t, "config", "lint", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(stderr, "open config file") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}
