package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a tether configuration file from the provided path. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Dir(absPath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document. Relative paths inside the document
// are resolved against baseDir.
func Parse(data []byte, baseDir string) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if err := cfg.resolve(baseDir); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve(baseDir string) error {
	b := &c.Backend
	if b.Dev.Workdir != "" {
		b.Dev.Workdir = resolveWorkdir(baseDir, os.ExpandEnv(b.Dev.Workdir))
	}
	if c.UI.BuildIndex != "" {
		c.UI.BuildIndex = resolveWorkdir(baseDir, os.ExpandEnv(c.UI.BuildIndex))
	}
	if c.Logging.Dir != "" {
		c.Logging.Dir = resolveWorkdir(baseDir, os.ExpandEnv(c.Logging.Dir))
	}

	var inlineEnv map[string]string
	if len(b.Env) > 0 {
		inlineEnv = make(map[string]string, len(b.Env))
		for k, v := range b.Env {
			inlineEnv[k] = os.ExpandEnv(v)
		}
	}

	var fileEnv map[string]string
	if b.EnvFromFile != "" {
		b.EnvFromFile = resolveWorkdir(baseDir, os.ExpandEnv(b.EnvFromFile))
		var err error
		fileEnv, err = loadEnvFile(b.EnvFromFile)
		if err != nil {
			return fmt.Errorf("backend.envFromFile: %w", err)
		}
	}

	merged := make(map[string]string, len(fileEnv)+len(inlineEnv))
	for k, v := range fileEnv {
		merged[k] = v
	}
	for k, v := range inlineEnv {
		merged[k] = v
	}
	if len(merged) > 0 {
		b.Env = merged
	} else {
		b.Env = nil
	}
	return nil
}

func resolveWorkdir(base, workdir string) string {
	if workdir == "" {
		return base
	}
	if filepath.IsAbs(workdir) {
		return filepath.Clean(workdir)
	}
	return filepath.Clean(filepath.Join(base, workdir))
}

func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	values := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "export "))
		sep := strings.IndexRune(raw, '=')
		if sep <= 0 {
			return nil, fmt.Errorf("load env file %q: invalid line %d", path, lineNo)
		}
		key := strings.TrimSpace(raw[:sep])
		value := strings.TrimSpace(raw[sep+1:])
		switch {
		case strings.HasPrefix(value, "\""):
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("load env file %q: parse value for %s on line %d: %w", path, key, lineNo, err)
			}
			value = unquoted
		case strings.HasPrefix(value, "'"):
			if len(value) < 2 || value[len(value)-1] != '\'' {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			value = value[1 : len(value)-1]
		default:
			if comment := strings.IndexRune(value, '#'); comment >= 0 {
				value = strings.TrimSpace(value[:comment])
			}
		}
		values[key] = os.ExpandEnv(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}
