// Package diag reports which process is listening on the backend port after
// shutdown. It is informational only and never fails.
package diag

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Probe looks up the owner of a listening TCP port with the platform's network
// tools.
type Probe struct {
	logger *slog.Logger
	goos   string
	output func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New constructs a Probe that logs through logger.
func New(logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		logger: logger,
		goos:   runtime.GOOS,
		output: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// ReportPortOwner logs every listener on port. Failures are logged at debug
// level and otherwise ignored.
func (p *Probe) ReportPortOwner(ctx context.Context, port int) {
	lines, err := p.listeners(ctx, port)
	if err != nil {
		p.logger.Debug("port ownership check failed", "port", port, "err", err)
		return
	}
	if len(lines) == 0 {
		p.logger.Info("port is free after shutdown", "port", port)
		return
	}
	for _, line := range lines {
		p.logger.Warn("port still in use after shutdown", "port", port, "listener", line)
	}
}

func (p *Probe) listeners(ctx context.Context, port int) ([]string, error) {
	if p.goos == "windows" {
		out, err := p.output(ctx, "netstat", "-ano")
		if err != nil {
			return nil, err
		}
		return parseNetstat(string(out), port), nil
	}
	out, err := p.output(ctx, "lsof", "-nP", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN")
	if err != nil {
		// lsof exits 1 when nothing matches.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(out) == 0 {
			return nil, nil
		}
		return nil, err
	}
	return parseLsof(string(out)), nil
}

// parseNetstat keeps LISTENING rows whose local address ends with :port.
func parseNetstat(out string, port int) []string {
	suffix := ":" + strconv.Itoa(port)
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || !strings.EqualFold(fields[0], "TCP") {
			continue
		}
		if !strings.HasSuffix(fields[1], suffix) || fields[3] != "LISTENING" {
			continue
		}
		lines = append(lines, strings.Join(fields, " "))
	}
	return lines
}

// parseLsof drops the header row.
func parseLsof(out string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "COMMAND") {
			continue
		}
		lines = append(lines, strings.Join(strings.Fields(line), " "))
	}
	return lines
}
