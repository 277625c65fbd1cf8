// Package probe implements the readiness probe that decides when the backend
// is ready to serve the UI.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultMaxAttempts    = 60
	DefaultInterval       = time.Second
	DefaultAttemptTimeout = 2 * time.Second

	// Failed attempts are logged for the first quietAfter attempts and then
	// every logEvery attempts.
	quietAfter = 10
	logEvery   = 10
)

// Result describes a single readiness attempt.
type Result struct {
	Attempt int
	Status  int
	Marker  bool
	Err     error
	Latency time.Duration
}

// Healthy reports whether the attempt satisfied the readiness contract.
func (r Result) Healthy() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300 && r.Marker
}

// Prober executes one readiness attempt.
type Prober interface {
	Probe(ctx context.Context) Result
}

// HealthTimeoutError is returned when the attempt budget is exhausted.
type HealthTimeoutError struct {
	Attempts int
	Last     Result
}

func (e *HealthTimeoutError) Error() string {
	msg := fmt.Sprintf("backend failed to become ready after %d attempts", e.Attempts)
	if e.Last.Err != nil {
		msg += fmt.Sprintf(": %v", e.Last.Err)
	}
	return msg
}

func (e *HealthTimeoutError) Unwrap() error {
	return e.Last.Err
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithInterval sets the delay between attempts.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.interval = d
		}
	}
}

// WithAttemptTimeout bounds each individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.timeout = d
	}
}

// WithLogger sets the logger used for attempt diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObserver registers a callback invoked after every attempt.
func WithObserver(fn func(Result)) Option {
	return func(m *Monitor) {
		m.observe = fn
	}
}

// Monitor polls a Prober until it reports healthy or the budget runs out.
type Monitor struct {
	prober      Prober
	maxAttempts int
	interval    time.Duration
	timeout     time.Duration
	logger      *slog.Logger
	observe     func(Result)
	sleep       func(context.Context, time.Duration) error
}

// NewMonitor constructs a Monitor with the default budget of 60 attempts one
// second apart.
func NewMonitor(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:      prober,
		maxAttempts: DefaultMaxAttempts,
		interval:    DefaultInterval,
		timeout:     DefaultAttemptTimeout,
		logger:      slog.Default(),
		sleep:       sleepWithContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WaitUntilHealthy runs attempts until one is healthy. It returns the healthy
// result, a *HealthTimeoutError after maxAttempts failures, or the context error.
func (m *Monitor) WaitUntilHealthy(ctx context.Context) (Result, error) {
	m.logger.Info("waiting for backend to become ready", "max_attempts", m.maxAttempts, "interval", m.interval)

	var last Result
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if m.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, m.timeout)
		}

		start := time.Now()
		res := m.prober.Probe(attemptCtx)
		cancel()
		res.Attempt = attempt
		res.Latency = time.Since(start)

		if m.observe != nil {
			m.observe(res)
		}
		if res.Healthy() {
			m.logger.Info("backend is ready", "attempts", attempt)
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		last = res
		if shouldLog(attempt) {
			m.logger.Info("backend health check", "attempt", attempt, "max_attempts", m.maxAttempts, "status", res.Status, "err", res.Err)
		}

		if attempt == m.maxAttempts {
			break
		}
		if err := m.sleep(ctx, m.interval); err != nil {
			return last, err
		}
	}
	return last, &HealthTimeoutError{Attempts: m.maxAttempts, Last: last}
}

func shouldLog(attempt int) bool {
	i := attempt - 1
	return i < quietAfter || i%logEvery == 0
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
