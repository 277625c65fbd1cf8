package cli

import (
	"log/slog"

	"github.com/Paintersrp/tether/internal/config"
	"github.com/Paintersrp/tether/internal/diag"
	"github.com/Paintersrp/tether/internal/launcher"
	"github.com/Paintersrp/tether/internal/metrics"
	"github.com/Paintersrp/tether/internal/probe"
	"github.com/Paintersrp/tether/internal/supervisor"
	"github.com/Paintersrp/tether/internal/terminate"
)

func newMonitor(cfg *config.Config, logger *slog.Logger) *probe.Monitor {
	prober := probe.NewHTTPProber(cfg.ReadinessURL(), cfg.Health.Marker)
	return probe.NewMonitor(prober,
		probe.WithMaxAttempts(cfg.Health.MaxAttempts),
		probe.WithInterval(cfg.Health.Interval.Duration),
		probe.WithAttemptTimeout(cfg.Health.Timeout.Duration),
		probe.WithLogger(logger.With("component", "probe")),
		probe.WithObserver(func(res probe.Result) {
			metrics.ObserveHealthAttempt(res.Healthy(), res.Latency)
		}),
	)
}

func newTerminator(cfg *config.Config, logger *slog.Logger) terminate.Terminator {
	return terminate.New(terminate.Options{
		GracePeriod: cfg.Shutdown.GracePeriod.Duration,
		KillTimeout: cfg.Shutdown.KillTimeout.Duration,
		Broad:       cfg.Shutdown.BroadFallback,
		ImageNames:  cfg.Shutdown.FallbackImages,
		Pattern:     cfg.Shutdown.FallbackPattern,
		Logger:      logger.With("component", "terminate"),
	})
}

func newSupervisor(cfg *config.Config, logger *slog.Logger, sink func(supervisor.Event)) *supervisor.Supervisor {
	l := launcher.New(cfg, launcher.WithLogger(logger.With("component", "launcher")))
	opts := []supervisor.Option{
		supervisor.WithLogger(logger.With("component", "supervisor")),
		supervisor.WithEventSink(sink),
	}
	if cfg.Diagnostics.PortCheck {
		opts = append(opts, supervisor.WithDiagnostics(
			diag.New(logger.With("component", "diag")),
			cfg.Backend.Port,
			cfg.Diagnostics.Delay.Duration,
		))
	}
	return supervisor.New(l, newMonitor(cfg, logger), newTerminator(cfg, logger), opts...)
}
