package metrics

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	backendReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tether",
		Name:      "backend_ready",
		Help:      "Readiness state of the managed backend (1=ready, 0=not ready).",
	})

	healthAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tether",
		Name:      "health_attempts_total",
		Help:      "Readiness probe attempts by result.",
	}, []string{"result"})

	probeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tether",
		Name:      "probe_latency_seconds",
		Help:      "Latency of readiness probe executions in seconds.",
	})

	shutdownRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tether",
		Name:      "shutdown_requests_total",
		Help:      "Shutdown requests by trigger and whether they started the shutdown sequence.",
	}, []string{"trigger", "accepted"})

	terminationStages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tether",
		Name:      "termination_stage_total",
		Help:      "Termination ladder stages executed, by stage and result.",
	}, []string{"stage", "result"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tether",
		Name:      "build_info",
		Help:      "Build metadata for the running tether binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(backendReady, healthAttempts, probeLatency, shutdownRequests, terminationStages, buildInfo)
}

// Registry returns the Prometheus registry containing all tether metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetBackendReady records the readiness state of the backend.
func SetBackendReady(ready bool) {
	value := 0.0
	if ready {
		value = 1.0
	}
	backendReady.Set(value)
}

// ObserveHealthAttempt records one readiness attempt and its latency.
func ObserveHealthAttempt(healthy bool, d time.Duration) {
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	healthAttempts.WithLabelValues(result).Inc()
	probeLatency.Observe(d.Seconds())
}

// RecordShutdownRequest counts a shutdown trigger. accepted is true only for the
// request that started the shutdown sequence.
func RecordShutdownRequest(trigger string, accepted bool) {
	if trigger == "" {
		trigger = "unknown"
	}
	shutdownRequests.WithLabelValues(trigger, strconv.FormatBool(accepted)).Inc()
}

// RecordTerminationStage counts one executed rung of the termination ladder.
func RecordTerminationStage(stage string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	terminationStages.WithLabelValues(stage, result).Inc()
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
