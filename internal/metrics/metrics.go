package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "respawn"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process spawns.",
		}, []string{"name"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of policy driven restarts.",
		}, []string{"name"},
	)
	processCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "crashes_total",
			Help:      "Number of unexpected exits.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of requested stops, labelled by whether SIGKILL was needed.",
		}, []string{"name", "forced"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "launch_failures_total",
			Help:      "Number of spawns refused by the OS.",
		}, []string{"name", "reason"},
	)
	policyExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "restarts_exhausted_total",
			Help:      "Number of times the restart budget ran out.",
		}, []string{"name"},
	)
	runUptime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "run_uptime_seconds",
			Help:      "Uptime of each run at exit.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800, 3600, 86400},
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between different process states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "current_state",
			Help:      "Current state of processes (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage of the running process.",
		}, []string{"name"},
	)
	memoryRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "memory_rss_bytes",
			Help:      "Last sampled resident memory of the running process.",
		}, []string{"name"},
	)
	logWriteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "write_errors_total",
			Help:      "Number of failed log appends.",
		}, []string{"name", "stream", "reason"},
	)
	historyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "send_errors_total",
			Help:      "Number of lifecycle events a history sink rejected.",
		}, []string{"sink"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		processStarts, processRestarts, processCrashes, processStops, launchFailures,
		policyExhausted, runUptime, stateTransitions, currentStates, cpuPercent,
		memoryRSS, logWriteErrors, historyErrors,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			// already registered collectors are kept
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has succeeded.

func IncStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(name).Inc()
	}
}

func IncCrash(name string) {
	if regOK.Load() {
		processCrashes.WithLabelValues(name).Inc()
	}
}

func IncStop(name string, forced bool) {
	if regOK.Load() {
		f := "false"
		if forced {
			f = "true"
		}
		processStops.WithLabelValues(name, f).Inc()
	}
}

func IncLaunchFailure(name, reason string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(name, reason).Inc()
	}
}

func IncExhausted(name string) {
	if regOK.Load() {
		policyExhausted.WithLabelValues(name).Inc()
	}
}

func ObserveUptime(name string, seconds float64) {
	if regOK.Load() {
		runUptime.WithLabelValues(name).Observe(seconds)
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}

func SetUsage(name string, cpu float64, rss uint64) {
	if regOK.Load() {
		cpuPercent.WithLabelValues(name).Set(cpu)
		memoryRSS.WithLabelValues(name).Set(float64(rss))
	}
}

func IncLogWriteError(name, stream, reason string) {
	if regOK.Load() {
		logWriteErrors.WithLabelValues(name, stream, reason).Inc()
	}
}

func IncHistoryError(sink string) {
	if regOK.Load() {
		historyErrors.WithLabelValues(sink).Inc()
	}
}
