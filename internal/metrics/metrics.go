package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamgate"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process starts.",
		}, []string{"name"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of crash restarts.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of requested stops.",
		}, []string{"name"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of observed process exits by kind (requested, clean, crash).",
		}, []string{"name", "kind"},
	)
	processSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "spawn_failures_total",
			Help:      "Number of failed spawn attempts.",
		}, []string{"name"},
	)

	intakeFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "frames_total",
			Help:      "Intake frames by outcome (accepted, unhandled, dropped).",
		}, []string{"result"},
	)

	pathTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "path",
			Name:      "state_transitions_total",
			Help:      "Number of demand state transitions per path.",
		}, []string{"path", "from", "to"},
	)
	pathStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "path",
			Name:      "current_state",
			Help:      "Current demand state of paths (1 = active state, 0 = inactive).",
		}, []string{"path", "state"},
	)
	pathErrored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "path",
			Name:      "errored_total",
			Help:      "Number of times a path gave up after spawn failure or crash loop.",
		}, []string{"path"},
	)

	publishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "failures_total",
			Help:      "Lifecycle messages a transport failed to deliver.",
		}, []string{"transport"},
	)
	publishDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "dropped_total",
			Help:      "Lifecycle messages dropped because the outbox was full.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processRestarts, processStops, processExits, processSpawnFailures,
		intakeFrames, pathTransitions, pathStates, pathErrored, publishFailures, publishDropped,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registerer: keep the existing one
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

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

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

func IncStop(name string) {
	if regOK.Load() {
		processStops.WithLabelValues(name).Inc()
	}
}

func IncExit(name, kind string) {
	if regOK.Load() {
		processExits.WithLabelValues(name, kind).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		processSpawnFailures.WithLabelValues(name).Inc()
	}
}

func IncIntakeFrame(result string) {
	if regOK.Load() {
		intakeFrames.WithLabelValues(result).Inc()
	}
}

// RecordPathTransition counts a transition and flips the state gauge.
func RecordPathTransition(path, from, to string) {
	if !regOK.Load() || from == to {
		return
	}
	pathTransitions.WithLabelValues(path, from, to).Inc()
	if from != "" {
		pathStates.WithLabelValues(path, from).Set(0)
	}
	pathStates.WithLabelValues(path, to).Set(1)
}

// ForgetPath drops the state gauges of a path that is no longer tracked.
func ForgetPath(path string) {
	if regOK.Load() {
		pathStates.DeletePartialMatch(prometheus.Labels{"path": path})
	}
}

func IncPathErrored(path string) {
	if regOK.Load() {
		pathErrored.WithLabelValues(path).Inc()
	}
}

func IncPublishFailure(transport string) {
	if regOK.Load() {
		publishFailures.WithLabelValues(transport).Inc()
	}
}

func IncPublishDropped() {
	if regOK.Load() {
		publishDropped.Inc()
	}
}
