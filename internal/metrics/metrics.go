package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processSpawns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "condamcp",
			Subsystem: "process",
			Name:      "spawns_total",
			Help:      "Number of successful process spawns.",
		},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "condamcp",
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of reaped process exits by terminal state.",
		}, []string{"state"},
	)
	processTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "condamcp",
			Subsystem: "process",
			Name:      "timeouts_total",
			Help:      "Number of invocations reclaimed after exceeding their deadline.",
		},
	)
	processKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "condamcp",
			Subsystem: "process",
			Name:      "kills_total",
			Help:      "Number of explicit kill requests by outcome.",
		}, []string{"outcome"},
	)
	outputBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "condamcp",
			Subsystem: "process",
			Name:      "output_bytes_total",
			Help:      "Bytes drained from child stdout/stderr streams.",
		}, []string{"stream"},
	)
	runningProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "condamcp",
			Subsystem: "process",
			Name:      "running",
			Help:      "Processes spawned and not yet reaped.",
		},
	)
	invocationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "condamcp",
			Subsystem: "process",
			Name:      "invocation_duration_seconds",
			Help:      "Wall-clock time from spawn to reap.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processSpawns, processExits, processTimeouts, processKills, outputBytes, runningProcesses, invocationDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn() {
	if regOK.Load() {
		processSpawns.Inc()
		runningProcesses.Inc()
	}
}

func IncExit(state string, seconds float64) {
	if regOK.Load() {
		processExits.WithLabelValues(state).Inc()
		runningProcesses.Dec()
		invocationDuration.Observe(seconds)
	}
}

func IncTimeout() {
	if regOK.Load() {
		processTimeouts.Inc()
	}
}

func IncKill(outcome string) {
	if regOK.Load() {
		processKills.WithLabelValues(outcome).Inc()
	}
}

func AddOutputBytes(stream string, n int) {
	if regOK.Load() {
		outputBytes.WithLabelValues(stream).Add(float64(n))
	}
}
