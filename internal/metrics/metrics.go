package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "themerig",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of services that reached healthy after a launch.",
		}, []string{"service"},
	)
	serviceStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "themerig",
			Subsystem: "service",
			Name:      "start_failures_total",
			Help:      "Number of failed starts by reason (launch, health_timeout, cancelled).",
		}, []string{"service", "reason"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "themerig",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stops, split by whether SIGKILL was needed.",
		}, []string{"service", "forced"},
	)
	serviceStartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "themerig",
			Subsystem: "service",
			Name:      "start_duration_seconds",
			Help:      "Time from launch until the service answered its health URL.",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 90, 120, 180},
		}, []string{"service"},
	)
	serviceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "themerig",
			Subsystem: "service",
			Name:      "state",
			Help:      "Current supervisor state per service (1 = active state, 0 = inactive).",
		}, []string{"service", "state"},
	)

	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "themerig",
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Health probes by outcome.",
		}, []string{"service", "outcome"},
	)
	healthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "themerig",
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Latency of a single health probe.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"},
	)

	captures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "themerig",
			Subsystem: "capture",
			Name:      "runs_total",
			Help:      "Screenshot capture runs by outcome (success, partial, failed, not_ready).",
		}, []string{"outcome"},
	)
	captureArtifacts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "themerig",
			Subsystem: "capture",
			Name:      "artifacts",
			Help:      "Artifacts produced per capture run.",
			Buckets:   []float64{0, 1, 2, 3, 4},
		},
	)
	environmentRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "themerig",
			Subsystem: "environment",
			Name:      "requests_total",
			Help:      "create_environment calls by result (running, starting, invalid, error).",
		}, []string{"result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, serviceStartFailures, serviceStops, serviceStartDuration, serviceState,
		healthChecks, healthCheckDuration, captures, captureArtifacts, environmentRequests,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

func IncStart(service string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(service).Inc()
	}
}

func IncStartFailure(service, reason string) {
	if regOK.Load() {
		serviceStartFailures.WithLabelValues(service, reason).Inc()
	}
}

func IncStop(service string, forced bool) {
	if regOK.Load() {
		serviceStops.WithLabelValues(service, strconv.FormatBool(forced)).Inc()
	}
}

func ObserveStartDuration(service string, seconds float64) {
	if regOK.Load() {
		serviceStartDuration.WithLabelValues(service).Observe(seconds)
	}
}

// SetState marks state as the only active state for service.
func SetState(service, state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		serviceState.WithLabelValues(service, s).Set(v)
	}
}

func ObserveHealthCheck(service string, healthy bool, seconds float64) {
	if !regOK.Load() {
		return
	}
	outcome := "unhealthy"
	if healthy {
		outcome = "healthy"
	}
	healthChecks.WithLabelValues(service, outcome).Inc()
	healthCheckDuration.WithLabelValues(service).Observe(seconds)
}

func ObserveCapture(outcome string, artifacts int) {
	if regOK.Load() {
		captures.WithLabelValues(outcome).Inc()
		captureArtifacts.Observe(float64(artifacts))
	}
}

func IncEnvironmentRequest(result string) {
	if regOK.Load() {
		environmentRequests.WithLabelValues(result).Inc()
	}
}
