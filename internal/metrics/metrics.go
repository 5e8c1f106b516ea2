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

	eventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slamon",
			Subsystem: "shipper",
			Name:      "delivered_total",
			Help:      "Number of events acknowledged by the remote ingestion service.",
		}, []string{"kind"},
	)
	eventsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slamon",
			Subsystem: "shipper",
			Name:      "queued_total",
			Help:      "Number of events diverted to the local backlog.",
		}, []string{"reason"},
	)
	sendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "slamon",
			Subsystem: "shipper",
			Name:      "send_attempt_duration_seconds",
			Help:      "Observed duration of individual remote delivery attempts.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "slamon",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Current breaker state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slamon",
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Number of circuit breaker state transitions.",
		}, []string{"from", "to"},
	)
	resyncSynced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slamon",
			Subsystem: "resync",
			Name:      "synced_total",
			Help:      "Number of backlog records delivered during reconciliation.",
		},
	)
	resyncFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slamon",
			Subsystem: "resync",
			Name:      "failures_total",
			Help:      "Number of reconciliation cycles stopped by a delivery failure.",
		},
	)
	backlogUnsynced = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "slamon",
			Subsystem: "backlog",
			Name:      "unsynced_records",
			Help:      "Current number of unsynced records in the local backlog.",
		},
	)
	measurements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slamon",
			Subsystem: "collector",
			Name:      "measurements_total",
			Help:      "Number of response-time measurements recorded per channel.",
		}, []string{"channel"},
	)
	slaViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slamon",
			Subsystem: "collector",
			Name:      "sla_violations_total",
			Help:      "Number of measurements exceeding the channel SLA threshold.",
		}, []string{"channel"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		eventsDelivered, eventsQueued, sendDuration,
		breakerState, breakerTransitions,
		resyncSynced, resyncFailures, backlogUnsynced,
		measurements, slaViolations,
	}
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

func IncDelivered(kind string) {
	if regOK.Load() {
		eventsDelivered.WithLabelValues(kind).Inc()
	}
}
func IncQueued(reason string) {
	if regOK.Load() {
		eventsQueued.WithLabelValues(reason).Inc()
	}
}
func ObserveSendDuration(seconds float64) {
	if regOK.Load() {
		sendDuration.Observe(seconds)
	}
}
func IncBreakerTransition(from, to string) {
	if regOK.Load() {
		breakerTransitions.WithLabelValues(from, to).Inc()
	}
}
func IncResyncSynced() {
	if regOK.Load() {
		resyncSynced.Inc()
	}
}
func IncResyncFailure() {
	if regOK.Load() {
		resyncFailures.Inc()
	}
}
func SetBacklogUnsynced(n int) {
	if regOK.Load() {
		backlogUnsynced.Set(float64(n))
	}
}
func IncMeasurement(channel string) {
	if regOK.Load() {
		measurements.WithLabelValues(channel).Inc()
	}
}
func IncSLAViolation(channel string) {
	if regOK.Load() {
		slaViolations.WithLabelValues(channel).Inc()
	}
}

func SetBreakerState(state string, active bool) {
	if regOK.Load() {
		var value float64 = 0
		if active {
			value = 1
		}
		breakerState.WithLabelValues(state).Set(value)
	}
}
