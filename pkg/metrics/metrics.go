// Package metrics exposes Prometheus collectors for mount, reconcile and API
// operations. The status API serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MountAttempts counts mount attempts per container, including retries.
	MountAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haio",
		Subsystem: "mount",
		Name:      "attempts_total",
		Help:      "Mount attempts per container, including retries.",
	}, []string{"container"})

	// MountFailures counts failed mount operations by error kind.
	MountFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haio",
		Subsystem: "mount",
		Name:      "failures_total",
		Help:      "Failed mount operations by error kind.",
	}, []string{"container", "kind"})

	// Unmounts counts unmount operations by the mode that finally succeeded.
	Unmounts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haio",
		Subsystem: "mount",
		Name:      "unmounts_total",
		Help:      "Unmount operations by the mode that detached the mount.",
	}, []string{"mode"})

	// DegradedTransitions counts health-probe MOUNTED to DEGRADED transitions.
	DegradedTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "haio",
		Subsystem: "mount",
		Name:      "degraded_total",
		Help:      "Health-probe transitions from MOUNTED to DEGRADED.",
	})

	// ReconcileTicks counts reconciliation ticks by outcome.
	ReconcileTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haio",
		Subsystem: "reconcile",
		Name:      "ticks_total",
		Help:      "Reconciliation ticks by outcome (ok, skipped, error).",
	}, []string{"outcome"})

	// ReconcileDuration observes how long a reconciliation tick takes.
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "haio",
		Subsystem: "reconcile",
		Name:      "duration_seconds",
		Help:      "Duration of a reconciliation tick.",
		Buckets:   prometheus.DefBuckets,
	})

	// APIRequestDuration observes object-store request latency per operation.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "haio",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "Object-store request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)
