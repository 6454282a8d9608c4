// Package metrics exposes process-wide Prometheus collectors for the core.
// Registration happens once in init(); register is guarded by a flag, so a
// repeated call is a no-op.
// Exposition of these collectors over HTTP is left to the external layer
// that embeds the core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PacksAdmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "core_packs_admitted_total",
			Help: "Total number of operation packs admitted to an entity log, by entity kind.",
		},
		[]string{"entity_kind"},
	)

	ValidationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "core_pack_validation_failures_total",
			Help: "Total number of packs rejected by validation, by violated invariant.",
		},
		[]string{"invariant"},
	)

	ConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "core_head_conflicts_total",
			Help: "Total number of conflict resolutions run over more than one existing head.",
		},
	)

	AppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "core_append_duration_seconds",
			Help:    "Time taken to admit a pack into an entity log.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "core_replay_duration_seconds",
			Help:    "Time taken to fold an entity's operation history into a snapshot.",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "core_cache_hits_total",
			Help: "Total number of cache lookups that returned a hit, by namespace.",
		},
		[]string{"namespace"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "core_cache_misses_total",
			Help: "Total number of cache lookups that returned a miss or stale entry, by namespace.",
		},
		[]string{"namespace"},
	)

	LockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "core_lock_wait_duration_seconds",
			Help:    "Time spent blocked in acquire() before a repository lock was obtained.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
)

var registered bool

func init() {
	register()
}

// register is idempotent: repeated calls (for example from a test that
// imports this package more than once in the same binary) never panic.
func register() {
	if registered {
		return
	}
	registered = true
	prometheus.MustRegister(
		PacksAdmittedTotal,
		ValidationFailuresTotal,
		ConflictsTotal,
		AppendDuration,
		ReplayDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		LockWaitDuration,
	)
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer started at the current time.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vector with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
