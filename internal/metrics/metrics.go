// Package metrics holds the prometheus collectors shared by the transition engine,
// the hardware writer and the lock coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordclock_scheduler_ticks_total",
		Help: "count of animation scheduler ticks",
	})

	SchedulerOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordclock_scheduler_overruns_total",
		Help: "count of ticks that took longer than the tick interval",
	})

	SchedulerSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordclock_scheduler_skipped_ticks_total",
		Help: "count of ticks cut short because the slot table was contended",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wordclock_scheduler_tick_seconds",
		Help:    "time spent advancing all active slots in one tick",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	ActiveSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wordclock_transition_active_slots",
		Help: "number of in-flight transitions",
	})

	// Transitions counts cells per allocation outcome: animated, retargeted or instant.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wordclock_transitions_total",
		Help: "cells handled by the allocator, by outcome",
	}, []string{"outcome"})

	LockTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wordclock_lock_timeouts_total",
		Help: "bounded lock acquisitions that timed out, by lock level",
	}, []string{"level"})

	// HardwareWrites counts writer outcomes: ok, unchanged, stale, retry, failed.
	HardwareWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wordclock_hardware_writes_total",
		Help: "per-cell hardware write requests, by outcome",
	}, []string{"result"})
)
