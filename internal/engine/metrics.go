package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncInstanceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "accountsync",
		Subsystem: "engine",
		Name:      "instance_syncs_total",
		Help:      "Per-instance sync attempts by dialect and outcome.",
	}, []string{"dialect", "outcome"})

	syncErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "accountsync",
		Subsystem: "engine",
		Name:      "instance_sync_errors_total",
		Help:      "Failed sync attempts by taxonomy kind.",
	}, []string{"dialect", "kind"})

	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "accountsync",
		Subsystem: "engine",
		Name:      "instance_sync_duration_seconds",
		Help:      "End-to-end duration of one instance sync.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"dialect"})

	accountChangeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "accountsync",
		Subsystem: "engine",
		Name:      "account_changes_total",
		Help:      "Applied account deltas by change type.",
	}, []string{"dialect", "change_type"})

	sessionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "accountsync",
		Subsystem: "engine",
		Name:      "sessions_total",
		Help:      "Finished sync sessions by terminal status.",
	}, []string{"sync_type", "status"})
)
