package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rackpatch_writes_total",
		Help: "Status changes by result (committed, stale, failed)",
	}, []string{"result"})

	writeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rackpatch_write_duration_seconds",
		Help:    "Status change duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	}, []string{"result"})

	writeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rackpatch_write_failures_total",
		Help: "Failed status changes by stage",
	}, []string{"stage"})

	cascadeHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rackpatch_cascade_hits_total",
		Help: "Run identities resolved, by strategy",
	}, []string{"strategy"})

	bootstrapRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rackpatch_bootstrap_rows_total",
		Help: "Backend rows seen during bootstrap and sync, by outcome",
	}, []string{"outcome"})

	bootstrapDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rackpatch_bootstrap_duration_seconds",
		Help:    "Bootstrap and sync duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	})

	progressKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rackpatch_progress_keys",
		Help: "Keys held by the progress store after the last bootstrap or sync",
	})

	indexKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rackpatch_run_index_keys",
		Help: "Keys held by the run index after the last bootstrap or sync",
	})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rackpatch_events_dropped_total",
		Help: "Change events dropped because a subscriber was not keeping up",
	})
)
