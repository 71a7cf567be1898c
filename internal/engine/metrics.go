package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarm",
		Subsystem: "engine",
		Name:      "runs_total",
		Help:      "Consensus runs by algorithm and result.",
	}, []string{"algorithm", "result"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "swarm",
		Subsystem: "engine",
		Name:      "run_duration_seconds",
		Help:      "Wall time of consensus runs.",
		Buckets:   prometheus.DefBuckets,
	})

	semanticFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "swarm",
		Subsystem: "engine",
		Name:      "semantic_fallbacks_total",
		Help:      "Runs that degraded to the lexical similarity fallback.",
	})
)
