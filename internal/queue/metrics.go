package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	depthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarm",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Jobs currently waiting for a worker.",
	})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarm",
		Subsystem: "queue",
		Name:      "jobs_total",
		Help:      "Job completions by result.",
	}, []string{"result"})
)
