package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	trainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eko",
		Subsystem: "service",
		Name:      "training_runs_total",
		Help:      "Finished training jobs by result.",
	}, []string{"result"})

	trainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eko",
		Subsystem: "service",
		Name:      "training_duration_seconds",
		Help:      "Wall time of successful model builds.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})

	activeBuilds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eko",
		Subsystem: "service",
		Name:      "active_builds",
		Help:      "Model builds currently running.",
	})

	statementsScored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eko",
		Subsystem: "service",
		Name:      "statements_scored_total",
		Help:      "Statements labeled by loaded models.",
	})

	loadedModels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eko",
		Subsystem: "service",
		Name:      "loaded_models",
		Help:      "Models held in memory, including models being built.",
	})
)
