package ngram

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	linesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eko",
		Subsystem: "model",
		Name:      "lines_ingested_total",
		Help:      "Dataset lines processed by model builds, by build stage.",
	}, []string{"stage"})

	sequencePrunes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eko",
		Subsystem: "model",
		Name:      "sequence_prunes_total",
		Help:      "Sequence trie prunes run during model builds.",
	})
)
