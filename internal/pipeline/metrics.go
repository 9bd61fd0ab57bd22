package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingestd",
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Documents processed by final step and chunk strategy",
		},
		[]string{"step", "strategy"},
	)

	chunksPerDocument = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ingestd",
			Subsystem: "pipeline",
			Name:      "chunks_per_document",
			Help:      "Chunks produced per document",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ingestd",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of a full pipeline run",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
