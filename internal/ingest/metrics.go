package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ingestd",
		Subsystem: "ingest",
		Name:      "documents_total",
		Help:      "Ingest jobs by final status.",
	}, []string{"status"})

	chunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ingestd",
		Subsystem: "ingest",
		Name:      "chunks_total",
		Help:      "Chunk vectors upserted by ingest jobs.",
	})

	redactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ingestd",
		Subsystem: "ingest",
		Name:      "redactions_total",
		Help:      "Secrets removed from document text before embedding.",
	})
)
