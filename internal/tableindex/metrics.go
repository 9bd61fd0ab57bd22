package tableindex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tablesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingestd",
			Subsystem: "tableindex",
			Name:      "tables_total",
			Help:      "Tables indexed by result status",
		},
		[]string{"status"},
	)

	rowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ingestd",
			Subsystem: "tableindex",
			Name:      "rows_total",
			Help:      "Rows indexed from successful tables",
		},
	)
)
