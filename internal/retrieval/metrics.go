package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ingestd",
		Subsystem: "retrieval",
		Name:      "queries_total",
		Help:      "Successful retrieval calls by operation.",
	}, []string{"operation"})

	namespaceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ingestd",
		Subsystem: "retrieval",
		Name:      "namespace_failures_total",
		Help:      "Namespaces that failed during scatter-gather retrieval.",
	})
)
