package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tylex_store_operation_seconds",
		Help:    "Time spent executing a snippet store operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tylex_store_errors_total",
		Help: "Total number of failed snippet store operations.",
	}, []string{"operation", "reason"})

	SnippetExpansionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tylex_snippet_expansions_total",
		Help: "Total number of snippets fetched for use.",
	})

	SnippetMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tylex_snippet_misses_total",
		Help: "Total number of fetch-for-use calls on unknown abbreviations.",
	})

	SchemaVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tylex_schema_version",
		Help: "Schema version of the open snippet store.",
	})

	BridgeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tylex_bridge_event_subscribers",
		Help: "Current number of frontend event stream subscribers.",
	})
)
