package aggregate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resultsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docextract_results_total",
			Help: "File results ingested, by status and error type",
		},
		[]string{"status", "error_type"},
	)

	anomaliesReported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docextract_protocol_anomalies_total",
			Help: "Protocol inconsistencies reported by the aggregator, by kind",
		},
		[]string{"kind"},
	)
)
