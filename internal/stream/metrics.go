package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	dropMalformed   = "malformed"
	dropUnknownType = "unknown_type"
)

var (
	eventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docextract_stream_events_total",
			Help: "Protocol events decoded from extraction streams, by type",
		},
		[]string{"type"},
	)

	framesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docextract_stream_frames_dropped_total",
			Help: "Frames dropped by the decoder, by reason",
		},
		[]string{"reason"},
	)

	transportFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docextract_stream_transport_failures_total",
			Help: "Extraction streams that ended with a transport failure",
		},
	)

	requestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docextract_stream_request_seconds",
			Help:    "Time until the extraction backend answered a request",
			Buckets: prometheus.DefBuckets,
		},
	)
)
