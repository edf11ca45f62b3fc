package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scribe_sessions_active",
		Help: "Voice sessions currently being transcribed",
	})

	UtterancesLogged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_utterances_logged_total",
		Help: "Finalized utterances appended to the speech log",
	})

	UtterancesIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_utterances_ignored_total",
		Help: "Interim or blank transcription events that were not logged",
	})

	LogWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_log_write_errors_total",
		Help: "Failed appends to speech or transcript files",
	})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_deliveries_total",
		Help: "Transcript delivery attempts by outcome",
	}, []string{"outcome"})

	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribe_delivery_duration_seconds",
		Help:    "Latency of the backend transcript POST",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	})

	TranscriptRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_transcript_requests_total",
		Help: "Transcript query requests by response status",
	}, []string{"status"})
)
