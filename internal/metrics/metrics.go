package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxgate_active_sessions",
		Help: "Number of active client sessions",
	})
)

// Counters
var (
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_sessions_created_total",
		Help: "Total client sessions created",
	})
	SessionsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_sessions_rejected_total",
		Help: "Sessions rejected due to capacity limit",
	})
	AudioChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_audio_chunks_total",
		Help: "Total audio chunks forwarded upstream",
	})
	AudioDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_audio_dropped_total",
		Help: "Total audio chunks dropped before reaching the provider",
	})
	TranscriptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxgate_transcripts_total",
		Help: "Total transcript envelopes delivered by finality",
	}, []string{"finality"})
	UpstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxgate_upstream_errors_total",
		Help: "Total upstream provider errors by category",
	}, []string{"category"})
	EnvelopeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_envelope_errors_total",
		Help: "Total malformed client frames rejected",
	})
)

// Histograms
var (
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxgate_session_duration_seconds",
		Help:    "Client session lifetime in seconds",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})
)
