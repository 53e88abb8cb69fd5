// Package metrics holds the prometheus collectors of the recorder service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recorder_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recorder_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// Session metrics
var (
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_session_transitions_total",
			Help: "Total number of recording session state transitions",
		},
		[]string{"state"},
	)

	SessionElapsedSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recorder_session_elapsed_seconds",
			Help: "Elapsed recording time of the current session, pauses excluded",
		},
	)

	SessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recorder_session_active",
			Help: "1 while a session is recording or paused",
		},
	)

	CaptureRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_capture_requests_total",
			Help: "Total number of capture acquisitions by result",
		},
		[]string{"status"},
	)

	CompositorFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_compositor_fallbacks_total",
			Help: "Total number of sessions recorded from the raw screen stream because compositing failed",
		},
	)

	CompositorFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_compositor_frames_total",
			Help: "Total number of frames drawn by the compositor",
		},
	)

	RecorderChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_chunks_total",
			Help: "Total number of encoded chunks received",
		},
	)

	ArtifactSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recorder_artifact_size_bytes",
			Help:    "Size of finalized recording artifacts",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 10),
		},
	)

	FinalizationErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_finalization_errors_total",
			Help: "Total number of recordings whose finalization failed",
		},
	)
)

// Credit metrics
var (
	CreditsBalance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recorder_credits_balance",
			Help: "Current credit balance",
		},
	)

	CreditsSpentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_credits_spent_total",
			Help: "Total credits spent",
		},
	)

	CreditsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_credits_rejected_total",
			Help: "Total number of spend attempts rejected for insufficient balance",
		},
	)
)

// Tutorial, upload and article metrics
var (
	TutorialsSavedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recorder_tutorials_saved_total",
			Help: "Total number of tutorials saved",
		},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_artifact_uploads_total",
			Help: "Total number of artifact uploads by result",
		},
		[]string{"status"},
	)

	TranscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_transcriptions_total",
			Help: "Total number of transcription requests by result",
		},
		[]string{"status"},
	)
)
