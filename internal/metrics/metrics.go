package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for the voice and chat paths. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Capture
	BlocksSent    prometheus.Counter
	BlocksDropped prometheus.Counter
	SendErrors    prometheus.Counter

	// Playback
	ChunksScheduled prometheus.Counter
	ChunkDuration   prometheus.Histogram
	DecodeErrors    prometheus.Counter
	Interruptions   prometheus.Counter

	// Sessions
	ActiveSessions prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec
	SessionLength  prometheus.Histogram

	// Model
	ModelRequests *prometheus.CounterVec
	ModelFailures *prometheus.CounterVec
	ModelLatency  prometheus.Histogram
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BlocksSent: f.NewCounter(prometheus.CounterOpts{
			Name: "jarvis_capture_blocks_sent_total",
			Help: "Microphone blocks sent to the live session",
		}),
		BlocksDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "jarvis_capture_blocks_dropped_total",
			Help: "Microphone blocks dropped because the live session was not connected",
		}),
		SendErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "jarvis_capture_send_errors_total",
			Help: "Microphone blocks the transport failed to send",
		}),

		ChunksScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "jarvis_playback_chunks_scheduled_total",
			Help: "Inbound audio chunks scheduled for playback",
		}),
		ChunkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "jarvis_playback_chunk_duration_seconds",
			Help:    "Duration of scheduled playback chunks",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "jarvis_playback_decode_errors_total",
			Help: "Inbound audio chunks dropped as undecodable",
		}),
		Interruptions: f.NewCounter(prometheus.CounterOpts{
			Name: "jarvis_playback_interruptions_total",
			Help: "Barge-in interruptions handled",
		}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "jarvis_voice_sessions_active",
			Help: "Voice sessions currently active",
		}),
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jarvis_voice_sessions_total",
			Help: "Voice session start attempts by outcome",
		}, []string{"outcome"}),
		SessionLength: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "jarvis_voice_session_duration_seconds",
			Help:    "Duration of voice sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		ModelRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jarvis_model_requests_total",
			Help: "Requests to the hosted model by kind",
		}, []string{"kind"}),
		ModelFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jarvis_model_failures_total",
			Help: "Failed model requests by error class",
		}, []string{"class"}),
		ModelLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "jarvis_model_request_duration_seconds",
			Help:    "Duration of model requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordBlockSent() {
	if m != nil {
		m.BlocksSent.Inc()
	}
}

func (m *Metrics) RecordBlockDropped() {
	if m != nil {
		m.BlocksDropped.Inc()
	}
}

func (m *Metrics) RecordSendError() {
	if m != nil {
		m.SendErrors.Inc()
	}
}

// RecordChunkScheduled records one scheduled playback unit.
func (m *Metrics) RecordChunkScheduled(durationSeconds float64) {
	if m != nil {
		m.ChunksScheduled.Inc()
		m.ChunkDuration.Observe(durationSeconds)
	}
}

func (m *Metrics) RecordDecodeError() {
	if m != nil {
		m.DecodeErrors.Inc()
	}
}

func (m *Metrics) RecordInterruption() {
	if m != nil {
		m.Interruptions.Inc()
	}
}

// RecordSessionStarted counts a start attempt; outcome is "active" or "failed".
func (m *Metrics) RecordSessionStarted(outcome string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
	if outcome == "active" {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	if m != nil {
		m.ActiveSessions.Dec()
		m.SessionLength.Observe(durationSeconds)
	}
}

// RecordModelRequest records a finished model call. class is empty on success.
func (m *Metrics) RecordModelRequest(kind, class string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ModelRequests.WithLabelValues(kind).Inc()
	m.ModelLatency.Observe(durationSeconds)
	if class != "" {
		m.ModelFailures.WithLabelValues(class).Inc()
	}
}
