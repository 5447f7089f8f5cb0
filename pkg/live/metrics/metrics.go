// Package metrics exposes Prometheus metrics for live sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for live sessions. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Audio metrics
	FramesTotal      *prometheus.CounterVec
	AudioBytesTotal  *prometheus.CounterVec
	InputLevel       prometheus.Gauge
	InterruptsTotal  prometheus.Counter
	DecodeErrorTotal prometheus.Counter

	// Transcript metrics
	TranscriptEventsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered on a
// private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lingo_live"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected live sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of live sessions by outcome",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Live session duration in seconds",
			Buckets:   []float64{10, 30, 60, 300, 600, 1200, 1800, 3600},
		},
	)

	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Microphone frames by outcome",
		},
		[]string{"result"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "PCM16 audio bytes by direction",
		},
		[]string{"direction"},
	)

	inputLevel := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "input_level",
			Help:      "RMS level of the most recent microphone frame",
		},
	)

	interruptsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Playback interruptions requested by the remote service",
		},
	)

	decodeErrorsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound payloads dropped because they could not be decoded",
		},
	)

	transcriptEventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_events_total",
			Help:      "Transcript updates by role",
		},
		[]string{"role"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		framesTotal,
		audioBytesTotal,
		inputLevel,
		interruptsTotal,
		decodeErrorsTotal,
		transcriptEventsTotal,
	)

	return &Metrics{
		registry:              registry,
		SessionsActive:        sessionsActive,
		SessionsTotal:         sessionsTotal,
		SessionDuration:       sessionDuration,
		FramesTotal:           framesTotal,
		AudioBytesTotal:       audioBytesTotal,
		InputLevel:            inputLevel,
		InterruptsTotal:       interruptsTotal,
		DecodeErrorTotal:      decodeErrorsTotal,
		TranscriptEventsTotal: transcriptEventsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a session reaching the connected state.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session closing. connected reports whether the
// session had been counted as active.
func (m *Metrics) RecordSessionEnd(status string, connected bool, duration time.Duration) {
	if m == nil {
		return
	}
	if connected {
		m.SessionsActive.Dec()
		m.SessionDuration.Observe(duration.Seconds())
	}
	m.SessionsTotal.WithLabelValues(status).Inc()
}

// RecordFrameSent records a microphone frame delivered to the remote side.
func (m *Metrics) RecordFrameSent(bytes int) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues("sent").Inc()
	m.AudioBytesTotal.WithLabelValues("out").Add(float64(bytes))
}

// RecordFrameDropped records a frame dropped because the send queue was full.
func (m *Metrics) RecordFrameDropped() {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues("dropped").Inc()
}

// RecordAudioIn records synthesized audio received.
func (m *Metrics) RecordAudioIn(bytes int) {
	if m == nil {
		return
	}
	m.AudioBytesTotal.WithLabelValues("in").Add(float64(bytes))
}

// RecordInputLevel records the latest microphone level.
func (m *Metrics) RecordInputLevel(level float64) {
	if m == nil {
		return
	}
	m.InputLevel.Set(level)
}

// RecordInterrupt records a barge-in.
func (m *Metrics) RecordInterrupt() {
	if m == nil {
		return
	}
	m.InterruptsTotal.Inc()
}

// RecordDecodeError records a dropped inbound payload.
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrorTotal.Inc()
}

// RecordTranscriptEvent records a transcript update.
func (m *Metrics) RecordTranscriptEvent(role string) {
	if m == nil {
		return
	}
	m.TranscriptEventsTotal.WithLabelValues(role).Inc()
}
