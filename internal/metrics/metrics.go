// Package metrics exposes Prometheus collectors for the assistant pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "csirt"

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
	OutcomeStale   = "stale"
	OutcomeEnded   = "ended"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	speechDuration *prometheus.HistogramVec
	speechTotal    *prometheus.CounterVec
	responsesTotal *prometheus.CounterVec
	segmentsTotal  prometheus.Counter
	duplicateAudio prometheus.Counter
	playbackTotal  *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	sessionsActive prometheus.Gauge
}

// New creates collectors registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		speechDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "speech_duration_seconds",
				Help:      "Duration of speech synthesis and transcription calls in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"op"}, // op: tts, stt
		),
		speechTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "speech_requests_total",
				Help:      "Total speech calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		responsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responses_total",
				Help:      "Assistant responses by outcome",
			},
			[]string{"outcome"}, // ok, partial, failed, stale
		),
		segmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Sentence segments cut from streamed responses",
		}),
		duplicateAudio: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_audio_total",
			Help:      "Audio submissions dropped as repeats",
		}),
		playbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "playback_segments_total",
				Help:      "Segments handed to the playback surface by outcome",
			},
			[]string{"outcome"}, // ended, error
		),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Segments waiting for playback across sessions",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently held in memory",
		}),
	}

	m.registry.MustRegister(
		m.speechDuration,
		m.speechTotal,
		m.responsesTotal,
		m.segmentsTotal,
		m.duplicateAudio,
		m.playbackTotal,
		m.queueDepth,
		m.sessionsActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the /metrics handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveSpeech records one TTS or STT call.
func (m *Metrics) ObserveSpeech(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.speechDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	m.speechTotal.WithLabelValues(op, outcome).Inc()
}

// ResponseFinished counts a finished assistant response.
func (m *Metrics) ResponseFinished(outcome string) {
	if m == nil {
		return
	}
	m.responsesTotal.WithLabelValues(outcome).Inc()
}

// SegmentCut counts one sentence segment.
func (m *Metrics) SegmentCut() {
	if m == nil {
		return
	}
	m.segmentsTotal.Inc()
}

// DuplicateAudio counts a dropped repeat submission.
func (m *Metrics) DuplicateAudio() {
	if m == nil {
		return
	}
	m.duplicateAudio.Inc()
}

// PlaybackFinished counts one segment leaving the playback queue.
func (m *Metrics) PlaybackFinished(outcome string) {
	if m == nil {
		return
	}
	m.playbackTotal.WithLabelValues(outcome).Inc()
}

// QueueDelta adjusts the playback queue depth gauge.
func (m *Metrics) QueueDelta(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Add(float64(n))
}

// SetSessions sets the active session gauge.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}
