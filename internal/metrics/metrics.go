// Package metrics exposes Prometheus collectors for the pipeline's
// Buffer Metrics, Channel Health, and VAD/Chunker/ASR-driver counters,
// grounded on tphakala-birdnet-go's observability/metrics Recorder
// pattern (RecordOperation/RecordDuration/RecordError) but backed by
// real prometheus.CounterVec/HistogramVec/GaugeVec collectors registered
// against a private registry rather than the global default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/autoerr"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/buffer"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/channel"
)

const namespace = "good_listener"

// Recorder is the narrow interface pipeline components depend on, mirroring
// birdnet-go's Recorder shape so call sites stay agnostic of Prometheus.
type Recorder interface {
	RecordOperation(operation, status string)
	RecordDuration(operation string, seconds float64)
	RecordError(operation, errorType string)
}

// Registry bundles every collector the pipeline exposes and implements
// Recorder for ad-hoc operation/duration/error tracking beyond the
// component-specific gauges below.
type Registry struct {
	reg *prometheus.Registry

	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	errors     *prometheus.CounterVec

	bufferLen       *prometheus.GaugeVec
	bufferCap       *prometheus.GaugeVec
	bufferOverflows *prometheus.CounterVec

	channelState  *prometheus.GaugeVec
	channelErrors *prometheus.CounterVec

	vadSpeechFrames *prometheus.CounterVec
	vadNoiseFloor   *prometheus.GaugeVec

	chunksCreated   *prometheus.CounterVec
	chunkDurationMs *prometheus.HistogramVec

	asrRetries    *prometheus.CounterVec
	asrConfidence *prometheus.HistogramVec

	pipelineErrors *prometheus.CounterVec
}

// New builds a Registry with all collectors registered against a fresh
// prometheus.Registry (not the global default, to keep the module testable
// in isolation without cross-test collector collisions).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "operations_total", Help: "Operations by name and status.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "operation_duration_seconds", Help: "Operation duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total", Help: "Errors by operation and error type.",
		}, []string{"operation", "error_type"}),

		bufferLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "buffer", Name: "length", Help: "Current buffer occupancy.",
		}, []string{"buffer_id"}),
		bufferCap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "buffer", Name: "capacity", Help: "Current buffer capacity.",
		}, []string{"buffer_id"}),
		bufferOverflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "buffer", Name: "overflow_events_total", Help: "Buffer overflow (drop/resize) events.",
		}, []string{"buffer_id"}),

		channelState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "channel", Name: "state", Help: "Channel lifecycle state (ordinal).",
		}, []string{"channel_id"}),
		channelErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "errors_total", Help: "Channel send/subscribe errors.",
		}, []string{"channel_id"}),

		vadSpeechFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "vad", Name: "speech_frames_total", Help: "Frames classified as speech.",
		}, []string{"source"}),
		vadNoiseFloor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "vad", Name: "noise_floor", Help: "Current adaptive noise floor estimate.",
		}, []string{"source"}),

		chunksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chunker", Name: "chunks_total", Help: "Chunks created by boundary cause.",
		}, []string{"source", "boundary"}),
		chunkDurationMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "chunker", Name: "chunk_duration_ms", Help: "Chunk duration in milliseconds.",
			Buckets: []float64{500, 1000, 3000, 8000, 15000, 30000},
		}, []string{"source"}),

		asrRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "asr", Name: "retries_total", Help: "Transcription retry attempts.",
		}, []string{"source"}),
		asrConfidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "asr", Name: "confidence", Help: "Accepted transcription confidence.",
			Buckets: []float64{0.3, 0.5, 0.7, 0.8, 0.9, 0.95, 1.0},
		}, []string{"source"}),

		pipelineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "errors_total", Help: "autoerr.Kind occurrences by component.",
		}, []string{"component", "kind"}),
	}

	reg.MustRegister(
		r.operations, r.durations, r.errors,
		r.bufferLen, r.bufferCap, r.bufferOverflows,
		r.channelState, r.channelErrors,
		r.vadSpeechFrames, r.vadNoiseFloor,
		r.chunksCreated, r.chunkDurationMs,
		r.asrRetries, r.asrConfidence,
		r.pipelineErrors,
	)
	return r
}

// Handler returns an HTTP handler serving this registry's collectors.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordOperation implements Recorder.
func (r *Registry) RecordOperation(operation, status string) {
	r.operations.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (r *Registry) RecordDuration(operation string, seconds float64) {
	r.durations.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (r *Registry) RecordError(operation, errorType string) {
	r.errors.WithLabelValues(operation, errorType).Inc()
}

// ObserveBuffer records a buffer.Metrics snapshot under bufferID.
func (r *Registry) ObserveBuffer(bufferID string, m buffer.Metrics) {
	r.bufferLen.WithLabelValues(bufferID).Set(float64(m.Size))
	r.bufferCap.WithLabelValues(bufferID).Set(float64(m.Capacity))
	r.bufferOverflows.WithLabelValues(bufferID).Add(float64(m.OverflowEvents))
}

// ObserveChannel records a channel.HealthMetrics snapshot under channelID.
func (r *Registry) ObserveChannel(channelID string, h channel.HealthMetrics) {
	r.channelState.WithLabelValues(channelID).Set(float64(h.State))
	if !h.IsHealthy {
		r.channelErrors.WithLabelValues(channelID).Add(float64(h.ErrorCount))
	}
}

// ObserveVAD records a speech frame and the current noise floor for source.
func (r *Registry) ObserveVAD(source string, isSpeech bool, noiseFloor float64) {
	if isSpeech {
		r.vadSpeechFrames.WithLabelValues(source).Inc()
	}
	r.vadNoiseFloor.WithLabelValues(source).Set(noiseFloor)
}

// ObserveChunk records a created chunk's boundary cause and duration.
func (r *Registry) ObserveChunk(source, boundary string, durationMs float64) {
	r.chunksCreated.WithLabelValues(source, boundary).Inc()
	r.chunkDurationMs.WithLabelValues(source).Observe(durationMs)
}

// ObserveTranscription records retries and accepted confidence for source.
func (r *Registry) ObserveTranscription(source string, retries uint32, confidence float64) {
	if retries > 0 {
		r.asrRetries.WithLabelValues(source).Add(float64(retries))
	}
	r.asrConfidence.WithLabelValues(source).Observe(confidence)
}

// ObserveAutoerr records one autoerr.Error occurrence by component/kind.
func (r *Registry) ObserveAutoerr(component string, kind autoerr.Kind) {
	r.pipelineErrors.WithLabelValues(component, kind.String()).Inc()
}
