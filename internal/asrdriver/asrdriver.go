// Package asrdriver implements the streaming ASR driver: per-source
// audio/text context management, temperature-scheduled retries, and
// confidence gating around an asrengine.Session. Grounded on
// original_source/.../streaming_whisper.rs's StreamingWhisperService.
package asrdriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/asrengine"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/autoerr"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/chunker"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/resilience"
)

// Config mirrors StreamingWhisperConfig's defaults.
type Config struct {
	SampleRate            int
	MaxContextSamples     int
	ContextOverlapSamples int
	MaxRetries            uint32
	BaseTemperature       float64
	TemperatureIncrement  float64
	MaxTemperature        float64
	Language              string
	EnableTimestamps      bool
	ConfidenceThreshold   float64
	MaxProcessingTime     time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate:            16000,
		MaxContextSamples:     480000,
		ContextOverlapSamples: 16000,
		MaxRetries:            3,
		BaseTemperature:       0.0,
		TemperatureIncrement:  0.2,
		MaxTemperature:        1.0,
		Language:              "en",
		EnableTimestamps:      true,
		ConfidenceThreshold:   0.3,
		MaxProcessingTime:     10 * time.Second,
	}
}

// Result is the per-chunk transcription outcome, matching
// StreamingTranscriptionResult.
type Result struct {
	Text            string
	Confidence      float64
	ProcessingTime  time.Duration
	RetryCount      uint32
	TemperatureUsed float64
	BoundaryType    chunker.BoundaryType
	HasContext      bool
	Segments        []asrengine.Segment
}

// contextRing keeps a rolling audio window plus a short text-context
// queue for prompt conditioning, matching ContextManager.
type contextRing struct {
	mu              sync.Mutex
	audio           []float32
	text            []string
	maxAudioSamples int
	maxTextSegments int
	overlapSamples  int
}

func newContextRing(maxAudioSamples, overlapSamples int) *contextRing {
	return &contextRing{maxAudioSamples: maxAudioSamples, maxTextSegments: 10, overlapSamples: overlapSamples}
}

func (c *contextRing) addAudio(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, samples...)
	if over := len(c.audio) - c.maxAudioSamples; over > 0 {
		c.audio = c.audio[over:]
	}
}

func (c *contextRing) addText(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = append(c.text, text)
	if over := len(c.text) - c.maxTextSegments; over > 0 {
		c.text = c.text[over:]
	}
}

// audioWithContext prepends the trailing overlap window to newSamples.
func (c *contextRing) audioWithContext(newSamples []float32) []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.overlapSamples
	if n > len(c.audio) {
		n = len(c.audio)
	}
	out := make([]float32, 0, n+len(newSamples))
	out = append(out, c.audio[len(c.audio)-n:]...)
	out = append(out, newSamples...)
	return out
}

func (c *contextRing) textContext() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.text, " ")
}

func (c *contextRing) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = nil
	c.text = nil
}

// temperatureScheduler steps temperature up by a fixed increment on
// each retry, capped at MaxTemperature, matching TemperatureScheduler.
type temperatureScheduler struct {
	base, increment, max float64
	retry                uint32
}

func (t *temperatureScheduler) current() float64 {
	temp := t.base + float64(t.retry)*t.increment
	if temp > t.max {
		return t.max
	}
	return temp
}

func (t *temperatureScheduler) next() float64 {
	t.retry++
	return t.current()
}

// Statistics mirrors StreamingStats.
type Statistics struct {
	TotalTranscriptions     uint64
	TotalProcessingTimeMs   uint64
	AverageProcessingTimeMs float64
	RetryCount              uint64
	ErrorCount              uint64
	ContextHits             uint64
	TotalAudioSamples       uint64
}

// Driver orchestrates chunk-level transcription against an
// asrengine.Session with context continuity and retry logic.
type Driver struct {
	cfg        Config
	session    asrengine.Session
	context    *contextRing
	errHandler *autoerr.Handler

	mu    sync.Mutex
	stats Statistics

	nowFn func() time.Time
}

// New builds a Driver around an already-created inference session.
func New(cfg Config, session asrengine.Session, errHandler *autoerr.Handler) *Driver {
	return &Driver{
		cfg:        cfg,
		session:    session,
		context:    newContextRing(cfg.MaxContextSamples, cfg.ContextOverlapSamples),
		errHandler: errHandler,
		nowFn:      time.Now,
	}
}

// TranscribeChunk runs context-conditioned, retried inference on one
// chunk, updating context and statistics on success. Matches
// StreamingWhisperService::transcribe_chunk.
func (d *Driver) TranscribeChunk(ctx context.Context, chunk *chunker.Chunk) (Result, error) {
	start := d.nowFn()

	audioWithContext := d.context.audioWithContext(chunk.Samples)
	textContext := d.context.textContext()
	hasContext := textContext != ""

	scheduler := &temperatureScheduler{base: d.cfg.BaseTemperature, increment: d.cfg.TemperatureIncrement, max: d.cfg.MaxTemperature}

	var attempts uint32
	var temperature float64
	var result Result

	retryCfg := resilience.RetryConfig{
		MaxRetries:   int(d.cfg.MaxRetries),
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		JitterFactor: resilience.DefaultJitterFactor,
		IsRetryable: func(err error) bool {
			var timeoutErr *autoerr.Error
			if errors.As(err, &timeoutErr) {
				return false
			}
			return resilience.IsRetryableGRPC(err)
		},
	}

	retryErr := resilience.Retry(ctx, retryCfg, func() error {
		if attempts == 0 {
			temperature = scheduler.current()
		} else {
			temperature = scheduler.next()
		}
		attempts++

		if d.nowFn().Sub(start) > d.cfg.MaxProcessingTime {
			return autoerr.NewTimeout(d.cfg.MaxProcessingTime.Milliseconds(), "transcribe_chunk timeout")
		}

		infer, err := d.session.Infer(ctx, asrengine.InferRequest{
			Samples:     audioWithContext,
			SampleRate:  d.cfg.SampleRate,
			Temperature: temperature,
			TextContext: textContext,
		})
		if err == nil && infer.Confidence < d.cfg.ConfidenceThreshold {
			err = fmt.Errorf("confidence %.2f below threshold %.2f", infer.Confidence, d.cfg.ConfidenceThreshold)
		}
		if err != nil {
			slog.Warn("asr inference attempt failed", "retry", attempts-1, "temperature", temperature, "error", err)
			return err
		}

		processingTime := d.nowFn().Sub(start)
		d.context.addAudio(chunk.Samples)
		d.context.addText(infer.Text)
		d.recordSuccess(processingTime, hasContext, len(chunk.Samples))

		result = Result{
			Text:            infer.Text,
			Confidence:      infer.Confidence,
			ProcessingTime:  processingTime,
			RetryCount:      attempts - 1,
			TemperatureUsed: temperature,
			BoundaryType:    chunk.Metadata.BoundaryType,
			HasContext:      hasContext,
			Segments:        infer.Segments,
		}
		return nil
	})

	if retryErr == nil {
		return result, nil
	}

	if errors.Is(retryErr, context.Canceled) || errors.Is(retryErr, context.DeadlineExceeded) {
		return Result{}, retryErr
	}

	d.recordError()

	var timeoutErr *autoerr.Error
	if errors.As(retryErr, &timeoutErr) {
		return Result{}, timeoutErr
	}

	d.mu.Lock()
	d.stats.RetryCount += uint64(d.cfg.MaxRetries)
	d.mu.Unlock()

	return Result{}, autoerr.NewTranscription(chunk.Metadata.ChunkID, fmt.Sprintf("failed after %d retries: %v", d.cfg.MaxRetries, retryErr))
}

func (d *Driver) recordSuccess(processingTime time.Duration, hasContext bool, sampleCount int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.TotalTranscriptions++
	d.stats.TotalProcessingTimeMs += uint64(processingTime.Milliseconds())
	d.stats.AverageProcessingTimeMs = float64(d.stats.TotalProcessingTimeMs) / float64(max1(d.stats.TotalTranscriptions))
	d.stats.TotalAudioSamples += uint64(sampleCount)
	if hasContext {
		d.stats.ContextHits++
	}
}

func (d *Driver) recordError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.ErrorCount++
}

func max1(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	return v
}

// ResetContext clears the audio/text context ring.
func (d *Driver) ResetContext() { d.context.reset() }

// Statistics returns a snapshot of driver-level counters.
func (d *Driver) Statistics() Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
