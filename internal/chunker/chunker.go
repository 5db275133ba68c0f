// Package chunker implements the intelligent speech-boundary chunking
// policy, grounded on original_source/.../intelligent_chunking.rs.
package chunker

import (
	"time"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/autoerr"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/vad"
)

// BoundaryType names why a chunk was emitted, matching intelligent_chunking.rs's BoundaryType.
type BoundaryType int

const (
	BoundarySentence BoundaryType = iota
	BoundaryPause
	BoundaryTimeout
	BoundaryMaxDuration
	BoundarySilence
	BoundaryManual
	// BoundaryFallback is emitted when the VAD itself fails and the
	// accumulator is padded and flushed rather than left to grow
	// unbounded. vad.Processor.ProcessStream has no error return, so
	// this pipeline never produces it today; it completes the closed
	// seven-variant set regardless.
	BoundaryFallback
)

func (b BoundaryType) String() string {
	switch b {
	case BoundarySentence:
		return "sentence_boundary"
	case BoundaryPause:
		return "pause_boundary"
	case BoundaryTimeout:
		return "timeout_boundary"
	case BoundaryMaxDuration:
		return "max_duration_boundary"
	case BoundarySilence:
		return "silence_boundary"
	case BoundaryManual:
		return "manual_boundary"
	case BoundaryFallback:
		return "fallback_boundary"
	default:
		return "unknown"
	}
}

// Config holds chunker tunables, matching ChunkingConfig's defaults.
type Config struct {
	MinChunkDurationMs          int
	MaxChunkDurationMs          int
	TargetChunkDurationMs       int
	SampleRate                  int
	OverlapDurationMs           int
	SilenceThreshold            float64
	BoundaryConfidenceThreshold float64
	ForceChunkOnSilenceMs       int
	ContextPreservationEnabled  bool
}

func DefaultConfig() Config {
	return Config{
		MinChunkDurationMs:          3000,
		MaxChunkDurationMs:          30000,
		TargetChunkDurationMs:       15000,
		SampleRate:                  16000,
		OverlapDurationMs:           500,
		SilenceThreshold:            0.001,
		BoundaryConfidenceThreshold: 0.8,
		ForceChunkOnSilenceMs:       8000,
		ContextPreservationEnabled:  true,
	}
}

func (c Config) vadConfig() vad.Config {
	return vad.Config{
		SampleRate:          c.SampleRate,
		FrameDurationMs:     30,
		PreSpeechPadMs:      100,
		PostSpeechPadMs:     150,
		MinSpeechDurationMs: 300,
		AdaptiveThreshold:   true,
		EnergyThreshold:     c.SilenceThreshold,
		ZeroCrossingThresh:  0.1,
		PitchDetectionOn:    true,
	}
}

// Metadata describes an emitted chunk, matching ChunkMetadata.
type Metadata struct {
	ChunkID           uint64
	TimestampMs       int64
	DurationMs        int
	SampleCount       int
	HasSpeechBoundary bool
	Confidence        float64
	EnergyLevel       float64
	NoiseFloor        float64
	ContextFrames     int
	IsSilenceForced   bool
	BoundaryType      BoundaryType
}

// Chunk is a finished audio chunk ready for ASR, matching AudioChunk.
type Chunk struct {
	Samples          []float32
	Metadata         Metadata
	StartTimeMs      int64
	RecordingStartMs int64
}

// contextRing preserves trailing samples across chunk boundaries so the
// next chunk opens with overlap, matching ContextBuffer.
type contextRing struct {
	samples        []float32
	maxSamples     int
	overlapSamples int
}

func newContextRing(maxDurationMs, overlapDurationMs, sampleRate int) *contextRing {
	return &contextRing{
		maxSamples:     int(float64(maxDurationMs) / 1000.0 * float64(sampleRate)),
		overlapSamples: int(float64(overlapDurationMs) / 1000.0 * float64(sampleRate)),
	}
}

func (c *contextRing) addSamples(s []float32) {
	c.samples = append(c.samples, s...)
	if over := len(c.samples) - c.maxSamples; over > 0 {
		c.samples = c.samples[over:]
	}
}

func (c *contextRing) contextForNewChunk() []float32 {
	n := c.overlapSamples
	if n > len(c.samples) {
		n = len(c.samples)
	}
	out := make([]float32, n)
	copy(out, c.samples[len(c.samples)-n:])
	return out
}

func (c *contextRing) appendWithOverlap(newSamples []float32) []float32 {
	context := c.contextForNewChunk()
	c.addSamples(newSamples)
	out := make([]float32, 0, len(context)+len(newSamples))
	out = append(out, context...)
	out = append(out, newSamples...)
	return out
}

func (c *contextRing) len() int { return len(c.samples) }
func (c *contextRing) clear()   { c.samples = nil }

// Statistics mirrors ChunkingStatistics for the event bus / metrics.
type Statistics struct {
	TotalChunksCreated     uint64
	CurrentChunkDurationMs int
	CurrentChunkSamples    int
	TotalProcessedSamples  uint64
	ContextBufferSize      int
	VadStats               vad.Statistics
}

// Chunker applies the priority-ordered chunk-boundary decision policy
// on top of a streaming VAD processor. Grounded on
// original_source/.../intelligent_chunking.rs's IntelligentChunker.
type Chunker struct {
	cfg                   Config
	vadProc               *vad.Processor
	context               *contextRing
	currentChunk          []float32
	chunkStart            time.Time
	silenceStart          time.Time
	chunkIDCounter        uint64
	totalProcessedSamples uint64
	errHandler            *autoerr.Handler
	nowFn                 func() time.Time
}

// New constructs a Chunker with a fresh VAD processor and context ring.
func New(cfg Config, errHandler *autoerr.Handler) *Chunker {
	return &Chunker{
		cfg:        cfg,
		vadProc:    vad.New(cfg.vadConfig(), errHandler),
		context:    newContextRing(cfg.MaxChunkDurationMs, cfg.OverlapDurationMs, cfg.SampleRate),
		errHandler: errHandler,
		nowFn:      time.Now,
	}
}

// ProcessAudio feeds samples through VAD and the decision policy,
// returning a finished chunk when one of the seven rules fires.
func (c *Chunker) ProcessAudio(samples []float32, recordingStart time.Time) (*Chunk, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	c.totalProcessedSamples += uint64(len(samples))

	vadResult := c.vadProc.ProcessStream(samples)

	c.currentChunk = append(c.currentChunk, samples...)
	if c.chunkStart.IsZero() {
		c.chunkStart = c.nowFn()
	}

	c.updateSilenceTracking(vadResult)

	boundary, create := c.shouldCreateChunk(vadResult)
	if !create {
		return nil, nil
	}
	return c.createChunk(boundary, vadResult, recordingStart), nil
}

func (c *Chunker) updateSilenceTracking(r vad.Result) {
	isSilent := r.EnergyLevel < c.cfg.SilenceThreshold && !r.IsSpeaking
	if isSilent && c.silenceStart.IsZero() {
		c.silenceStart = c.nowFn()
	} else if !isSilent {
		c.silenceStart = time.Time{}
	}
}

// shouldCreateChunk applies the seven priority-ordered rules:
// 1. max duration (hard cap) 2. below minimum (never chunk)
// 3. high-confidence complete utterance 4. prolonged silence timeout
// 5. natural pause past 2/3 target 6. target duration with a good
// stopping point 7. otherwise continue.
func (c *Chunker) shouldCreateChunk(r vad.Result) (BoundaryType, bool) {
	duration := c.currentDurationMs()

	if duration >= c.cfg.MaxChunkDurationMs {
		return BoundaryMaxDuration, true
	}

	if duration < c.cfg.MinChunkDurationMs {
		return 0, false
	}

	if r.Boundary.IsCompleteUtterance && r.Confidence >= c.cfg.BoundaryConfidenceThreshold {
		return BoundarySentence, true
	}

	if !c.silenceStart.IsZero() {
		silenceDuration := int(c.nowFn().Sub(c.silenceStart).Milliseconds())
		if silenceDuration >= c.cfg.ForceChunkOnSilenceMs {
			return BoundarySilence, true
		}
	}

	if r.Boundary.IsCompleteUtterance && duration >= c.cfg.TargetChunkDurationMs*2/3 {
		return BoundaryPause, true
	}

	if duration >= c.cfg.TargetChunkDurationMs && (r.Confidence > 0.4 || !r.IsSpeaking) {
		return BoundaryTimeout, true
	}

	return 0, false
}

func (c *Chunker) createChunk(boundary BoundaryType, r vad.Result, recordingStart time.Time) *Chunk {
	if len(c.currentChunk) == 0 {
		return nil
	}

	chunkID := c.chunkIDCounter
	c.chunkIDCounter++

	chunkStart := c.chunkStart
	if chunkStart.IsZero() {
		chunkStart = c.nowFn()
	}
	durationMs := int(c.nowFn().Sub(chunkStart).Milliseconds())
	timestampMs := c.nowFn().Sub(recordingStart).Milliseconds()

	var finalSamples []float32
	if c.cfg.ContextPreservationEnabled {
		finalSamples = c.context.appendWithOverlap(c.currentChunk)
	} else {
		c.context.addSamples(c.currentChunk)
		finalSamples = append([]float32(nil), c.currentChunk...)
	}

	metadata := Metadata{
		ChunkID:           chunkID,
		TimestampMs:       timestampMs,
		DurationMs:        durationMs,
		SampleCount:       len(finalSamples),
		HasSpeechBoundary: r.Boundary.IsCompleteUtterance,
		Confidence:        r.Confidence,
		EnergyLevel:       r.EnergyLevel,
		NoiseFloor:        r.NoiseFloor,
		ContextFrames:     c.context.len(),
		IsSilenceForced:   boundary == BoundarySilence,
		BoundaryType:      boundary,
	}

	chunk := &Chunk{
		Samples:          finalSamples,
		Metadata:         metadata,
		StartTimeMs:      c.nowFn().Sub(chunkStart).Milliseconds(),
		RecordingStartMs: c.nowFn().Sub(recordingStart).Milliseconds(),
	}

	c.resetChunkState()
	return chunk
}

func (c *Chunker) resetChunkState() {
	c.currentChunk = nil
	c.chunkStart = time.Time{}
	c.silenceStart = time.Time{}
}

func (c *Chunker) currentDurationMs() int {
	if c.chunkStart.IsZero() {
		return 0
	}
	return int(c.nowFn().Sub(c.chunkStart).Milliseconds())
}

// ForceChunk manually flushes the current buffer, bypassing the normal
// decision policy, matching IntelligentChunker::force_chunk.
func (c *Chunker) ForceChunk(recordingStart time.Time) *Chunk {
	if len(c.currentChunk) == 0 {
		return nil
	}
	synthetic := vad.Result{
		IsSpeaking:  false,
		Confidence:  0.5,
		Boundary:    vad.BoundaryInfo{IsCompleteUtterance: false, Confidence: 0.5, SpeechProbability: 0.5},
		NoiseFloor:  0.001,
		EnergyLevel: 0.01,
	}
	return c.createChunk(BoundaryManual, synthetic, recordingStart)
}

// Statistics returns a snapshot for the event bus / metrics exporters.
func (c *Chunker) Statistics() Statistics {
	return Statistics{
		TotalChunksCreated:     c.chunkIDCounter,
		CurrentChunkDurationMs: c.currentDurationMs(),
		CurrentChunkSamples:    len(c.currentChunk),
		TotalProcessedSamples:  c.totalProcessedSamples,
		ContextBufferSize:      c.context.len(),
		VadStats:               c.vadProc.Statistics(),
	}
}

// UpdateConfig swaps the live configuration, rebuilding the VAD config
// and resetting the context ring to the new duration/overlap bounds.
func (c *Chunker) UpdateConfig(cfg Config) {
	c.cfg = cfg
	c.context = newContextRing(cfg.MaxChunkDurationMs, cfg.OverlapDurationMs, cfg.SampleRate)
}

// Reset clears all chunker and VAD state.
func (c *Chunker) Reset() {
	c.currentChunk = nil
	c.chunkStart = time.Time{}
	c.silenceStart = time.Time{}
	c.context.clear()
	c.vadProc.Reset()
	c.totalProcessedSamples = 0
}
