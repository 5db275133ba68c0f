// Package vad implements the per-frame streaming voice-activity state
// machine with an adaptive noise floor, grounded on
// original_source/.../streaming_vad.rs.
package vad

import (
	"math"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/autoerr"
)

// Config holds tunables for a Processor, mirroring StreamingVadConfig.
type Config struct {
	SampleRate          int
	FrameDurationMs     int
	PreSpeechPadMs      int
	PostSpeechPadMs     int
	MinSpeechDurationMs int
	AdaptiveThreshold   bool
	EnergyThreshold     float64
	ZeroCrossingThresh  float64
	PitchDetectionOn    bool
}

// DefaultConfig matches streaming_vad.rs's Default impl.
func DefaultConfig() Config {
	return Config{
		SampleRate:          16000,
		FrameDurationMs:     30,
		PreSpeechPadMs:      300,
		PostSpeechPadMs:     500,
		MinSpeechDurationMs: 500,
		AdaptiveThreshold:   true,
		EnergyThreshold:     0.002,
		ZeroCrossingThresh:  0.15,
		PitchDetectionOn:    true,
	}
}

// frameLen returns the number of samples per processing quantum.
func (c Config) frameLen() int {
	return int(float64(c.SampleRate) * (float64(c.FrameDurationMs) / 1000.0))
}

// BoundaryInfo carries per-frame boundary/confidence metadata, matching §4.4.
type BoundaryInfo struct {
	IsCompleteUtterance bool
	Confidence          float64
	SpeechProbability   float64
}

// Result is the output of processing one burst of samples.
type Result struct {
	SpeechSegments [][]float32
	IsSpeaking     bool
	Confidence     float64
	Boundary       BoundaryInfo
	NoiseFloor     float64
	EnergyLevel    float64
}

// noiseEstimator tracks a rolling estimate of the ambient noise floor via
// an EMA (α=0.01) over frames whose energy looks like noise.
type noiseEstimator struct {
	samples        []float64
	currentFloor   float64
	adaptationRate float64
	maxSamples     int
}

func newNoiseEstimator() *noiseEstimator {
	return &noiseEstimator{currentFloor: 0.001, adaptationRate: 0.01, maxSamples: 1000}
}

func (n *noiseEstimator) update(samples []float32) {
	energy := rmsEnergy(samples)
	if energy >= n.currentFloor*2.0 {
		return
	}
	n.samples = append(n.samples, energy)
	if len(n.samples) > n.maxSamples {
		n.samples = n.samples[1:]
	}
	var sum float64
	for _, s := range n.samples {
		sum += s
	}
	avg := sum / float64(len(n.samples))
	n.currentFloor = (1-n.adaptationRate)*n.currentFloor + n.adaptationRate*avg
}

func (n *noiseEstimator) noiseFloor() float64 { return n.currentFloor }

func (n *noiseEstimator) adaptiveThreshold() float64 {
	t := n.currentFloor * 3.0
	if t < 0.002 {
		t = 0.002
	}
	if t > 0.01 {
		t = 0.01
	}
	return t
}

// energyTracker maintains a short rolling window of frame energies used
// for activity gating and the speech-activity ratio in BoundaryInfo.
type energyTracker struct {
	recent     []float64
	windowSize int
	highEnergy int
	lowEnergy  int
}

func newEnergyTracker(windowSize int) *energyTracker {
	return &energyTracker{windowSize: windowSize}
}

func (e *energyTracker) calculate(samples []float32) float64 {
	energy := rmsEnergy(samples)
	e.recent = append(e.recent, energy)
	if len(e.recent) > e.windowSize {
		old := e.recent[0]
		e.recent = e.recent[1:]
		if old > 0.005 {
			if e.highEnergy > 0 {
				e.highEnergy--
			}
		} else if e.lowEnergy > 0 {
			e.lowEnergy--
		}
	}
	if energy > 0.005 {
		e.highEnergy++
	} else {
		e.lowEnergy++
	}
	return energy
}

func (e *energyTracker) isActive() bool {
	if len(e.recent) < 3 {
		return false
	}
	n := len(e.recent)
	sum := e.recent[n-1] + e.recent[n-2] + e.recent[n-3]
	return sum/3.0 > 0.003
}

func (e *energyTracker) speechActivityRatio() float64 {
	total := e.highEnergy + e.lowEnergy
	if total == 0 {
		return 0
	}
	return float64(e.highEnergy) / float64(total)
}

// pitchDetector performs autocorrelation-based pitch estimation within
// [80Hz, 400Hz], reporting a correlation-threshold gated presence flag.
type pitchDetector struct {
	windowSize int
	minPitch   float64
	maxPitch   float64
}

func newPitchDetector(sampleRate int) *pitchDetector {
	return &pitchDetector{windowSize: sampleRate / 50, minPitch: 80.0, maxPitch: 400.0}
}

func (p *pitchDetector) detect(samples []float32, sampleRate float64) (float64, bool) {
	if len(samples) < p.windowSize {
		return 0, false
	}
	minPeriod := int(sampleRate / p.maxPitch)
	maxPeriod := int(sampleRate / p.minPitch)
	if maxPeriod > len(samples)/2 {
		maxPeriod = len(samples) / 2
	}
	maxCorrelation := 0.0
	bestPeriod := 0
	for period := minPeriod; period < maxPeriod; period++ {
		var correlation float64
		count := 0
		for i := 0; i < len(samples)-period; i++ {
			correlation += float64(samples[i]) * float64(samples[i+period])
			count++
		}
		if count > 0 {
			correlation /= float64(count)
			if correlation > maxCorrelation {
				maxCorrelation = correlation
				bestPeriod = period
			}
		}
	}
	if maxCorrelation > 0.3 && bestPeriod > 0 {
		return sampleRate / float64(bestPeriod), true
	}
	return 0, false
}

func zeroCrossingRate(samples []float32) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i] >= 0 && samples[i-1] < 0) || (samples[i] < 0 && samples[i-1] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// pauseDetector flags a trailing silence run ≥ min_pause_duration_ms.
type pauseDetector struct {
	silenceThreshold float64
	minPauseMs       int
	silenceFrames    int
	frameDurationMs  int
}

func newPauseDetector(frameDurationMs int) *pauseDetector {
	return &pauseDetector{silenceThreshold: 0.001, minPauseMs: 200, frameDurationMs: frameDurationMs}
}

func (p *pauseDetector) detect(energy, zcr float64) bool {
	isSilence := energy < p.silenceThreshold && zcr < 0.05
	if isSilence {
		p.silenceFrames++
	} else {
		p.silenceFrames = 0
	}
	return p.silenceFrames*p.frameDurationMs >= p.minPauseMs
}

func (p *pauseDetector) reset() { p.silenceFrames = 0 }

// boundaryDetector combines energy/pitch/pause signals into a BoundaryInfo.
type boundaryDetector struct {
	energy *energyTracker
	pitch  *pitchDetector
	pause  *pauseDetector
}

func newBoundaryDetector(sampleRate, frameDurationMs int) *boundaryDetector {
	return &boundaryDetector{
		energy: newEnergyTracker(10),
		pitch:  newPitchDetector(sampleRate),
		pause:  newPauseDetector(frameDurationMs),
	}
}

func (b *boundaryDetector) detect(samples []float32) BoundaryInfo {
	energy := b.energy.calculate(samples)
	zcr := zeroCrossingRate(samples)
	_, hasPitch := b.pitch.detect(samples, 16000.0)
	hasPause := b.pause.detect(energy, zcr)

	isComplete := hasPause && b.energy.isActive()
	speechProb := b.energy.speechActivityRatio()

	confidence := 0.5
	if hasPitch {
		confidence += 0.3
	}
	if b.energy.isActive() {
		confidence += 0.2
	}
	if speechProb > 0.5 {
		confidence += 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	return BoundaryInfo{
		IsCompleteUtterance: isComplete,
		Confidence:          confidence,
		SpeechProbability:   speechProb,
	}
}

// Processor runs the Silent/Speaking/HoldOff state machine. The state is
// held in isSpeaking plus holdBuf (HoldOff is isSpeaking with buffered
// trailing frames), switched on (isSpeaking, hasSpeech) like the
// (is_speaking, has_speech) match arms of the original.
type Processor struct {
	cfg         Config
	detector    *boundaryDetector
	noise       *noiseEstimator
	frameBuf    []float32
	holdBuf     [][]float32
	isSpeaking  bool
	speechSince time.Time
	frameCount  uint64
	errHandler  *autoerr.Handler
	nowFn       func() time.Time
}

// New constructs a Processor with a fresh Silent state.
func New(cfg Config, errHandler *autoerr.Handler) *Processor {
	return &Processor{
		cfg:        cfg,
		detector:   newBoundaryDetector(cfg.SampleRate, cfg.FrameDurationMs),
		noise:      newNoiseEstimator(),
		errHandler: errHandler,
		nowFn:      time.Now,
	}
}

// ProcessStream feeds a burst of samples, draining complete frames and
// running the state machine on each; partial trailing samples remain
// buffered for the next call. State persists across calls.
func (p *Processor) ProcessStream(samples []float32) Result {
	if len(samples) == 0 {
		return Result{NoiseFloor: p.noise.noiseFloor()}
	}

	p.noise.update(samples)
	p.frameBuf = append(p.frameBuf, samples...)

	frameLen := p.cfg.frameLen()
	var segments [][]float32
	var lastBoundary BoundaryInfo
	var totalEnergy float64
	var frames int

	for len(p.frameBuf) >= frameLen {
		frame := p.frameBuf[:frameLen]
		p.frameBuf = p.frameBuf[frameLen:]

		r := p.processFrame(frame)
		segments = append(segments, r.SpeechSegments...)
		lastBoundary = r.Boundary
		totalEnergy += r.EnergyLevel
		frames++
		p.frameCount++
	}

	avgEnergy := 0.0
	if frames > 0 {
		avgEnergy = totalEnergy / float64(frames)
	}

	return Result{
		SpeechSegments: segments,
		IsSpeaking:     p.isSpeaking,
		Confidence:     lastBoundary.Confidence,
		Boundary:       lastBoundary,
		NoiseFloor:     p.noise.noiseFloor(),
		EnergyLevel:    avgEnergy,
	}
}

// processFrame runs the single-frame state machine from §4.4's table.
func (p *Processor) processFrame(frame []float32) Result {
	boundary := p.detector.detect(frame)
	energy := rmsEnergy(frame)

	threshold := p.cfg.EnergyThreshold
	if p.cfg.AdaptiveThreshold {
		threshold = p.noise.adaptiveThreshold()
	}
	hasSpeech := energy > threshold && boundary.SpeechProbability > 0.3

	var segments [][]float32

	switch {
	case !p.isSpeaking && hasSpeech:
		// Silent -> Speaking: flush pre-pad ring as leading context.
		p.isSpeaking = true
		p.speechSince = p.nowFn()

		padFrames := p.cfg.PreSpeechPadMs / p.cfg.FrameDurationMs
		for len(p.holdBuf) > padFrames {
			p.holdBuf = p.holdBuf[1:]
		}
		segments = append(segments, p.holdBuf...)
		p.holdBuf = nil
		segments = append(segments, cloneFrame(frame))

	case p.isSpeaking && hasSpeech:
		// Speaking -> Speaking: emit frame as speech.
		segments = append(segments, cloneFrame(frame))

	case p.isSpeaking && !hasSpeech:
		// Speaking -> HoldOff: buffer for post-pad, possibly end speech.
		p.holdBuf = append(p.holdBuf, cloneFrame(frame))
		padFrames := p.cfg.PostSpeechPadMs / p.cfg.FrameDurationMs
		if len(p.holdBuf) > padFrames {
			p.isSpeaking = false
			duration := p.nowFn().Sub(p.speechSince)
			if duration >= time.Duration(p.cfg.MinSpeechDurationMs)*time.Millisecond {
				segments = append(segments, p.holdBuf...)
			}
			p.holdBuf = nil
			p.speechSince = time.Time{}
		}

	default:
		// Silent -> Silent: append to pre-pad ring, cap at 2x.
		p.holdBuf = append(p.holdBuf, cloneFrame(frame))
		maxBuf := (p.cfg.PreSpeechPadMs / p.cfg.FrameDurationMs) * 2
		for len(p.holdBuf) > maxBuf {
			p.holdBuf = p.holdBuf[1:]
		}
	}

	return Result{
		SpeechSegments: segments,
		IsSpeaking:     p.isSpeaking,
		Confidence:     boundary.Confidence,
		Boundary:       boundary,
		NoiseFloor:     p.noise.noiseFloor(),
		EnergyLevel:    energy,
	}
}

func cloneFrame(f []float32) []float32 {
	out := make([]float32, len(f))
	copy(out, f)
	return out
}

// Reset returns the processor to the Silent state with empty rings.
func (p *Processor) Reset() {
	p.isSpeaking = false
	p.speechSince = time.Time{}
	p.frameBuf = nil
	p.holdBuf = nil
	p.frameCount = 0
}

// Statistics mirrors VadStatistics for observability/event-bus payloads.
type Statistics struct {
	FramesProcessed     uint64
	CurrentNoiseFloor   float64
	IsCurrentlySpeaking bool
	BufferSize          int
	SpeechBufferSize    int
}

func (p *Processor) Statistics() Statistics {
	return Statistics{
		FramesProcessed:     p.frameCount,
		CurrentNoiseFloor:   p.noise.noiseFloor(),
		IsCurrentlySpeaking: p.isSpeaking,
		BufferSize:          len(p.frameBuf),
		SpeechBufferSize:    len(p.holdBuf),
	}
}

func rmsEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}
