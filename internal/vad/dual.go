package vad

import "github.com/GriffinCanCode/good-listener/backend/platform/internal/autoerr"

// DualConfig is the tuning shared by the three Dual processors. Its
// values equal DefaultConfig's, and its pads and minimum speech duration
// are longer than the chunker's per-source VAD settings.
func DualConfig(sampleRate int) Config {
	return Config{
		SampleRate:          sampleRate,
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

// DualStatistics mirrors DualChannelVadStats.
type DualStatistics struct {
	Mic     Statistics
	Speaker Statistics
	Mixed   Statistics
}

// Dual runs independent mic/speaker/mixed VAD instances and combines
// their speech segments, matching vad.rs's DualChannelVad.
type Dual struct {
	mic        *Processor
	speaker    *Processor
	mixed      *Processor
	errHandler *autoerr.Handler
}

// NewDual constructs three independent Processors sharing DualConfig.
func NewDual(sampleRate int, errHandler *autoerr.Handler) *Dual {
	cfg := DualConfig(sampleRate)
	return &Dual{
		mic:        New(cfg, errHandler),
		speaker:    New(cfg, errHandler),
		mixed:      New(cfg, errHandler),
		errHandler: errHandler,
	}
}

// ProcessDualChannel runs mic and speaker audio through their own VAD
// instances, concatenates their speech segments, then replaces that
// result with the mixed-channel VAD's output when the latter reports
// confidence > 0.7 and found non-empty speech — matching
// process_dual_channel's "mixed replaces concatenation" heuristic
// exactly (this is a deliberate asymmetry in the original, not a bug).
func (d *Dual) ProcessDualChannel(micSamples, speakerSamples []float32) []float32 {
	var finalSpeech []float32

	if len(micSamples) > 0 {
		result := d.mic.ProcessStream(micSamples)
		for _, seg := range result.SpeechSegments {
			finalSpeech = append(finalSpeech, seg...)
		}
		if len(result.SpeechSegments) == 0 && rmsEnergy(micSamples) > 0.003 {
			// Fallback mirrors the Rust error-path behavior: accept raw
			// samples when VAD produced nothing but energy still looks
			// speech-like.
			finalSpeech = append(finalSpeech, micSamples...)
		}
	}

	if len(speakerSamples) > 0 {
		result := d.speaker.ProcessStream(speakerSamples)
		var speakerSpeech []float32
		for _, seg := range result.SpeechSegments {
			speakerSpeech = append(speakerSpeech, seg...)
		}
		if len(result.SpeechSegments) == 0 && rmsEnergy(speakerSamples) > 0.003 {
			speakerSpeech = append(speakerSpeech, speakerSamples...)
		}
		finalSpeech = append(finalSpeech, speakerSpeech...)
	}

	if len(micSamples) > 0 && len(speakerSamples) > 0 {
		mixed := mixChannels(micSamples, speakerSamples)
		result := d.mixed.ProcessStream(mixed)
		if result.Confidence > 0.7 && len(result.SpeechSegments) > 0 {
			finalSpeech = finalSpeech[:0]
			for _, seg := range result.SpeechSegments {
				finalSpeech = append(finalSpeech, seg...)
			}
		}
	}

	return finalSpeech
}

// mixChannels blends mic/speaker samples with RMS-driven dynamic gain,
// matching mix_channels's three-tier (dominant-mic / dominant-speaker /
// balanced) gain table and hard clipping to [-1, 1].
func mixChannels(mic, speaker []float32) []float32 {
	maxLen := len(mic)
	if len(speaker) > maxLen {
		maxLen = len(speaker)
	}

	micRMS := rmsEnergy(mic)
	speakerRMS := rmsEnergy(speaker)

	var micGain, speakerGain float32
	switch {
	case micRMS > speakerRMS*2.0:
		micGain, speakerGain = 0.8, 0.4
	case speakerRMS > micRMS*2.0:
		micGain, speakerGain = 0.4, 0.8
	default:
		micGain, speakerGain = 0.6, 0.7
	}

	out := make([]float32, maxLen)
	for i := 0; i < maxLen; i++ {
		var m, s float32
		if i < len(mic) {
			m = mic[i]
		}
		if i < len(speaker) {
			s = speaker[i]
		}
		mixed := m*micGain + s*speakerGain
		if mixed > 1.0 {
			mixed = 1.0
		} else if mixed < -1.0 {
			mixed = -1.0
		}
		out[i] = mixed
	}
	return out
}

// Reset clears all three underlying VAD processors.
func (d *Dual) Reset() {
	d.mic.Reset()
	d.speaker.Reset()
	d.mixed.Reset()
}

// Statistics returns a snapshot of all three processors.
func (d *Dual) Statistics() DualStatistics {
	return DualStatistics{Mic: d.mic.Statistics(), Speaker: d.speaker.Statistics(), Mixed: d.mixed.Statistics()}
}
