package vad

import (
	"testing"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/autoerr"
)

func TestProcessDualChannelMicOnly(t *testing.T) {
	d := NewDual(16000, autoerr.New())
	mic := tone(480, 0.5)

	out := d.ProcessDualChannel(mic, nil)
	if len(out) == 0 {
		t.Error("loud mic-only input should produce some speech output")
	}
}

func TestProcessDualChannelBothEmpty(t *testing.T) {
	d := NewDual(16000, autoerr.New())
	out := d.ProcessDualChannel(nil, nil)
	if len(out) != 0 {
		t.Errorf("ProcessDualChannel(nil, nil) = %d samples, want 0", len(out))
	}
}

func TestDualResetClearsAllProcessors(t *testing.T) {
	d := NewDual(16000, autoerr.New())
	d.ProcessDualChannel(tone(480, 0.5), tone(480, 0.5))
	d.Reset()

	stats := d.Statistics()
	if stats.Mic.IsCurrentlySpeaking || stats.Speaker.IsCurrentlySpeaking || stats.Mixed.IsCurrentlySpeaking {
		t.Error("Reset() should clear speaking state on all three processors")
	}
}

func TestMixChannelsClipsToUnitRange(t *testing.T) {
	mic := []float32{1.0, 1.0, 1.0}
	speaker := []float32{1.0, 1.0, 1.0}

	out := mixChannels(mic, speaker)
	for i, v := range out {
		if v > 1.0 || v < -1.0 {
			t.Errorf("out[%d] = %f, want within [-1, 1]", i, v)
		}
	}
}

func TestMixChannelsDominantMicGetsHigherGain(t *testing.T) {
	loud := make([]float32, 100)
	quiet := make([]float32, 100)
	for i := range loud {
		loud[i] = 0.5
		quiet[i] = 0.01
	}

	out := mixChannels(loud, quiet)
	// mic RMS >> speaker RMS, so mic's 0.8 gain should dominate the mix.
	if out[0] < 0.3 {
		t.Errorf("out[0] = %f, want dominant mic contribution", out[0])
	}
}

func TestMixChannelsHandlesUnequalLengths(t *testing.T) {
	mic := []float32{0.1, 0.2, 0.3}
	speaker := []float32{0.1}

	out := mixChannels(mic, speaker)
	if len(out) != 3 {
		t.Errorf("len(out) = %d, want 3 (max of input lengths)", len(out))
	}
}
