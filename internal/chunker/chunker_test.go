package chunker

import (
	"testing"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/autoerr"
)

func silence(n int) []float32 { return make([]float32, n) }

func TestProcessAudioEmptyReturnsNoChunk(t *testing.T) {
	c := New(DefaultConfig(), autoerr.New())
	chunk, err := c.ProcessAudio(nil, time.Now())
	if err != nil {
		t.Fatalf("ProcessAudio() error = %v", err)
	}
	if chunk != nil {
		t.Error("empty input should never produce a chunk")
	}
}

func TestProcessAudioBelowMinDurationNeverChunks(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg, autoerr.New())
	recordingStart := time.Now()

	chunk, _ := c.ProcessAudio(silence(160), recordingStart)
	if chunk != nil {
		t.Error("a short burst below MinChunkDurationMs should not force a chunk")
	}
}

func TestProcessAudioMaxDurationForcesChunk(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg, autoerr.New())
	recordingStart := time.Now()

	fakeNow := recordingStart
	c.nowFn = func() time.Time { return fakeNow }

	chunk, err := c.ProcessAudio(silence(160), recordingStart)
	if err != nil {
		t.Fatalf("ProcessAudio() error = %v", err)
	}
	if chunk != nil {
		t.Fatal("first call should not yet produce a chunk")
	}

	fakeNow = recordingStart.Add(time.Duration(cfg.MaxChunkDurationMs+1) * time.Millisecond)
	chunk, err = c.ProcessAudio(silence(160), recordingStart)
	if err != nil {
		t.Fatalf("ProcessAudio() error = %v", err)
	}
	if chunk == nil {
		t.Fatal("exceeding MaxChunkDurationMs should force a chunk")
	}
	if chunk.Metadata.BoundaryType != BoundaryMaxDuration {
		t.Errorf("BoundaryType = %v, want BoundaryMaxDuration", chunk.Metadata.BoundaryType)
	}
}

func TestForceChunkFlushesBuffer(t *testing.T) {
	c := New(DefaultConfig(), autoerr.New())
	recordingStart := time.Now()
	_, _ = c.ProcessAudio(silence(160), recordingStart)

	chunk := c.ForceChunk(recordingStart)
	if chunk == nil {
		t.Fatal("ForceChunk() should flush buffered samples")
	}
	if chunk.Metadata.BoundaryType != BoundaryManual {
		t.Errorf("BoundaryType = %v, want BoundaryManual", chunk.Metadata.BoundaryType)
	}
}

func TestForceChunkOnEmptyBufferReturnsNil(t *testing.T) {
	c := New(DefaultConfig(), autoerr.New())
	if got := c.ForceChunk(time.Now()); got != nil {
		t.Error("ForceChunk() on an empty buffer should return nil")
	}
}

func TestResetClearsChunkerAndVadState(t *testing.T) {
	c := New(DefaultConfig(), autoerr.New())
	_, _ = c.ProcessAudio(silence(160), time.Now())
	c.Reset()

	stats := c.Statistics()
	if stats.CurrentChunkSamples != 0 {
		t.Error("Reset() should clear the in-flight chunk buffer")
	}
	if stats.ContextBufferSize != 0 {
		t.Error("Reset() should clear the context ring")
	}
	if stats.VadStats.BufferSize != 0 {
		t.Error("Reset() should clear the VAD's buffered samples")
	}
}

func TestContextRingPreservesOverlap(t *testing.T) {
	ring := newContextRing(30000, 500, 16000)
	samples := make([]float32, 16000) // 1s of audio
	for i := range samples {
		samples[i] = float32(i)
	}
	ring.addSamples(samples)

	overlap := ring.contextForNewChunk()
	wantSamples := int(500.0 / 1000.0 * 16000)
	if len(overlap) != wantSamples {
		t.Errorf("len(overlap) = %d, want %d", len(overlap), wantSamples)
	}
	// overlap should be the trailing edge of what was stored.
	if overlap[len(overlap)-1] != samples[len(samples)-1] {
		t.Error("contextForNewChunk() should return the most recent samples")
	}
}

func TestContextRingCapsAtMaxSamples(t *testing.T) {
	ring := newContextRing(100, 50, 16000) // tiny max duration
	big := make([]float32, 16000)
	ring.addSamples(big)

	if ring.len() > ring.maxSamples {
		t.Errorf("len() = %d, want <= maxSamples %d", ring.len(), ring.maxSamples)
	}
}

func TestUpdateConfigResetsContextRing(t *testing.T) {
	c := New(DefaultConfig(), autoerr.New())
	_, _ = c.ProcessAudio(silence(4800), time.Now())

	newCfg := DefaultConfig()
	newCfg.MaxChunkDurationMs = 5000
	c.UpdateConfig(newCfg)

	if c.context.maxSamples != int(float64(5000)/1000.0*float64(newCfg.SampleRate)) {
		t.Error("UpdateConfig() should rebuild the context ring to the new bounds")
	}
}

func TestBoundaryTypeString(t *testing.T) {
	tests := map[BoundaryType]string{
		BoundarySentence:    "sentence_boundary",
		BoundaryPause:       "pause_boundary",
		BoundaryTimeout:     "timeout_boundary",
		BoundaryMaxDuration: "max_duration_boundary",
		BoundarySilence:     "silence_boundary",
		BoundaryManual:      "manual_boundary",
	}
	for b, want := range tests {
		if got := b.String(); got != want {
			t.Errorf("BoundaryType(%d).String() = %q, want %q", b, got, want)
		}
	}
}
