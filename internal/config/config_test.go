package config

import "testing"

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.SampleRate)
	}
	if !cfg.CaptureSystemAudio {
		t.Error("CaptureSystemAudio should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() should validate cleanly, got: %v", err)
	}
}

func TestValidateRejectsBadSampleRate(t *testing.T) {
	cfg := Default()
	cfg.SampleRate = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject a zero sample rate")
	}
}

func TestValidateRejectsMismatchedContextManagerRate(t *testing.T) {
	cfg := Default()
	cfg.ContextManager.SampleRate = 8000
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject a mismatched context manager sample rate")
	}
}

func TestValidateRejectsBadChunkerBounds(t *testing.T) {
	cfg := Default()
	cfg.Chunker.MaxChunkDurationMs = cfg.Chunker.MinChunkDurationMs
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject max <= min chunk duration")
	}
}

func TestValidateRejectsBadConfidenceThreshold(t *testing.T) {
	cfg := Default()
	cfg.ASRDriver.ConfidenceThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject a confidence threshold outside [0,1]")
	}
}
