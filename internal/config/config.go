// Package config holds the pipeline's core configuration surface. It is
// intentionally I/O-free — no env vars, flags, or files — so the core
// module stays embeddable; cmd/server populates a Config from the
// process environment using the teacher's own getEnv* helper style.
package config

import (
	"fmt"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/asrdriver"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/chunker"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/contextmgr"
)

// Config is the plain, validated configuration surface for the
// streaming transcription core: sample rate plus the three component
// configs it composes (VAD is derived per-chunker/dual-channel use, so
// it is not duplicated here).
type Config struct {
	SampleRate         int
	CaptureSystemAudio bool
	Chunker            chunker.Config
	ASRDriver          asrdriver.Config
	ContextManager     contextmgr.Config
}

// Default returns the baseline configuration, matching each component's
// own DefaultConfig() at the shared 16kHz sample rate.
func Default() Config {
	return Config{
		SampleRate:         16000,
		CaptureSystemAudio: true,
		Chunker:            chunker.DefaultConfig(),
		ASRDriver:          asrdriver.DefaultConfig(),
		ContextManager:     contextmgr.DefaultConfig(),
	}
}

// Validate checks internal consistency across the composed configs,
// matching spec §6's configuration surface invariants.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Chunker.MinChunkDurationMs <= 0 || c.Chunker.MaxChunkDurationMs <= c.Chunker.MinChunkDurationMs {
		return fmt.Errorf("chunker min/max duration invalid: min=%d max=%d", c.Chunker.MinChunkDurationMs, c.Chunker.MaxChunkDurationMs)
	}
	if c.ASRDriver.ConfidenceThreshold < 0 || c.ASRDriver.ConfidenceThreshold > 1 {
		return fmt.Errorf("asr confidence threshold must be in [0,1], got %f", c.ASRDriver.ConfidenceThreshold)
	}
	if c.ContextManager.SampleRate != c.SampleRate {
		return fmt.Errorf("context manager sample rate %d does not match top-level sample rate %d", c.ContextManager.SampleRate, c.SampleRate)
	}
	return nil
}
