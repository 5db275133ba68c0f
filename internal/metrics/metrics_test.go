package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/autoerr"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/buffer"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/channel"
)

func TestRegistryRecorder(t *testing.T) {
	r := New()

	r.RecordOperation("transcribe", "success")
	r.RecordDuration("transcribe", 0.42)
	r.RecordError("transcribe", "timeout")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "good_listener_operations_total")
	assert.Contains(t, body, "good_listener_errors_total")
}

func TestRegistryObservers(t *testing.T) {
	r := New()

	r.ObserveBuffer("mic-buffer", buffer.Metrics{Size: 10, Capacity: 100, OverflowEvents: 2})
	r.ObserveChannel("mic-channel", channel.HealthMetrics{State: channel.Active, IsHealthy: true})
	r.ObserveVAD("microphone", true, 0.004)
	r.ObserveChunk("microphone", "sentence", 2500)
	r.ObserveTranscription("microphone", 1, 0.92)
	r.ObserveAutoerr("vad", autoerr.KindVadProcessing)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "good_listener_buffer_length")
	assert.Contains(t, body, "good_listener_vad_speech_frames_total")
	assert.Contains(t, body, "good_listener_chunker_chunks_total")
	assert.Contains(t, body, "good_listener_asr_confidence")
	assert.Contains(t, body, "good_listener_pipeline_errors_total")
}
