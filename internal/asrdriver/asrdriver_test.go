package asrdriver

import (
	"context"
	"testing"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/asrengine"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/autoerr"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/chunker"
)

// fakeSession is a scripted asrengine.Session used to drive the retry and
// confidence-gating paths without a real gRPC connection.
type fakeSession struct {
	responses []asrengine.InferResult
	errs      []error
	calls     int
}

func (f *fakeSession) Infer(_ context.Context, _ asrengine.InferRequest) (asrengine.InferResult, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var resp asrengine.InferResult
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return resp, err
}

func (f *fakeSession) Close() error { return nil }

func testChunk() *chunker.Chunk {
	return &chunker.Chunk{
		Samples:  make([]float32, 160),
		Metadata: chunker.Metadata{ChunkID: 1, BoundaryType: chunker.BoundaryTimeout},
	}
}

func TestTranscribeChunkSucceedsFirstTry(t *testing.T) {
	session := &fakeSession{responses: []asrengine.InferResult{{Text: "hello", Confidence: 0.9}}}
	d := New(DefaultConfig(), session, autoerr.New())

	result, err := d.TranscribeChunk(context.Background(), testChunk())
	if err != nil {
		t.Fatalf("TranscribeChunk() error = %v", err)
	}
	if result.Text != "hello" {
		t.Errorf("Text = %q, want hello", result.Text)
	}
	if result.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", result.RetryCount)
	}
}

func TestTranscribeChunkRetriesOnLowConfidence(t *testing.T) {
	session := &fakeSession{responses: []asrengine.InferResult{
		{Text: "garbled", Confidence: 0.1},
		{Text: "garbled", Confidence: 0.1},
		{Text: "clear", Confidence: 0.95},
	}}
	cfg := DefaultConfig()
	d := New(cfg, session, autoerr.New())

	result, err := d.TranscribeChunk(context.Background(), testChunk())
	if err != nil {
		t.Fatalf("TranscribeChunk() error = %v", err)
	}
	if result.Text != "clear" {
		t.Errorf("Text = %q, want clear", result.Text)
	}
	if result.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", result.RetryCount)
	}
	if session.calls != 3 {
		t.Errorf("calls = %d, want 3", session.calls)
	}
}

func TestTranscribeChunkExhaustsRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	session := &fakeSession{responses: []asrengine.InferResult{
		{Text: "a", Confidence: 0.0},
		{Text: "a", Confidence: 0.0},
		{Text: "a", Confidence: 0.0},
	}}
	d := New(cfg, session, autoerr.New())

	_, err := d.TranscribeChunk(context.Background(), testChunk())
	if err == nil {
		t.Fatal("expected an error after exhausting all retries")
	}
	if session.calls != 3 { // initial + 2 retries
		t.Errorf("calls = %d, want 3", session.calls)
	}
}

func TestTranscribeChunkContextUsedAfterFirstSuccess(t *testing.T) {
	session := &fakeSession{responses: []asrengine.InferResult{
		{Text: "first", Confidence: 0.9},
		{Text: "second", Confidence: 0.9},
	}}
	d := New(DefaultConfig(), session, autoerr.New())

	r1, err := d.TranscribeChunk(context.Background(), testChunk())
	if err != nil {
		t.Fatalf("first TranscribeChunk() error = %v", err)
	}
	if r1.HasContext {
		t.Error("first chunk should have no prior text context")
	}

	r2, err := d.TranscribeChunk(context.Background(), testChunk())
	if err != nil {
		t.Fatalf("second TranscribeChunk() error = %v", err)
	}
	if !r2.HasContext {
		t.Error("second chunk should see the first chunk's text as context")
	}
}

func TestResetContextClearsAudioAndText(t *testing.T) {
	session := &fakeSession{responses: []asrengine.InferResult{{Text: "x", Confidence: 0.9}}}
	d := New(DefaultConfig(), session, autoerr.New())
	_, _ = d.TranscribeChunk(context.Background(), testChunk())

	d.ResetContext()
	if got := d.context.textContext(); got != "" {
		t.Errorf("textContext() after ResetContext() = %q, want empty", got)
	}
}

func TestStatisticsAccumulateAcrossCalls(t *testing.T) {
	session := &fakeSession{responses: []asrengine.InferResult{
		{Text: "a", Confidence: 0.9},
		{Text: "b", Confidence: 0.9},
	}}
	d := New(DefaultConfig(), session, autoerr.New())
	_, _ = d.TranscribeChunk(context.Background(), testChunk())
	_, _ = d.TranscribeChunk(context.Background(), testChunk())

	stats := d.Statistics()
	if stats.TotalTranscriptions != 2 {
		t.Errorf("TotalTranscriptions = %d, want 2", stats.TotalTranscriptions)
	}
}

func TestTemperatureSchedulerCapsAtMax(t *testing.T) {
	s := &temperatureScheduler{base: 0, increment: 0.5, max: 1.0}
	s.next() // 0.5
	s.next() // 1.0
	got := s.next()
	if got != 1.0 {
		t.Errorf("current() = %f, want capped at 1.0", got)
	}
}

func TestTranscribeChunkTimesOut(t *testing.T) {
	session := &fakeSession{responses: []asrengine.InferResult{{Text: "x", Confidence: 0.1}}}
	cfg := DefaultConfig()
	cfg.MaxProcessingTime = 0
	d := New(cfg, session, autoerr.New())

	_, err := d.TranscribeChunk(context.Background(), testChunk())
	if err == nil {
		t.Fatal("expected a timeout error with MaxProcessingTime=0")
	}
}
