// Package contextmgr is the central orchestrator: it owns the two
// symmetric per-source (microphone/speaker) pipelines — managed
// channel -> dual-channel VAD/chunker -> ASR driver — and fans out
// their results as a single event stream. Grounded on
// original_source/.../context_manager.rs's
// StreamingTranscriptionContextManager, restructured around
// internal/orchestrator/orchestrator.go's goroutine-per-source shape
// using golang.org/x/sync/errgroup for coordinated cancellation.
package contextmgr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/asrdriver"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/asrengine"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/autoerr"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/channel"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/chunker"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/vad"
)

// Config mirrors ContextManagerConfig's defaults.
type Config struct {
	SampleRate          int
	BufferSizeMs        int
	MaxContextDurationS int
	MinChunkSizeMs      int
	MaxChunkSizeMs      int
	ChunkTimeout        time.Duration
	AutoModelManagement bool
	PreferredModel      string
}

func DefaultConfig() Config {
	return Config{
		SampleRate:          16000,
		BufferSizeMs:        100,
		MaxContextDurationS: 300,
		MinChunkSizeMs:      1000,
		MaxChunkSizeMs:      30000,
		ChunkTimeout:        10 * time.Second,
		AutoModelManagement: true,
		PreferredModel:      "base",
	}
}

// EventKind is a closed tagged union of context-manager events,
// matching ContextManagerEvent.
type EventKind int

const (
	EventTranscriptionReady EventKind = iota
	EventAudioSourceChanged
	EventModelChanged
	EventProcessingError
	EventStatusUpdate
)

// TranscriptionMetadata carries pipeline provenance for one result.
type TranscriptionMetadata struct {
	AudioSamples        int
	ChunkBoundary       chunker.BoundaryType
	ProcessingChain     []string
	TotalLatencyMs      int64
	AudioReceivedAt     time.Time
	TranscriptionDoneAt time.Time
}

// EnhancedResult wraps an asrdriver.Result with source/ordering metadata.
type EnhancedResult struct {
	Transcription asrdriver.Result
	Source        string
	SequenceID    uint64
	Metadata      TranscriptionMetadata
}

// Event is the single struct carrying every event kind's payload,
// following the same tagged-struct pattern as autoerr.Error.
type Event struct {
	Kind EventKind

	Transcription *EnhancedResult

	SourceChanged string
	SourceActive  bool

	OldModel string
	NewModel string

	ErrSource      string
	ErrMessage     string
	ErrRecoverable bool

	Status *Status
}

// AudioSourceStatus reports one source's liveness.
type AudioSourceStatus struct {
	Name             string
	IsActive         bool
	SamplesProcessed uint64
	ChannelHealth    channel.State
}

// ProcessingStats mirrors ProcessingStats from context_manager.rs.
type ProcessingStats struct {
	TotalTranscriptions uint64
	AverageLatencyMs    float64
	ChunksProcessed     uint64
	ContextHitRate      float64
	ErrorRate           float64
}

// Status is a full snapshot, matching ContextManagerStatus.
type Status struct {
	IsActive     bool
	CurrentModel string
	AudioSources []AudioSourceStatus
	Processing   ProcessingStats
	ErrorCount   uint64
	UptimeMs     int64
}

// source bundles one input pipeline's channel, chunker, and driver.
type source struct {
	name             string
	ch               *channel.Managed[[]float32]
	chnk             *chunker.Chunker
	driver           *asrdriver.Driver
	samplesProcessed atomic.Uint64
	mu               sync.Mutex
}

// Manager is the Context Manager (C8): owns both source pipelines,
// the shared ASR engine connection, and the event fan-out.
type Manager struct {
	cfg        Config
	engine     asrengine.Engine
	errHandler *autoerr.Handler

	mic     *source
	speaker *source

	// mixed is the dual-channel/mixed-VAD pipeline (spec §4.4's Dual-Channel
	// Wrapper, owned here per §4.8): its chunker/driver transcribe whichever
	// audio dual.ProcessDualChannel selects — the per-channel concatenation,
	// or the mixed-down VAD's own segments when it reports confidence > 0.7.
	mixed *source
	dual  *vad.Dual

	dualMu      sync.Mutex
	lastMic     []float32
	lastSpeaker []float32

	events *channel.Managed[Event]

	mu           sync.Mutex
	isActive     bool
	currentModel string
	startTime    time.Time
	seq          atomic.Uint64

	statsMu sync.Mutex
	stats   ProcessingStats

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New constructs a Manager with both source channels and the dual-channel
// VAD; the per-source chunkers and ASR drivers are created by Start. When
// AutoModelManagement is set it also tries to load the preferred model;
// a failure there is not returned here, Start reports it.
func New(cfg Config, engine asrengine.Engine, errHandler *autoerr.Handler) (*Manager, error) {
	m := &Manager{
		cfg:        cfg,
		engine:     engine,
		errHandler: errHandler,
		events:     channel.New[Event](1000, "contextmgr-events", errHandler),
		startTime:  time.Now(),
	}

	m.mic = &source{name: "microphone", ch: channel.New[[]float32](1000, "microphone", errHandler)}
	m.speaker = &source{name: "speaker", ch: channel.New[[]float32](1000, "speaker", errHandler)}
	m.mixed = &source{name: "mixed"}
	m.dual = vad.NewDual(cfg.SampleRate, errHandler)

	if cfg.AutoModelManagement {
		_ = m.ensureModelLoaded(context.Background())
	}

	return m, nil
}

// Start loads the preferred model (if configured) and launches the two
// per-source processing goroutines under an errgroup.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.isActive {
		m.mu.Unlock()
		return fmt.Errorf("context manager is already active")
	}
	m.mu.Unlock()

	if m.cfg.AutoModelManagement {
		if err := m.ensureModelLoaded(ctx); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	m.cancel = cancel
	m.group = g

	if err := m.attachDriver(gctx, m.mic); err != nil {
		cancel()
		return fmt.Errorf("attach microphone driver: %w", err)
	}
	if err := m.attachDriver(gctx, m.speaker); err != nil {
		cancel()
		return fmt.Errorf("attach speaker driver: %w", err)
	}
	if err := m.attachDriver(gctx, m.mixed); err != nil {
		cancel()
		return fmt.Errorf("attach mixed driver: %w", err)
	}

	g.Go(func() error { return m.processSource(gctx, m.mic) })
	g.Go(func() error { return m.processSource(gctx, m.speaker) })

	m.mu.Lock()
	m.isActive = true
	m.mu.Unlock()

	m.events.Send(Event{Kind: EventStatusUpdate, Status: ptr(m.Status())})
	return nil
}

func ptr[T any](v T) *T { return &v }

// attachDriver creates a fresh inference session and chunker for a source.
func (m *Manager) attachDriver(ctx context.Context, s *source) error {
	session, err := m.engine.CreateSession(ctx, m.currentModel)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.chnk = chunker.New(chunker.Config{
		MinChunkDurationMs:          m.cfg.MinChunkSizeMs,
		MaxChunkDurationMs:          m.cfg.MaxChunkSizeMs,
		TargetChunkDurationMs:       (m.cfg.MinChunkSizeMs + m.cfg.MaxChunkSizeMs) / 2,
		SampleRate:                  m.cfg.SampleRate,
		OverlapDurationMs:           500,
		SilenceThreshold:            0.001,
		BoundaryConfidenceThreshold: 0.8,
		ForceChunkOnSilenceMs:       8000,
		ContextPreservationEnabled:  true,
	}, m.errHandler)
	s.driver = asrdriver.New(asrdriver.Config{
		SampleRate:            m.cfg.SampleRate,
		MaxContextSamples:     m.cfg.SampleRate * m.cfg.MaxContextDurationS,
		ContextOverlapSamples: m.cfg.SampleRate / 10,
		MaxRetries:            3,
		BaseTemperature:       0.0,
		TemperatureIncrement:  0.2,
		MaxTemperature:        1.0,
		Language:              "en",
		EnableTimestamps:      true,
		ConfidenceThreshold:   0.3,
		MaxProcessingTime:     m.cfg.ChunkTimeout,
	}, session, m.errHandler)
	s.mu.Unlock()
	return nil
}

// Stop cancels both pipeline goroutines and waits for them to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.isActive {
		m.mu.Unlock()
		return nil
	}
	m.isActive = false
	cancel := m.cancel
	g := m.group
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if g != nil {
		_ = g.Wait()
	}

	m.mic.driver.ResetContext()
	m.speaker.driver.ResetContext()
	m.mixed.driver.ResetContext()

	m.events.Send(Event{Kind: EventStatusUpdate, Status: ptr(m.Status())})
	return nil
}

func (m *Manager) ensureModelLoaded(ctx context.Context) error {
	m.mu.Lock()
	current := m.currentModel
	m.mu.Unlock()
	if current != "" {
		return nil
	}

	models, err := m.engine.DiscoverModels(ctx)
	if err != nil {
		return err
	}
	var found bool
	for _, mi := range models {
		if mi.ID == m.cfg.PreferredModel {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("preferred model %q not found", m.cfg.PreferredModel)
	}

	if err := m.engine.Load(ctx, m.cfg.PreferredModel); err != nil {
		return err
	}

	m.mu.Lock()
	old := m.currentModel
	m.currentModel = m.cfg.PreferredModel
	m.mu.Unlock()

	m.events.Send(Event{Kind: EventModelChanged, OldModel: old, NewModel: m.cfg.PreferredModel})
	return nil
}

// processSource drains one source's channel, chunking and transcribing
// each burst of samples, until ctx is cancelled.
func (m *Manager) processSource(ctx context.Context, s *source) error {
	rx, err := s.ch.Subscribe()
	if err != nil {
		return err
	}
	recordingStart := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case samples, ok := <-rx:
			if !ok {
				return nil
			}
			m.handleSamples(ctx, s, samples, recordingStart)
		}
	}
}

func (m *Manager) handleSamples(ctx context.Context, s *source, samples []float32, recordingStart time.Time) {
	receivedAt := time.Now()
	s.samplesProcessed.Add(uint64(len(samples)))

	m.feedDualChannel(ctx, s, samples, receivedAt)

	s.mu.Lock()
	chnk := s.chnk
	driver := s.driver
	s.mu.Unlock()

	m.runChunkerDriver(ctx, s.name, chnk, driver, samples, recordingStart, receivedAt)
}

// feedDualChannel pairs this source's latest samples with the other
// source's most recently received buffer and runs both through the
// dual/mixed VAD (spec §4.4), feeding whichever audio it selects into the
// mixed pipeline's own chunker+driver. This is the Context Manager's own
// copy of the mixed-down VAD referenced in spec §4.8.
func (m *Manager) feedDualChannel(ctx context.Context, s *source, samples []float32, receivedAt time.Time) {
	m.dualMu.Lock()
	if s == m.mic {
		m.lastMic = samples
	} else {
		m.lastSpeaker = samples
	}
	micBuf, speakerBuf := m.lastMic, m.lastSpeaker
	m.dualMu.Unlock()

	finalSpeech := m.dual.ProcessDualChannel(micBuf, speakerBuf)
	if len(finalSpeech) == 0 {
		return
	}

	m.mixed.mu.Lock()
	chnk := m.mixed.chnk
	driver := m.mixed.driver
	m.mixed.mu.Unlock()
	if chnk == nil || driver == nil {
		return
	}

	m.mixed.samplesProcessed.Add(uint64(len(finalSpeech)))
	m.runChunkerDriver(ctx, m.mixed.name, chnk, driver, finalSpeech, m.startTime, receivedAt)
}

// runChunkerDriver chunks samples and, once a boundary fires, transcribes
// and emits the result under sourceName. Shared by the per-channel
// pipelines and the mixed/dual-VAD pipeline.
func (m *Manager) runChunkerDriver(ctx context.Context, sourceName string, chnk *chunker.Chunker, driver *asrdriver.Driver, samples []float32, recordingStart, receivedAt time.Time) {
	chunk, err := chnk.ProcessAudio(samples, recordingStart)
	if err != nil {
		m.recordProcessingError(sourceName, err)
		return
	}
	if chunk == nil {
		return
	}

	result, err := driver.TranscribeChunk(ctx, chunk)
	completedAt := time.Now()
	if err != nil {
		m.recordProcessingError(sourceName, err)
		return
	}

	if strings.TrimSpace(result.Text) == "" {
		return
	}

	seq := m.seq.Add(1)
	m.recordSuccess(result, completedAt.Sub(receivedAt))

	m.events.Send(Event{
		Kind: EventTranscriptionReady,
		Transcription: &EnhancedResult{
			Transcription: result,
			Source:        sourceName,
			SequenceID:    seq,
			Metadata: TranscriptionMetadata{
				AudioSamples:        len(samples),
				ChunkBoundary:       chunk.Metadata.BoundaryType,
				ProcessingChain:     []string{"streaming_vad", "intelligent_chunking", "asr_driver"},
				TotalLatencyMs:      completedAt.Sub(receivedAt).Milliseconds(),
				AudioReceivedAt:     receivedAt,
				TranscriptionDoneAt: completedAt,
			},
		},
	})
}

func (m *Manager) recordSuccess(result asrdriver.Result, latency time.Duration) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats.TotalTranscriptions++
	m.stats.ChunksProcessed++
	n := float64(m.stats.TotalTranscriptions)
	m.stats.AverageLatencyMs = (m.stats.AverageLatencyMs*(n-1) + float64(latency.Milliseconds())) / n
	hit := 0.0
	if result.HasContext {
		hit = 1.0
	}
	m.stats.ContextHitRate = (m.stats.ContextHitRate*(n-1) + hit) / n
}

func (m *Manager) recordProcessingError(sourceName string, err error) {
	m.statsMu.Lock()
	m.stats.ChunksProcessed++
	n := float64(m.stats.ChunksProcessed)
	m.stats.ErrorRate = (m.stats.ErrorRate*(n-1) + 1.0) / n
	m.statsMu.Unlock()

	ctx := autoerr.NewContext("context_manager", "process_"+sourceName)
	action := autoerr.Action{}
	if aerr, ok := err.(*autoerr.Error); ok {
		action = m.errHandler.Handle(aerr, ctx)
	} else {
		action = m.errHandler.Handle(autoerr.NewProcessing(err.Error(), sourceName), ctx)
	}
	recoverable := action.Kind == autoerr.ActionRetry || action.Kind == autoerr.ActionBackoff

	m.events.Send(Event{Kind: EventProcessingError, ErrSource: sourceName, ErrMessage: err.Error(), ErrRecoverable: recoverable})
}

// MicChannel exposes the microphone input channel for capture wiring.
func (m *Manager) MicChannel() *channel.Managed[[]float32] { return m.mic.ch }

// SpeakerChannel exposes the speaker/loopback input channel.
func (m *Manager) SpeakerChannel() *channel.Managed[[]float32] { return m.speaker.ch }

// Subscribe returns a receiver for the unified event stream.
func (m *Manager) Subscribe() (<-chan Event, error) { return m.events.Subscribe() }

// ChangeModel stops processing, switches models, and restarts if active.
func (m *Manager) ChangeModel(ctx context.Context, modelName string) error {
	m.mu.Lock()
	wasActive := m.isActive
	m.mu.Unlock()

	if wasActive {
		if err := m.Stop(); err != nil {
			return err
		}
	}

	if err := m.engine.Load(ctx, modelName); err != nil {
		return err
	}

	m.mu.Lock()
	old := m.currentModel
	m.currentModel = modelName
	m.mu.Unlock()

	m.events.Send(Event{Kind: EventModelChanged, OldModel: old, NewModel: modelName})

	if wasActive {
		return m.Start(ctx)
	}
	return nil
}

// ResetContext clears both drivers' and chunkers' accumulated state and
// zeroes statistics.
func (m *Manager) ResetContext() {
	m.mic.driver.ResetContext()
	m.mic.chnk.Reset()
	m.speaker.driver.ResetContext()
	m.speaker.chnk.Reset()
	if m.mixed.driver != nil {
		m.mixed.driver.ResetContext()
	}
	if m.mixed.chnk != nil {
		m.mixed.chnk.Reset()
	}
	m.dual.Reset()

	m.dualMu.Lock()
	m.lastMic = nil
	m.lastSpeaker = nil
	m.dualMu.Unlock()

	m.statsMu.Lock()
	m.stats = ProcessingStats{}
	m.statsMu.Unlock()
}

// Status returns a full snapshot for StatusUpdate events / the HTTP API.
func (m *Manager) Status() Status {
	m.mu.Lock()
	isActive := m.isActive
	currentModel := m.currentModel
	m.mu.Unlock()

	m.statsMu.Lock()
	stats := m.stats
	m.statsMu.Unlock()

	return Status{
		IsActive:     isActive,
		CurrentModel: currentModel,
		AudioSources: []AudioSourceStatus{
			{Name: m.mic.name, IsActive: m.mic.ch.IsHealthy(), SamplesProcessed: m.mic.samplesProcessed.Load(), ChannelHealth: m.mic.ch.Health().State},
			{Name: m.speaker.name, IsActive: m.speaker.ch.IsHealthy(), SamplesProcessed: m.speaker.samplesProcessed.Load(), ChannelHealth: m.speaker.ch.Health().State},
		},
		Processing: stats,
		ErrorCount: uint64(m.errHandler.Statistics().TotalErrors),
		UptimeMs:   time.Since(m.startTime).Milliseconds(),
	}
}
