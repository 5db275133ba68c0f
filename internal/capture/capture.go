// Package capture implements C7, the capture stream: device
// enumeration/classification grounded on internal/audio/capture.go,
// and multi-format raw-byte staging + mono-f32 conversion grounded on
// original_source/.../core.rs's per-cpal::SampleFormat device
// callbacks.
package capture

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/channel"
)

// Source classifies a capture device per classifyDevice's keyword split.
type Source string

const (
	SourceUser   Source = "user"
	SourceSystem Source = "system"
)

// Chunk is one mono-f32 burst delivered from a device callback.
type Chunk struct {
	Samples   []float32
	DeviceID  string
	Source    Source
	Timestamp int64
}

// stagingRingSize is the byte capacity of the per-device staging ring
// between the malgo callback and the conversion step; sized generously
// above a typical ~20ms callback burst at 16kHz/32-bit stereo.
const stagingRingSize = 1 << 16

type deviceCapture struct {
	device   *malgo.Device
	ring     *ringbuffer.RingBuffer
	format   malgo.FormatType
	channels uint32
	stopOnce sync.Once
}

// Stream captures audio from enumerated devices and publishes mono-f32
// chunks onto per-source Managed channels, matching
// internal/audio/capture.go's Capturer but generalized to the pipeline's
// channel.Managed[[]float32] fan-out instead of a single output chan.
type Stream struct {
	ctx         *malgo.AllocatedContext
	mu          sync.Mutex
	devices     []*deviceCapture
	micChannel  *channel.Managed[[]float32]
	sysChannel  *channel.Managed[[]float32]
	sampleRate  uint32
	systemAudio bool
	running     bool
}

// New initializes the malgo audio context. mic/sys are the managed
// channels classified devices publish onto.
func New(sampleRate int, systemAudio bool, mic, sys *channel.Managed[[]float32]) (*Stream, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &Stream{
		ctx:         ctx,
		sampleRate:  uint32(sampleRate),
		systemAudio: systemAudio,
		micChannel:  mic,
		sysChannel:  sys,
	}, nil
}

// Start enumerates capture devices, classifies each, and begins
// streaming mono-f32 chunks from the ones that match.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	devices, err := s.ctx.Devices(malgo.Capture)
	if err != nil {
		return err
	}

	for _, info := range devices {
		source := classifyDevice(info.Name())
		if source == "" {
			continue
		}
		if source == SourceSystem && !s.systemAudio {
			continue
		}
		if err := s.startDevice(ctx, info, source); err != nil {
			slog.Warn("failed to start capture device", "device", info.Name(), "error", err)
			continue
		}
		slog.Info("started audio capture", "device", info.Name(), "source", string(source))
	}

	return nil
}

// classifyDevice assigns a device to user/system/neither by keyword
// match, matching internal/audio/capture.go's classifyDevice exactly.
func classifyDevice(name string) Source {
	systemKeywords := []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}
	for _, kw := range systemKeywords {
		if containsFold(name, kw) {
			return SourceSystem
		}
	}
	micKeywords := []string{"microphone", "input", "mic", "built-in"}
	for _, kw := range micKeywords {
		if containsFold(name, kw) {
			return SourceUser
		}
	}
	return ""
}

func (s *Stream) startDevice(ctx context.Context, info malgo.DeviceInfo, source Source) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = s.sampleRate
	deviceConfig.Capture.DeviceID = info.ID.Pointer()

	deviceID := info.Name()
	dc := &deviceCapture{
		ring:     ringbuffer.New(stagingRingSize),
		format:   deviceConfig.Capture.Format,
		channels: deviceConfig.Capture.Channels,
	}

	target := s.micChannel
	if source == SourceSystem {
		target = s.sysChannel
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSamples []byte, frameCount uint32) {
			if _, err := dc.ring.Write(pSamples); err != nil {
				slog.Debug("capture staging ring full, dropping bytes", "device", deviceID)
				return
			}

			n := dc.ring.Length()
			if n == 0 {
				return
			}
			raw := make([]byte, n)
			if _, err := dc.ring.Read(raw); err != nil {
				return
			}

			samples := toMonoF32(raw, dc.format, dc.channels)
			if len(samples) == 0 {
				return
			}

			if err := target.Send(samples); err != nil {
				slog.Debug("capture channel send failed", "device", deviceID, "error", err)
			}
		},
	}

	device, err := malgo.InitDevice(s.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return err
	}
	dc.device = device

	s.mu.Lock()
	s.devices = append(s.devices, dc)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		dc.stop()
	}()

	return nil
}

func (d *deviceCapture) stop() {
	d.stopOnce.Do(func() {
		if d.device.IsStarted() {
			_ = d.device.Stop()
		}
		d.device.Uninit()
	})
}

// Stop halts all active device captures.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		d.stop()
	}
	s.devices = nil
	s.running = false
}

// toMonoF32 converts interleaved raw bytes in the given malgo format
// and channel count into averaged mono float32 samples, matching
// core.rs's per-cpal::SampleFormat callback + audio_to_mono mixdown.
func toMonoF32(raw []byte, format malgo.FormatType, channels uint32) []float32 {
	switch format {
	case malgo.FormatF32:
		return mixToMono(bytesToF32(raw), channels)
	case malgo.FormatS16:
		return mixToMono(s16ToF32(raw), channels)
	case malgo.FormatS32:
		return mixToMono(s32ToF32(raw), channels)
	case malgo.FormatU8:
		return mixToMono(u8ToF32(raw), channels)
	default:
		return nil
	}
}

func mixToMono(samples []float32, channels uint32) []float32 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / int(channels)
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < int(channels); c++ {
			sum += samples[i*int(channels)+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func bytesToF32(b []byte) []float32 {
	if len(b)%4 != 0 {
		b = b[:len(b)-len(b)%4]
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func s16ToF32(b []byte) []float32 {
	if len(b)%2 != 0 {
		b = b[:len(b)-len(b)%2]
	}
	out := make([]float32, len(b)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(b[i*2:]))
		out[i] = float32(v) / 32768.0
	}
	return out
}

func s32ToF32(b []byte) []float32 {
	if len(b)%4 != 0 {
		b = b[:len(b)-len(b)%4]
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		v := int32(binary.LittleEndian.Uint32(b[i*4:]))
		out[i] = float32(v) / 2147483648.0
	}
	return out
}

func u8ToF32(b []byte) []float32 {
	out := make([]float32, len(b))
	for i, v := range b {
		out[i] = (float32(v) - 128.0) / 128.0
	}
	return out
}

func containsFold(s, substr string) bool {
	if len(substr) > len(s) {
		return false
	}
	for i := 0; i <= len(s)-len(substr); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			c1, c2 := s[i+j], substr[j]
			if c1 >= 'A' && c1 <= 'Z' {
				c1 += 'a' - 'A'
			}
			if c2 >= 'A' && c2 <= 'Z' {
				c2 += 'a' - 'A'
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
