package capture

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gen2brain/malgo"
)

func TestClassifyDeviceSystemKeywords(t *testing.T) {
	tests := []string{"BlackHole 2ch", "VB-Cable Output", "Loopback Audio", "Soundflower (2ch)"}
	for _, name := range tests {
		if got := classifyDevice(name); got != SourceSystem {
			t.Errorf("classifyDevice(%q) = %q, want system", name, got)
		}
	}
}

func TestClassifyDeviceUserKeywords(t *testing.T) {
	tests := []string{"Built-in Microphone", "USB Input Device", "MacBook Pro Microphone"}
	for _, name := range tests {
		if got := classifyDevice(name); got != SourceUser {
			t.Errorf("classifyDevice(%q) = %q, want user", name, got)
		}
	}
}

func TestClassifyDeviceUnknownReturnsEmpty(t *testing.T) {
	if got := classifyDevice("HDMI Output"); got != "" {
		t.Errorf("classifyDevice(unmatched) = %q, want empty", got)
	}
}

func TestContainsFoldCaseInsensitive(t *testing.T) {
	if !containsFold("BlackHole 2ch", "blackhole") {
		t.Error("containsFold should match case-insensitively")
	}
	if containsFold("short", "muchlongersubstring") {
		t.Error("containsFold should reject a substr longer than s")
	}
}

func TestBytesToF32RoundTrip(t *testing.T) {
	want := []float32{0.5, -0.25, 1.0}
	buf := make([]byte, 4*len(want))
	for i, v := range want {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}

	got := bytesToF32(buf)
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestS16ToF32Scales(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:], uint16(int16(16384)))  // ~0.5
	binary.LittleEndian.PutUint16(buf[2:], uint16(int16(-32768))) // -1.0

	got := s16ToF32(buf)
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if math.Abs(float64(got[0])-0.5) > 0.001 {
		t.Errorf("got[0] = %f, want ~0.5", got[0])
	}
	if got[1] != -1.0 {
		t.Errorf("got[1] = %f, want -1.0", got[1])
	}
}

func TestU8ToF32CentersAtZero(t *testing.T) {
	got := u8ToF32([]byte{128, 0, 255})
	if got[0] != 0 {
		t.Errorf("got[0] = %f, want 0 (midpoint)", got[0])
	}
	if got[1] != -1.0 {
		t.Errorf("got[1] = %f, want -1.0", got[1])
	}
}

func TestMixToMonoAveragesChannels(t *testing.T) {
	stereo := []float32{1.0, 0.0, 0.5, 0.5}
	got := mixToMono(stereo, 2)
	want := []float32{0.5, 0.5}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestMixToMonoPassthroughForMono(t *testing.T) {
	mono := []float32{0.1, 0.2, 0.3}
	got := mixToMono(mono, 1)
	if len(got) != len(mono) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(mono))
	}
}

func TestToMonoF32DispatchesByFormat(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(0.25))

	got := toMonoF32(buf, malgo.FormatF32, 1)
	if len(got) != 1 || got[0] != 0.25 {
		t.Errorf("toMonoF32(F32) = %v, want [0.25]", got)
	}

	if got := toMonoF32(buf, malgo.FormatType(99), 1); got != nil {
		t.Errorf("toMonoF32(unknown format) = %v, want nil", got)
	}
}
