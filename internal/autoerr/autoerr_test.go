package autoerr

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Kind: KindDevice, Message: "mic failed", Cause: cause}

	if got := err.Error(); got == "" {
		t.Fatal("Error() returned empty string")
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap() should expose the cause via errors.Is")
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		err  *Error
		want codes.Code
	}{
		{NewTimeout(100, "slow"), codes.DeadlineExceeded},
		{NewResourceExhaustion("memory", "oom"), codes.ResourceExhausted},
		{NewConfiguration("sample_rate", "bad"), codes.InvalidArgument},
		{NewChannel("closed", ChannelClosed), codes.Unavailable},
		{NewChannel("full", ChannelFull), codes.Internal},
		{NewDevice("unplugged", true), codes.Unavailable},
		{NewDevice("fried", false), codes.Internal},
		{NewProcessing("oops", "chunker"), codes.Unknown},
	}

	for _, tt := range tests {
		if got := tt.err.GRPCCode(); got != tt.want {
			t.Errorf("GRPCCode() for %v = %v, want %v", tt.err.Kind, got, tt.want)
		}
	}
}

func TestHandleRetryEscalatesAfterMaxAttempts(t *testing.T) {
	h := New()
	ctx := NewContext("device", "capture")

	var action Action
	for i := 0; i < 4; i++ {
		action = h.Handle(NewDevice("glitch", true), ctx)
	}

	if action.Kind != ActionEscalate {
		t.Errorf("Handle() after exceeding MaxAttempts = %v, want ActionEscalate", action.Kind)
	}
}

func TestHandleGracefulStrategyContinues(t *testing.T) {
	h := New()
	ctx := NewContext("buffer", "chunker")

	action := h.Handle(NewBuffer("overflow", "ring"), ctx)
	if action.Kind != ActionContinue {
		t.Errorf("Handle() for buffer = %v, want ActionContinue", action.Kind)
	}
	if !action.FallbackEnabled {
		t.Error("buffer strategy should enable fallback")
	}
}

func TestHandleUnknownComponentDefaultsToGraceful(t *testing.T) {
	h := New()
	ctx := NewContext("mystery", "op")

	action := h.Handle(NewSystem("weird", 0, false), ctx)
	if action.Kind != ActionContinue {
		t.Errorf("Handle() for unknown component = %v, want ActionContinue", action.Kind)
	}
}

func TestErrorCountAndReset(t *testing.T) {
	h := New()
	ctx := NewContext("channel", "fanout")

	h.Handle(NewChannel("full", ChannelFull), ctx)
	h.Handle(NewChannel("full", ChannelFull), ctx)

	if got := h.ErrorCount("channel"); got != 2 {
		t.Errorf("ErrorCount() = %d, want 2", got)
	}

	h.ResetErrorCount("channel")
	if got := h.ErrorCount("channel"); got != 0 {
		t.Errorf("ErrorCount() after reset = %d, want 0", got)
	}
}

func TestCallbacksInvokedOnHandle(t *testing.T) {
	h := New()
	var seen *Error
	h.AddCallback(func(err *Error, _ Context) { seen = err })

	want := NewTimeout(50, "slow")
	h.Handle(want, NewContext("device", "op"))

	if seen != want {
		t.Error("callback was not invoked with the handled error")
	}
}

func TestStatisticsAggregatesComponentCounts(t *testing.T) {
	h := New()
	h.Handle(NewDevice("a", true), NewContext("device", "op"))
	h.Handle(NewBuffer("b", "ring"), NewContext("buffer", "op"))

	stats := h.Statistics()
	if stats.TotalErrors != 2 {
		t.Errorf("TotalErrors = %d, want 2", stats.TotalErrors)
	}
	if stats.ComponentErrors["device"] != 1 || stats.ComponentErrors["buffer"] != 1 {
		t.Errorf("ComponentErrors = %v, want device=1 buffer=1", stats.ComponentErrors)
	}
}
