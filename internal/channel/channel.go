// Package channel provides a broadcast fan-out primitive with a buffered
// fallback and a health-driven recovery state machine, grounded on
// original_source/.../channel.rs and textured after the teacher's
// internal/resilience circuit breaker.
package channel

import (
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/autoerr"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/buffer"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/syncx"
)

// State is the channel's lifecycle state, a closed tagged enum per §9.
type State int

const (
	Initializing State = iota
	Active
	Recovering
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case Recovering:
		return "recovering"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// HealthMonitor tracks activity/error counters and decides when recovery
// may be attempted, matching original_source's HealthMonitor exactly
// (backoff = 2^min(attempts,10) * 1s, capped at 10 attempts).
type HealthMonitor struct {
	lastActivityMs   atomic.Int64
	errorCount       atomic.Uint32
	recoveryAttempts atomic.Uint32
	lastRecoveryMs   atomic.Int64
	healthy          atomic.Bool
	nowMs            func() int64
}

func newHealthMonitor(nowMs func() int64) *HealthMonitor {
	h := &HealthMonitor{nowMs: nowMs}
	h.lastActivityMs.Store(nowMs())
	h.healthy.Store(true)
	return h
}

// RecordActivity marks the channel alive and clears the error streak.
func (h *HealthMonitor) RecordActivity() {
	h.lastActivityMs.Store(h.nowMs())
	h.healthy.Store(true)
	h.errorCount.Store(0)
}

// RecordError increments the error streak, marking unhealthy at >= 3.
func (h *HealthMonitor) RecordError() {
	n := h.errorCount.Add(1)
	if n >= 3 {
		h.healthy.Store(false)
	}
}

// RecordRecoveryAttempt bumps the attempt counter and timestamp.
func (h *HealthMonitor) RecordRecoveryAttempt() {
	h.recoveryAttempts.Add(1)
	h.lastRecoveryMs.Store(h.nowMs())
}

// IsHealthy reports the current health flag.
func (h *HealthMonitor) IsHealthy() bool { return h.healthy.Load() }

// TimeSinceLastActivity returns elapsed time since the last recorded activity.
func (h *HealthMonitor) TimeSinceLastActivity() time.Duration {
	now := h.nowMs()
	last := h.lastActivityMs.Load()
	if now < last {
		return 0
	}
	return time.Duration(now-last) * time.Millisecond
}

// ShouldAttemptRecovery implements the bounded exponential backoff gate:
// the first attempt is allowed at once, each later one once at least
// 2^min(attempts,10) seconds have passed since the previous attempt.
func (h *HealthMonitor) ShouldAttemptRecovery() bool {
	attempts := h.recoveryAttempts.Load()
	if attempts > 10 {
		return false
	}
	if attempts == 0 {
		return true
	}
	backoffMs := int64(1000) << min32(attempts, 10)
	elapsed := h.nowMs() - h.lastRecoveryMs.Load()
	return elapsed >= backoffMs
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// HealthMetrics is a read-only snapshot of channel health.
type HealthMetrics struct {
	State                   State
	IsHealthy               bool
	ErrorCount              uint32
	RecoveryAttempts        uint32
	TimeSinceLastActivityMs int64
}

// Managed is a broadcast channel of T augmented with a buffered fallback
// and a recovery state machine. Grounded on
// original_source/.../channel.rs's ManagedChannel. The subscriber set is
// held behind a reader-preferring internal/syncx.RWGuard per spec §5.
type Managed[T any] struct {
	subs       *syncx.RWGuard[[]chan T]
	state      atomic.Int32 // State
	capacity   int
	health     *HealthMonitor
	fallback   *buffer.Buffer[T]
	channelID  string
	errHandler *autoerr.Handler
}

// New constructs a Managed channel with the given broadcast capacity.
func New[T any](capacity int, channelID string, errHandler *autoerr.Handler) *Managed[T] {
	return newWithClock[T](capacity, channelID, errHandler, func() int64 { return time.Now().UnixMilli() })
}

func newWithClock[T any](capacity int, channelID string, errHandler *autoerr.Handler, nowMs func() int64) *Managed[T] {
	m := &Managed[T]{
		subs:       syncx.NewGuard[[]chan T](nil),
		capacity:   capacity,
		health:     newHealthMonitor(nowMs),
		fallback:   buffer.New[T](capacity, capacity*2, buffer.DropOldest),
		channelID:  channelID,
		errHandler: errHandler,
	}
	m.state.Store(int32(Initializing))
	return m
}

// Send attempts a broadcast to all current subscribers; if there are
// none, the item is pushed to the fallback buffer instead. Matches
// channel.rs's send(): broadcast-or-buffer, never both.
func (m *Managed[T]) Send(item T) error {
	if State(m.state.Load()) == Closed {
		return autoerr.NewChannel("channel is closed", autoerr.ChannelClosed)
	}

	subs := m.subs.Get()

	if len(subs) == 0 {
		if err := m.fallback.Push(item); err != nil {
			return autoerr.NewChannel("buffer push failed: "+err.Error(), autoerr.ChannelSendFailed)
		}
		return nil
	}

	for _, s := range subs {
		select {
		case s <- item:
		default:
			// A stalled subscriber does not block the others; its
			// item is simply not delivered (best-effort fan-out).
		}
	}
	m.health.RecordActivity()
	m.state.Store(int32(Active))
	return nil
}

// Subscribe returns a new receiver channel; closed channels reject subscription.
func (m *Managed[T]) Subscribe() (<-chan T, error) {
	if State(m.state.Load()) == Closed {
		return nil, autoerr.NewChannel("channel is closed", autoerr.ChannelClosed)
	}
	ch := make(chan T, m.capacity)
	m.subs.Write(func(s *[]chan T) { *s = append(*s, ch) })
	return ch, nil
}

// Health returns a metrics snapshot.
func (m *Managed[T]) Health() HealthMetrics {
	return HealthMetrics{
		State:                   State(m.state.Load()),
		IsHealthy:               m.health.IsHealthy(),
		ErrorCount:              m.health.errorCount.Load(),
		RecoveryAttempts:        m.health.recoveryAttempts.Load(),
		TimeSinceLastActivityMs: m.health.TimeSinceLastActivity().Milliseconds(),
	}
}

// IsHealthy reports overall channel health.
func (m *Managed[T]) IsHealthy() bool { return m.health.IsHealthy() }

// RecordError lets a caller (e.g. a capture stream observing a broken
// subscriber) report a failure against this channel's health monitor.
func (m *Managed[T]) RecordError() { m.health.RecordError() }

// Close transitions the channel to Closed, a terminal state with no
// outgoing transition (invariant from §8).
func (m *Managed[T]) Close() {
	m.subs.Write(func(s *[]chan T) {
		for _, sub := range *s {
			close(sub)
		}
		*s = nil
	})
	m.state.Store(int32(Closed))
}

// InitiateRecovery drops the current subscriber list (receivers must
// Subscribe again) and resets health state if the backoff policy allows
// it; otherwise it returns a recovery error, matching channel.rs's
// initiate_recovery gate.
func (m *Managed[T]) InitiateRecovery() error {
	if !m.health.ShouldAttemptRecovery() {
		return autoerr.NewRecovery(int(m.health.recoveryAttempts.Load()), "recovery not needed or too early")
	}

	m.health.RecordRecoveryAttempt()
	m.state.Store(int32(Recovering))

	m.subs.Write(func(s *[]chan T) { *s = nil })

	m.health.healthy.Store(true)
	m.health.errorCount.Store(0)
	m.state.Store(int32(Active))
	return nil
}

// SendWithBackpressure tries a regular send first, falling back to the
// buffer on failure — kept distinct from Send to mirror channel.rs's API
// even though the current Send already buffers on no-subscribers.
func (m *Managed[T]) SendWithBackpressure(item T) error {
	if err := m.Send(item); err == nil {
		return nil
	}
	if err := m.fallback.Push(item); err != nil {
		return autoerr.NewChannel("failed to buffer item: "+err.Error(), autoerr.ChannelSendFailed)
	}
	return nil
}

// DrainFallback pops up to n buffered items accumulated while there were
// no subscribers, in insertion order.
func (m *Managed[T]) DrainFallback(n int) []T {
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, ok := m.fallback.Pop()
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

// FallbackMetrics exposes the backing buffer's metrics (overflow_events etc).
func (m *Managed[T]) FallbackMetrics() buffer.Metrics {
	return m.fallback.Metrics()
}
