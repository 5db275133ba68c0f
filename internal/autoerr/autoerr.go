// Package autoerr implements the error taxonomy and recovery-strategy
// core shared by every pipeline stage. It is engine- and transport-
// agnostic: kinds are a closed set of tagged variants, not bound to any
// wire protocol. The one transport mapping it carries is Error.GRPCCode,
// which maps a Kind to a gRPC status code.
package autoerr

import (
	"container/list"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/syncx"
)

// Kind identifies the taxonomy variant of an Error, mirroring §4.3.
type Kind int

const (
	KindDevice Kind = iota
	KindChannel
	KindBuffer
	KindVadProcessing
	KindTranscription
	KindRecovery
	KindConfiguration
	KindResourceExhaustion
	KindTimeout
	KindSystem
	KindProcessing
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindChannel:
		return "channel"
	case KindBuffer:
		return "buffer"
	case KindVadProcessing:
		return "vad_processing"
	case KindTranscription:
		return "transcription"
	case KindRecovery:
		return "recovery"
	case KindConfiguration:
		return "configuration"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindTimeout:
		return "timeout"
	case KindSystem:
		return "system"
	case KindProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// ChannelKind narrows KindChannel errors.
type ChannelKind int

const (
	ChannelClosed ChannelKind = iota
	ChannelFull
	ChannelSendFailed
	ChannelReceiveFailed
	ChannelRecovery
)

// Error is the taxonomy's single concrete type; Kind plus the optional
// fields below select which payload is meaningful, matching spec §4.3's
// tagged-union variants without needing Go sum types.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Device
	Recoverable bool
	// Channel
	ChannelKind ChannelKind
	// Buffer
	BufferKind string
	// VadProcessing
	SamplesLost int
	// Transcription
	ChunkID uint64
	// Recovery
	Attempts int
	// Configuration
	Field string
	// ResourceExhaustion
	Resource string
	// Timeout
	DurationMs int64
	// System
	SystemCode int
	HasCode    bool
	// Processing
	ProcessingContext string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Constructors, one per taxonomy variant.

func NewDevice(message string, recoverable bool) *Error {
	return &Error{Kind: KindDevice, Message: message, Recoverable: recoverable}
}

func NewChannel(message string, kind ChannelKind) *Error {
	return &Error{Kind: KindChannel, Message: message, ChannelKind: kind}
}

func NewBuffer(message, bufferKind string) *Error {
	return &Error{Kind: KindBuffer, Message: message, BufferKind: bufferKind}
}

func NewVadProcessing(samplesLost int, message string) *Error {
	return &Error{Kind: KindVadProcessing, Message: message, SamplesLost: samplesLost}
}

func NewTranscription(chunkID uint64, message string) *Error {
	return &Error{Kind: KindTranscription, Message: message, ChunkID: chunkID}
}

func NewRecovery(attempts int, message string) *Error {
	return &Error{Kind: KindRecovery, Message: message, Attempts: attempts}
}

func NewConfiguration(field, message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message, Field: field}
}

func NewResourceExhaustion(resource, message string) *Error {
	return &Error{Kind: KindResourceExhaustion, Message: message, Resource: resource}
}

func NewTimeout(durationMs int64, message string) *Error {
	return &Error{Kind: KindTimeout, Message: message, DurationMs: durationMs}
}

func NewSystem(message string, code int, hasCode bool) *Error {
	return &Error{Kind: KindSystem, Message: message, SystemCode: code, HasCode: hasCode}
}

func NewProcessing(message, context string) *Error {
	return &Error{Kind: KindProcessing, Message: message, ProcessingContext: context}
}

// GRPCCode maps a Kind to the nearest gRPC status code. It is the reason
// this package imports google.golang.org/grpc/codes.
func (e *Error) GRPCCode() codes.Code {
	switch e.Kind {
	case KindTimeout:
		return codes.DeadlineExceeded
	case KindResourceExhaustion:
		return codes.ResourceExhausted
	case KindConfiguration:
		return codes.InvalidArgument
	case KindChannel:
		if e.ChannelKind == ChannelClosed {
			return codes.Unavailable
		}
		return codes.Internal
	case KindDevice:
		if e.Recoverable {
			return codes.Unavailable
		}
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// Strategy is a recovery strategy assigned per component name.
type Strategy struct {
	Kind        StrategyKind
	MaxAttempts int
	BaseDelayMs int64
	FallbackOK  bool
}

type StrategyKind int

const (
	StrategyRetry StrategyKind = iota
	StrategyGraceful
	StrategyStop
	StrategyRestart
	StrategyEscalate
)

// Action is the recovery action resolved by Handle; callers must act on it.
type Action struct {
	Kind            ActionKind
	DelayMs         int64
	Attempt         int
	WithDegradation bool
	FallbackEnabled bool
}

type ActionKind int

const (
	ActionRetry ActionKind = iota
	ActionBackoff
	ActionReset
	ActionIgnore
	ActionStop
	ActionRestart
	ActionEscalate
	ActionContinue
)

// Context carries the structured detail attached to each history entry,
// matching original_source's ErrorContext/DeviceErrorInfo/SystemErrorInfo.
type Context struct {
	Component    string
	Operation    string
	TimestampMs  int64
	DeviceInfo   *DeviceInfo
	SystemInfo   SystemInfo
	RecoveryInfo *RecoveryInfo
}

type DeviceInfo struct {
	DeviceName string
	DeviceType string
	SampleRate uint32
	Channels   uint16
}

type SystemInfo struct {
	MemoryUsageMB     uint64
	CPUUsagePercent   float32
	ActiveStreams     uint32
	BufferUtilization float32
}

type RecoveryInfo struct {
	AttemptCount  int
	LastAttemptMs int64
	SuccessRate   float32
}

// historyEntry pairs an error with its context for the bounded history.
type historyEntry struct {
	Err     *Error
	Context Context
}

// Statistics summarizes per-component error counts and recent history depth.
type Statistics struct {
	ComponentErrors map[string]uint32
	TotalErrors     uint32
	RecentErrors    int
}

// Callback observes resolved errors after recovery has been decided.
type Callback func(*Error, Context)

const maxHistory = 1000

// state is the Error Core's mutable record: per-component counters, the
// recovery strategy table, bounded history, and observers. Guarded as a
// single unit since Handle must read the strategy table and mutate the
// counters/history atomically with respect to concurrent callers.
type state struct {
	counts     map[string]uint32
	strategies map[string]Strategy
	history    *list.List // of historyEntry
	callbacks  []Callback
	logFn      func(level string, msg string, args ...any)
}

// Handler is the Error Core: taxonomy resolution, strategy lookup, bounded
// history, and fan-out callbacks. Grounded on
// original_source/.../error.rs's ErrorHandler. State is held behind a
// reader-preferring internal/syncx.RWGuard per spec §5's "history and
// counter maps ... protected by reader-preferring locks with writer
// exclusion."
type Handler struct {
	state *syncx.RWGuard[state]
}

// New constructs a Handler with the default per-component strategy table
// from spec §4.3.
func New() *Handler {
	return &Handler{
		state: syncx.NewGuard(state{
			counts: make(map[string]uint32),
			strategies: map[string]Strategy{
				"device":        {Kind: StrategyRetry, MaxAttempts: 3, BaseDelayMs: 1000},
				"channel":       {Kind: StrategyRetry, MaxAttempts: 5, BaseDelayMs: 500},
				"buffer":        {Kind: StrategyGraceful, FallbackOK: true},
				"vad":           {Kind: StrategyGraceful, FallbackOK: true},
				"transcription": {Kind: StrategyRetry, MaxAttempts: 2, BaseDelayMs: 2000},
			},
			history: list.New(),
		}),
	}
}

// WithLogger overrides the log sink (defaults to a no-op); production
// callers pass a closure over slog so severity stays kind-dependent.
func (h *Handler) WithLogger(fn func(level, msg string, args ...any)) *Handler {
	h.state.Write(func(s *state) { s.logFn = fn })
	return h
}

// SetStrategy overrides the strategy for a component name.
func (h *Handler) SetStrategy(component string, s Strategy) {
	h.state.Write(func(st *state) { st.strategies[component] = s })
}

// AddCallback registers an observer invoked after every resolution.
func (h *Handler) AddCallback(cb Callback) {
	h.state.Write(func(st *state) { st.callbacks = append(st.callbacks, cb) })
}

// Handle logs, records, and resolves a recovery action for err. The core
// is advisory and pure with respect to the failing operation — it never
// retries on the caller's behalf.
func (h *Handler) Handle(err *Error, ctx Context) Action {
	var count uint32
	var strategy Strategy
	var log func(level, msg string, args ...any)
	var callbacks []Callback

	h.state.Write(func(st *state) {
		count = st.counts[ctx.Component] + 1
		st.counts[ctx.Component] = count

		st.history.PushBack(historyEntry{Err: err, Context: ctx})
		for st.history.Len() > maxHistory {
			st.history.Remove(st.history.Front())
		}

		var ok bool
		strategy, ok = st.strategies[ctx.Component]
		if !ok {
			strategy = Strategy{Kind: StrategyGraceful, FallbackOK: false}
		}
		log = st.logFn
		callbacks = append([]Callback(nil), st.callbacks...)
	})

	if log != nil {
		logError(log, err, ctx, count)
	}

	action := resolve(strategy, count)

	for _, cb := range callbacks {
		cb(err, ctx)
	}
	return action
}

// logError chooses a kind-dependent severity, matching error.rs's log_error.
func logError(log func(level, msg string, args ...any), err *Error, ctx Context, count uint32) {
	switch {
	case err.Kind == KindDevice && !err.Recoverable:
		log("error", "critical device error", "component", ctx.Component, "count", count, "err", err.Error())
	case err.Kind == KindDevice:
		log("warn", "device error", "component", ctx.Component, "count", count, "err", err.Error())
	case err.Kind == KindChannel:
		log("warn", "channel error", "component", ctx.Component, "count", count, "err", err.Error())
	case err.Kind == KindBuffer && count > 5:
		log("error", "repeated buffer error", "component", ctx.Component, "count", count, "err", err.Error())
	case err.Kind == KindBuffer:
		log("warn", "buffer error", "component", ctx.Component, "count", count, "err", err.Error())
	case err.Kind == KindResourceExhaustion:
		log("error", "resource exhaustion", "component", ctx.Component, "count", count, "err", err.Error())
	default:
		log("info", "error", "component", ctx.Component, "count", count, "err", err.Error())
	}
}

// resolve executes the strategy, matching error.rs's execute_recovery.
func resolve(s Strategy, count uint32) Action {
	switch s.Kind {
	case StrategyRetry:
		if int(count) <= s.MaxAttempts {
			delay := s.BaseDelayMs * pow2Capped(count, 10)
			return Action{Kind: ActionRetry, DelayMs: delay, Attempt: int(count)}
		}
		return Action{Kind: ActionEscalate}
	case StrategyGraceful:
		return Action{Kind: ActionContinue, WithDegradation: true, FallbackEnabled: s.FallbackOK}
	case StrategyStop:
		return Action{Kind: ActionStop}
	case StrategyRestart:
		return Action{Kind: ActionRestart}
	case StrategyEscalate:
		return Action{Kind: ActionEscalate}
	default:
		return Action{Kind: ActionContinue}
	}
}

func pow2Capped(n uint32, cap uint32) int64 {
	if n > cap {
		n = cap
	}
	return int64(1) << n
}

// ErrorCount returns the current error count for a component.
func (h *Handler) ErrorCount(component string) uint32 {
	return h.state.Read(func(st state) any { return st.counts[component] }).(uint32)
}

// ResetErrorCount zeroes the count for a component (used after recovery).
func (h *Handler) ResetErrorCount(component string) {
	h.state.Write(func(st *state) { delete(st.counts, component) })
}

// Statistics returns a snapshot of per-component counts and history depth.
func (h *Handler) Statistics() Statistics {
	return h.state.Read(func(st state) any {
		out := Statistics{ComponentErrors: make(map[string]uint32, len(st.counts))}
		for k, v := range st.counts {
			out.ComponentErrors[k] = v
			out.TotalErrors += v
		}
		out.RecentErrors = st.history.Len()
		if out.RecentErrors > 100 {
			out.RecentErrors = 100
		}
		return out
	}).(Statistics)
}

// NowMs is overridable for deterministic tests.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// NewContext builds an error Context for a given component/operation pair.
func NewContext(component, operation string) Context {
	return Context{Component: component, Operation: operation, TimestampMs: NowMs()}
}
