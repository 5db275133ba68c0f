// Package asrengine defines the external ASR engine boundary (model
// discovery, loading, session creation, inference) and a gRPC transport
// for it, grounded on internal/grpcclient/client.go's keepalive/health/
// circuit-breaker texture.
package asrengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/resilience"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// ModelInfo describes a discoverable ASR model, matching spec §6's
// "ASR engine (consumed)" interface table.
type ModelInfo struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Ready    bool   `json:"ready"`
}

// InferRequest carries one chunk of audio plus optional text context
// for prompt-conditioning, matching streaming_whisper.rs's
// perform_transcription inputs.
type InferRequest struct {
	SessionID   string    `json:"session_id"`
	Samples     []float32 `json:"samples"`
	SampleRate  int       `json:"sample_rate"`
	Temperature float64   `json:"temperature"`
	TextContext string    `json:"text_context,omitempty"`
}

// Segment is one timed piece of an inference result.
type Segment struct {
	Text       string  `json:"text"`
	StartMs    float64 `json:"start_ms"`
	EndMs      float64 `json:"end_ms"`
	Confidence float64 `json:"confidence"`
}

// InferResult is the engine's response to one Infer call.
type InferResult struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Segments   []Segment `json:"segments"`
}

// Engine is the interface C8 (internal/contextmgr) consumes, while C6
// (internal/asrdriver) uses only Session; it is
// intentionally transport-agnostic so neither depends on gRPC
// directly (spec §6's "ASR engine: interface only" framing).
type Engine interface {
	DiscoverModels(ctx context.Context) ([]ModelInfo, error)
	Load(ctx context.Context, modelID string) error
	CreateSession(ctx context.Context, modelID string) (Session, error)
	Ready(ctx context.Context) (bool, error)
	Close() error
}

// Session is a loaded model's inference handle.
type Session interface {
	Infer(ctx context.Context, req InferRequest) (InferResult, error)
	Close() error
}

var ErrEngineUnavailable = errors.New("asr engine unavailable")

// jsonCodec implements grpc/encoding.Codec over encoding/json, used so
// the DiscoverModels/Load/CreateSession/Infer RPCs can be invoked with
// grpc.ClientConn.Invoke without a protoc-generated stub tree — there is
// no pre-generated package for this service in the dependency graph,
// unlike grpc_health_v1 which is used as-is below.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCConfig mirrors grpcclient.ClientConfig.
type GRPCConfig struct {
	KeepaliveTime       time.Duration
	KeepaliveTimeout    time.Duration
	HealthCheckInterval time.Duration
	BreakerConfig       resilience.Config
}

func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		KeepaliveTime:       10 * time.Second,
		KeepaliveTimeout:    3 * time.Second,
		HealthCheckInterval: 5 * time.Second,
		BreakerConfig:       resilience.DefaultConfig(),
	}
}

// GRPCEngine is the production Engine backed by a gRPC connection,
// following internal/grpcclient/client.go's shape: persistent conn,
// health-check goroutine, circuit breaker guarding every call.
type GRPCEngine struct {
	conn         *grpc.ClientConn
	health       grpc_health_v1.HealthClient
	cb           *resilience.Breaker
	healthCancel context.CancelFunc
}

// NewGRPCEngine dials addr and starts the background health monitor.
func NewGRPCEngine(addr string) (*GRPCEngine, error) {
	return NewGRPCEngineWithConfig(addr, DefaultGRPCConfig())
}

func NewGRPCEngineWithConfig(addr string, cfg GRPCConfig) (*GRPCEngine, error) {
	conn, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultServiceConfig(`{"healthCheckConfig":{"serviceName":""}}`),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
	)
	if err != nil {
		return nil, err
	}

	e := &GRPCEngine{
		conn:   conn,
		health: grpc_health_v1.NewHealthClient(conn),
		cb:     resilience.New(cfg.BreakerConfig),
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.healthCancel = cancel
	go e.monitorHealth(ctx, cfg.HealthCheckInterval)

	return e, nil
}

func (e *GRPCEngine) monitorHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Ready(ctx); err != nil {
				slog.Debug("asr engine health check failed", "error", err)
			}
		}
	}
}

// Ready performs an on-demand readiness check, gated by the breaker.
func (e *GRPCEngine) Ready(ctx context.Context) (bool, error) {
	if err := e.cb.Allow(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := e.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		e.cb.Failure()
		return false, err
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		e.cb.Failure()
		return false, ErrEngineUnavailable
	}
	e.cb.Success()
	return true, nil
}

// IsConnected reports whether the underlying connection is ready.
func (e *GRPCEngine) IsConnected() bool {
	return e.conn.GetState() == connectivity.Ready
}

func (e *GRPCEngine) invoke(ctx context.Context, method string, req, resp any) error {
	if err := e.cb.Allow(); err != nil {
		return err
	}
	err := e.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(jsonCodec{}.Name()))
	if err != nil {
		if isTransient(err) {
			e.cb.Failure()
		}
		return err
	}
	e.cb.Success()
	return nil
}

func isTransient(err error) bool {
	s, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// DiscoverModels lists models the engine currently serves.
func (e *GRPCEngine) DiscoverModels(ctx context.Context) ([]ModelInfo, error) {
	var resp struct {
		Models []ModelInfo `json:"models"`
	}
	if err := e.invoke(ctx, "/asr.Engine/DiscoverModels", &struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// Load instructs the engine to load a model into memory.
func (e *GRPCEngine) Load(ctx context.Context, modelID string) error {
	req := struct {
		ModelID string `json:"model_id"`
	}{ModelID: modelID}
	var resp struct{}
	return e.invoke(ctx, "/asr.Engine/Load", &req, &resp)
}

// CreateSession opens a streaming inference session against modelID.
func (e *GRPCEngine) CreateSession(ctx context.Context, modelID string) (Session, error) {
	req := struct {
		ModelID string `json:"model_id"`
	}{ModelID: modelID}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := e.invoke(ctx, "/asr.Engine/CreateSession", &req, &resp); err != nil {
		return nil, err
	}
	return &grpcSession{engine: e, sessionID: resp.SessionID}, nil
}

// Close stops the health monitor and closes the connection.
func (e *GRPCEngine) Close() error {
	if e.healthCancel != nil {
		e.healthCancel()
	}
	return e.conn.Close()
}

type grpcSession struct {
	engine    *GRPCEngine
	sessionID string
}

func (s *grpcSession) Infer(ctx context.Context, req InferRequest) (InferResult, error) {
	req.SessionID = s.sessionID
	var result InferResult
	if err := s.engine.invoke(ctx, "/asr.Engine/Infer", &req, &result); err != nil {
		return InferResult{}, fmt.Errorf("infer session %s: %w", s.sessionID, err)
	}
	return result, nil
}

func (s *grpcSession) Close() error {
	req := struct {
		SessionID string `json:"session_id"`
	}{SessionID: s.sessionID}
	var resp struct{}
	return s.engine.invoke(context.Background(), "/asr.Engine/CloseSession", &req, &resp)
}
