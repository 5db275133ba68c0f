// Platform server - wires audio capture, the streaming transcription
// pipeline, and the WebSocket/HTTP event surface together.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/asrengine"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/autoerr"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/capture"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/config"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/contextmgr"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/eventbus"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/metrics"
	"github.com/GriffinCanCode/good-listener/backend/platform/internal/server"
)

// runtimeConfig holds the non-core settings (listen addresses, the ASR
// engine's dial target) that stay out of internal/config.Config per
// the core module's no-I/O rule.
type runtimeConfig struct {
	HTTPAddr      string
	InferenceAddr string
}

func loadRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8000"),
		InferenceAddr: getEnv("INFERENCE_ADDR", "localhost:50051"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	rt := loadRuntimeConfig()

	cfg := config.Default()
	cfg.SampleRate = getEnvInt("SAMPLE_RATE", cfg.SampleRate)
	cfg.CaptureSystemAudio = getEnvBool("CAPTURE_SYSTEM_AUDIO", cfg.CaptureSystemAudio)
	cfg.ContextManager.SampleRate = cfg.SampleRate
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	errHandler := autoerr.New().WithLogger(func(level, msg string, args ...any) {
		switch level {
		case "error":
			slog.Error(msg, args...)
		case "warn":
			slog.Warn(msg, args...)
		default:
			slog.Debug(msg, args...)
		}
	})

	metricsReg := metrics.New()

	engine, err := asrengine.NewGRPCEngine(rt.InferenceAddr)
	if err != nil {
		slog.Error("failed to connect to asr engine", "addr", rt.InferenceAddr, "error", err)
		os.Exit(1)
	}
	defer func() { _ = engine.Close() }()

	readyCtx, readyCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := engine.Ready(readyCtx); err != nil {
		slog.Warn("asr engine not ready at startup, proceeding anyway", "error", err)
	}
	readyCancel()

	mgr, err := contextmgr.New(cfg.ContextManager, engine, errHandler)
	if err != nil {
		slog.Error("failed to construct context manager", "error", err)
		os.Exit(1)
	}

	captureStream, err := capture.New(cfg.SampleRate, cfg.CaptureSystemAudio, mgr.MicChannel(), mgr.SpeakerChannel())
	if err != nil {
		slog.Error("failed to initialize capture stream", "error", err)
		os.Exit(1)
	}

	hub := eventbus.NewHub(mgr, 200)
	srv := server.New(hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		slog.Error("failed to start context manager", "error", err)
		os.Exit(1)
	}
	if err := captureStream.Start(ctx); err != nil {
		slog.Error("failed to start capture stream", "error", err)
	}
	go func() {
		if err := hub.Run(ctx); err != nil {
			slog.Error("event hub stopped", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("/metrics", metricsReg.Handler())

	httpServer := &http.Server{
		Addr:         rt.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("platform server starting", "http", rt.HTTPAddr, "inference", rt.InferenceAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()
	captureStream.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	_ = mgr.Stop()
	slog.Info("shutdown complete")
}
