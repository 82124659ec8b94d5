// Command echowire-demo connects to a voice agent endpoint and runs one
// conversation until the agent hangs up or the process is interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echowire/echowire-go/pkg/audioio"
	"github.com/echowire/echowire-go/pkg/call"
	"github.com/echowire/echowire-go/pkg/config"
	"github.com/echowire/echowire-go/pkg/metrics"
)

func main() {
	// Parse flags
	var (
		configPath   = flag.String("config", "", "Path to YAML config file")
		endpoint     = flag.String("endpoint", "", "Voice endpoint websocket URL")
		agentID      = flag.String("agent-id", "", "Agent ID")
		sessionToken = flag.String("session-token", "", "Session token")
		sampleRate   = flag.Int("sample-rate", 0, "Audio sample rate in Hz")
		backend      = flag.String("audio-backend", "", "Audio backend (portaudio, mock)")
		logLevel     = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	// Config file first, flags and environment on top.
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	applyOverrides(cfg, *endpoint, *agentID, *sessionToken, *sampleRate, *backend, *logLevel)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Endpoint.URL == "" {
		fmt.Fprintf(os.Stderr, "Error: missing endpoint URL (flag -endpoint or EW_ENDPOINT)\n")
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting voice demo",
		"endpoint", cfg.Endpoint.URL,
		"agent_id", cfg.Endpoint.AgentID,
		"sample_rate", cfg.Audio.SampleRate,
		"backend", cfg.Audio.Backend)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			logger.Info("metrics listening", "address", cfg.Metrics.Address)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	if cfg.Audio.Backend == "portaudio" {
		if err := audioio.Initialize(); err != nil {
			logger.Error("audio host initialization failed", "error", err)
			os.Exit(1)
		}
		defer audioio.Terminate()
	}

	conv := call.NewConversation(call.Config{
		Endpoint:                   cfg.Endpoint.URL,
		AgentID:                    cfg.Endpoint.AgentID,
		SessionToken:               cfg.Endpoint.SessionToken,
		EndOnLivenessLoss:          cfg.Keepalive.EndOnLivenessLoss,
		KeepaliveInterval:          cfg.Keepalive.Interval(),
		KeepaliveEscalatedInterval: cfg.Keepalive.EscalatedInterval(),
		KeepaliveEscalatedDeadline: cfg.Keepalive.EscalatedDeadline(),
		RealtimeSupported:          realtimeProbe(cfg.Audio),
		BlockSize:                  cfg.Audio.BlockSize,
		OpenSource:                 sourceOpener(cfg.Audio, logger),
		OpenSink:                   sinkOpener(cfg.Audio, logger),
		Logger:                     logger,
		Metrics:                    m,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := conv.StartConversation(dialCtx, call.StartOptions{
		SampleRate:   cfg.Audio.SampleRate,
		EnableUpdate: cfg.Endpoint.EnableUpdate,
	})
	cancel()
	if err != nil {
		logger.Error("conversation start failed", "error", err)
		os.Exit(1)
	}

	exitCode := runEventLoop(ctx, conv, logger)
	conv.StopConversation()
	os.Exit(exitCode)
}

// runEventLoop surfaces conversation events until the call ends or the
// process is signaled.
func runEventLoop(ctx context.Context, conv *call.Conversation, logger *slog.Logger) int {
	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, hanging up", "call_id", conv.CallID())
			return 0

		case ev := <-conv.Events():
			switch ev := ev.(type) {
			case call.ConversationStarted:
				logger.Info("conversation started", "call_id", conv.CallID())
			case call.AgentStartTalking:
				logger.Info("agent talking")
			case call.AgentStopTalking:
				logger.Info("agent quiet")
			case call.Disconnect:
				logger.Warn("connection unresponsive", "call_id", conv.CallID())
			case call.Reconnect:
				logger.Info("connection recovered", "call_id", conv.CallID())
			case call.UpdateEvent:
				logger.Info("endpoint update", "payload", string(ev.Raw))
			case call.ErrorEvent:
				logger.Error("conversation error", "message", ev.Message)
				return 1
			case call.ConversationEnded:
				logger.Info("conversation ended", "code", ev.Code, "reason", ev.Reason)
				return 0
			}
		}
	}
}

// applyOverrides layers command-line flags over the config, with
// environment variables as the fallback between the two.
func applyOverrides(cfg *config.Config, endpoint, agentID, token string, sampleRate int, backend, logLevel string) {
	if endpoint == "" {
		endpoint = os.Getenv("EW_ENDPOINT")
	}
	if endpoint != "" {
		cfg.Endpoint.URL = endpoint
	}
	if agentID == "" {
		agentID = os.Getenv("EW_AGENT_ID")
	}
	if agentID != "" {
		cfg.Endpoint.AgentID = agentID
	}
	if token == "" {
		token = os.Getenv("EW_SESSION_TOKEN")
	}
	if token != "" {
		cfg.Endpoint.SessionToken = token
	}
	if sampleRate > 0 {
		cfg.Audio.SampleRate = sampleRate
	}
	if backend == "" {
		backend = os.Getenv("EW_AUDIO_BACKEND")
	}
	if backend != "" {
		cfg.Audio.Backend = backend
	}
	if logLevel == "" {
		logLevel = os.Getenv("LOG_LEVEL")
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

func realtimeProbe(a config.AudioConfig) func() bool {
	if !a.Realtime {
		return nil
	}
	return func() bool { return true }
}

func sourceOpener(a config.AudioConfig, logger *slog.Logger) func(audioio.Config) (audioio.Source, error) {
	if a.Backend == "mock" {
		return func(ac audioio.Config) (audioio.Source, error) {
			return audioio.NewMockSource(ac, audioio.WithSineWave(440, 0.2), audioio.WithPacing()), nil
		}
	}
	return func(ac audioio.Config) (audioio.Source, error) {
		return audioio.NewPortAudioSource(ac, logger)
	}
}

func sinkOpener(a config.AudioConfig, logger *slog.Logger) func(audioio.Config) (audioio.Sink, error) {
	if a.Backend == "mock" {
		return func(ac audioio.Config) (audioio.Sink, error) {
			return audioio.NewMockSink(ac, true), nil
		}
	}
	return func(ac audioio.Config) (audioio.Sink, error) {
		return audioio.NewPortAudioSink(ac, logger)
	}
}

func setupLogger(lc config.LoggingConfig) *slog.Logger {
	var lvl slog.Level
	switch lc.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
