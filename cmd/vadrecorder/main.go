// Command vadrecorder is a voice-activity-gated recording client. It
// captures PCM audio, waits for a wake phrase, segments speech by energy,
// and streams encoded chunks to the backend over a WebSocket, playing the
// backend's responses back through a TTS provider.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PratikLad0/vad-detection/internal/app"
	"github.com/PratikLad0/vad-detection/internal/config"
	"github.com/PratikLad0/vad-detection/internal/eventlog"
	"github.com/PratikLad0/vad-detection/internal/health"
	"github.com/PratikLad0/vad-detection/internal/observe"
	"github.com/PratikLad0/vad-detection/pkg/audio"
	"github.com/PratikLad0/vad-detection/pkg/provider/recognizer"
	"github.com/PratikLad0/vad-detection/pkg/provider/recognizer/whisper"
	"github.com/PratikLad0/vad-detection/pkg/provider/tts"
	"github.com/PratikLad0/vad-detection/pkg/provider/tts/coqui"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputPath := flag.String("input", "-", `raw 16-bit PCM input: a file path or "-" for stdin`)
	realtime := flag.Bool("realtime", false, "pace file input at the capture rate")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vadrecorder: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vadrecorder: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.EffectiveLogLevel())
	slog.SetDefault(logger)

	slog.Info("vadrecorder starting",
		"config", *configPath,
		"backend", cfg.Backend.BaseURL,
		"environment", cfg.Client.Environment,
		"log_level", cfg.EffectiveLogLevel(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry providers. The Prometheus bridge feeds /metrics on the
	// diagnostics server.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "vadrecorder",
	})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	source, err := buildSource(cfg, *inputPath, *realtime)
	if err != nil {
		slog.Error("failed to open audio input", "err", err)
		return 1
	}

	providers := &app.Providers{Source: source}
	if providers.Recognizer, err = buildRecognizer(cfg); err != nil {
		slog.Error("failed to build recognizer", "err", err)
		return 1
	}
	if providers.TTS, err = buildTTS(cfg); err != nil {
		slog.Error("failed to build tts provider", "err", err)
		return 1
	}

	events := eventlog.New(0)
	application, err := app.New(cfg, providers, app.WithEventLog(events))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Diagnostics server: /healthz /readyz /status /metrics.
	var diagSrv *http.Server
	if cfg.Client.StatusAddr != "" {
		diagSrv = startDiagnostics(cfg.Client.StatusAddr, application, events)
	}

	slog.Info("recorder ready — press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	slog.Info("shutting down")
	application.Shutdown()
	if diagSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := diagSrv.Shutdown(sctx); err != nil {
			slog.Warn("diagnostics server shutdown error", "err", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildSource opens the PCM input: stdin by default, or a file.
func buildSource(cfg *config.Config, path string, realtime bool) (audio.Source, error) {
	var opts []audio.PCMOption
	opts = append(opts, audio.WithFrameMs(cfg.Audio.FrameMs))
	if realtime {
		opts = append(opts, audio.WithRealtime())
	}

	if path == "-" {
		return audio.NewPCMSource(os.Stdin, cfg.Audio.SampleRate, cfg.Audio.Channels, opts...), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return audio.NewPCMSource(f, cfg.Audio.SampleRate, cfg.Audio.Channels, opts...), nil
}

// buildRecognizer constructs the wake phrase engine named in config. An
// empty name disables wake gating.
func buildRecognizer(cfg *config.Config) (recognizer.Engine, error) {
	switch cfg.Recognizer.Name {
	case "":
		slog.Warn("no recognizer configured, wake gating disabled")
		return nil, nil
	case "whisper":
		var opts []whisper.Option
		if cfg.Recognizer.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Recognizer.Language))
		}
		return whisper.New(cfg.Recognizer.ServerURL, opts...)
	case "whisper-native":
		var opts []whisper.NativeOption
		if cfg.Recognizer.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(cfg.Recognizer.Language))
		}
		return whisper.NewNative(cfg.Recognizer.ModelPath, opts...)
	default:
		return nil, fmt.Errorf("unknown recognizer %q", cfg.Recognizer.Name)
	}
}

// buildTTS constructs the response playback provider named in config. An
// empty name disables playback.
func buildTTS(cfg *config.Config) (tts.Provider, error) {
	switch cfg.TTS.Name {
	case "":
		return nil, nil
	case "coqui":
		return coqui.New(cfg.TTS.ServerURL,
			coqui.WithOutputSampleRate(cfg.Audio.SampleRate))
	default:
		return nil, fmt.Errorf("unknown tts provider %q", cfg.TTS.Name)
	}
}

// startDiagnostics serves the health, status, and metrics endpoints.
func startDiagnostics(addr string, application *app.App, events *eventlog.Log) *http.Server {
	mux := http.NewServeMux()
	health.New(application.Checkers()...).Register(mux)
	health.NewStatus(application.Snapshot, events).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(observe.DefaultMetrics())(mux),
	}
	go func() {
		slog.Info("diagnostics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("diagnostics server error", "err", err)
		}
	}()
	return srv
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
