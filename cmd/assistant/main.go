package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"voicehome/config"
	"voicehome/internal/application"
	"voicehome/internal/bus"
	"voicehome/internal/devices"
	"voicehome/internal/infra/audio"
	"voicehome/internal/infra/httpapi"
	"voicehome/internal/infra/pushover"
	"voicehome/internal/infra/transcribe"
	"voicehome/internal/infra/wsbridge"
	"voicehome/internal/monitor"
	"voicehome/internal/nlu"
	"voicehome/internal/speech"
)

// whisper-compatible APIs expect 16 kHz mono
const microphoneSampleRate = 16000

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
		slog.Warn("config file not found, using defaults", "path", *configPath)
		cfg = config.Default()
	}

	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	events := bus.New(logger)
	parser := nlu.NewProcessor(logger)
	fleet := devices.New(events, logger)
	defer fleet.Destroy()

	recognitionEngine, synthesisEngine, wsHandler := createEngines(cfg, logger)

	recognizer, err := speech.NewRecognizer(recognitionEngine, events, cfg, speech.SystemClock(), logger)
	if err != nil {
		logger.Error("building recognizer", "error", err)
		os.Exit(1)
	}
	synthesizer := speech.NewSynthesizer(synthesisEngine, events, cfg.Synthesis, logger)
	defer synthesizer.Stop()

	perf := monitor.NewPerformance(cfg.Monitor.StatsdAddr, cfg.Monitor.Namespace, logger)
	defer perf.Close()
	tasks := monitor.NewTaskPool(logger)

	var notifier application.Notifier
	if cfg.Pushover.Enabled {
		notifier = pushover.NewClient(cfg.Pushover)
	} else {
		notifier = &application.NoopNotifier{}
	}

	server := httpapi.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, events, wsHandler, logger)
	if err := server.Start(ctx); err != nil {
		logger.Error("starting HTTP server", "error", err)
		os.Exit(1)
	}
	defer server.Stop()

	assistant := application.NewAssistant(
		cfg,
		events,
		parser,
		fleet,
		recognizer,
		synthesizer,
		notifier,
		perf,
		tasks,
		logger,
	)

	logger.Info("starting voice assistant", "source", cfg.Source, "addr", cfg.Server.Addr)

	if err := assistant.Start(ctx); err != nil {
		logger.Error("starting assistant", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	assistant.Stop()
}

// createEngines picks the speech path: the browser bridge serves both
// directions over one websocket; the microphone path recognizes through a
// transcription API and has no synthesis side.
func createEngines(cfg *config.Config, logger *slog.Logger) (speech.RecognitionEngine, speech.SynthesisEngine, http.Handler) {
	switch cfg.Source {
	case "microphone":
		source := audio.NewMicrophoneSource(microphoneSampleRate, logger)
		engine := transcribe.NewEngine(source, transcribe.NewClient(cfg.Transcribe), logger)
		return engine, nil, nil
	case "browser":
		bridge := wsbridge.New(logger)
		return bridge, bridge, bridge
	default:
		logger.Warn("unknown source, using browser", "source", cfg.Source)
		bridge := wsbridge.New(logger)
		return bridge, bridge, bridge
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
