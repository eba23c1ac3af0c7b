// aira-voice-server: AIRA voice backend.
// Serves /ws/voice: each utterance is transcribed, answered and spoken back.
//
// Usage:
//
//	go run ./cmd/aira-voice-server --listen :8000
//	go run ./cmd/aira-voice-server --pipeline aira --config aira.yaml
//
// Environment variables:
//
//	OPENAI_API_KEY      - Whisper and chat (openai pipeline), OpenAI speech
//	AIRA_API_URL        - AIRA HTTP API (aira pipeline, backend speech)
//	ELEVENLABS_API_KEY  - ElevenLabs speech
//	GOOGLE_API_KEY      - Google speech
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-aira/internal/config"
	"github.com/teslashibe/go-aira/internal/log"
	"github.com/teslashibe/go-aira/pkg/services"
	"github.com/teslashibe/go-aira/pkg/tts"
	"github.com/teslashibe/go-aira/pkg/voicegw"
)

var (
	version    = "1.0.0"
	configFile = flag.String("config", "", "YAML config file")
	listen     = flag.String("listen", "", "Listen address (overrides AIRA_LISTEN)")
	pipeline   = flag.String("pipeline", "openai", "Transcription and chat stages: openai, aira")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	log.Init(cfg.LogLevel)
	logger := log.L()

	fmt.Println()
	fmt.Println("🩺 AIRA Voice Server v" + version)
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stages, err := buildPipeline(ctx, cfg)
	if err != nil {
		logger.Error("pipeline setup failed", "error", err)
		os.Exit(1)
	}

	gw, err := voicegw.New(stages, voicegw.WithLogger(logger))
	if err != nil {
		logger.Error("gateway setup failed", "error", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("voice socket", "url", fmt.Sprintf("ws://localhost%s/ws/voice", cfg.Listen))
		if err := gw.Listen(cfg.Listen); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n👋 Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	stages.Speech.Close()
}

func buildPipeline(ctx context.Context, cfg *config.Config) (voicegw.Pipeline, error) {
	logger := log.L()

	var stages voicegw.Pipeline

	client, err := services.New(
		services.WithBaseURL(cfg.APIURL),
		services.WithToken(cfg.APIToken),
		services.WithLogger(logger),
	)
	if err != nil {
		return stages, err
	}

	switch *pipeline {
	case "openai":
		o, err := voicegw.NewOpenAI(voicegw.OpenAIConfig{
			APIKey:             cfg.OpenAI.APIKey,
			ChatModel:          cfg.OpenAI.ChatModel,
			TranscriptionModel: cfg.OpenAI.TranscriptionModel,
			Logger:             logger,
		})
		if err != nil {
			return stages, err
		}
		stages.Transcriber, stages.Chatter = o, o
	case "aira":
		b := voicegw.NewBackend(client)
		stages.Transcriber, stages.Chatter = b, b
	default:
		return stages, fmt.Errorf("unknown pipeline %q", *pipeline)
	}

	providers, err := cfg.SpeechProviders(ctx, client, logger)
	if err != nil {
		return stages, err
	}
	if local := cfg.LocalSpeech(logger); local != nil {
		providers = append(providers, local)
	}
	speech, err := tts.NewChainWithLogger(logger, providers...)
	if err != nil {
		return stages, fmt.Errorf("no speech provider configured: %w", err)
	}
	stages.Speech = speech
	return stages, nil
}
