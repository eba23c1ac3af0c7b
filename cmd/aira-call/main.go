// aira-call: terminal voice call with the AIRA assistant.
// Press Enter to start talking, Enter again to send, q to hang up.
//
// Usage:
//
//	go run ./cmd/aira-call --url ws://localhost:8000/ws/voice
//	go run ./cmd/aira-call --input question.wav --output replies.wav
//
// Environment variables:
//
//	AIRA_VOICE_URL      - Voice socket URL
//	AIRA_API_URL        - AIRA HTTP API, used for reply speech fallback
//	GOOGLE_API_KEY      - Google speech fallback
//	OPENAI_API_KEY      - OpenAI speech fallback
//	AIRA_LOCAL_TTS      - On-device synthesizer command (default espeak-ng)
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/teslashibe/go-aira/internal/config"
	"github.com/teslashibe/go-aira/internal/log"
	"github.com/teslashibe/go-aira/pkg/audioio"
	"github.com/teslashibe/go-aira/pkg/capture"
	"github.com/teslashibe/go-aira/pkg/playback"
	"github.com/teslashibe/go-aira/pkg/services"
	"github.com/teslashibe/go-aira/pkg/session"
	"github.com/teslashibe/go-aira/pkg/transport"
	"github.com/teslashibe/go-aira/pkg/tts"
)

var (
	configFile = flag.String("config", "", "YAML config file")
	voiceURL   = flag.String("url", "", "Voice socket URL (overrides AIRA_VOICE_URL)")
	inputWAV   = flag.String("input", "", "Read each utterance from this WAV file instead of the mock microphone")
	outputWAV  = flag.String("output", "", "Write everything played to this WAV file")
	noResume   = flag.Bool("no-resume", false, "Do not listen again after a reply")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

// run owns the call so deferred teardown happens before the process exits.
func run() int {
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return 1
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return 1
	}
	log.Init(cfg.LogLevel)
	logger := log.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := newSession(ctx, cfg)
	if err != nil {
		logger.Error("call setup failed", "error", err)
		return 1
	}
	defer s.Close()

	fmt.Println()
	fmt.Println("📞 AIRA voice call")
	fmt.Printf("   %s\n", cfg.VoiceURL)
	fmt.Println("   Enter: talk / send   q: hang up")
	fmt.Println()

	if err := connect(ctx, s); err != nil {
		logger.Error("connect failed", "error", err)
		return 1
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	hangup := make(chan struct{})
	go readKeys(s, hangup)

	for {
		select {
		case u, ok := <-s.Updates():
			if !ok {
				return 0
			}
			show(u)
			if u.Kind == session.UpdateEnded {
				fmt.Println("👋 Call ended")
				return 0
			}
		case <-hangup:
			fmt.Println("👋 Hanging up")
			return 0
		case <-sig:
			fmt.Println("\n🛑 Interrupted")
			return 0
		}
	}
}

// connect starts the call. A failed first dial is not fatal: the
// transport keeps retrying and status updates report progress.
func connect(ctx context.Context, s *session.Session) error {
	err := s.Start(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, session.ErrClosed) {
		return err
	}
	log.L().Warn("initial connect failed, retrying", "error", err)
	fmt.Println("🔄 Backend unreachable, retrying...")
	return nil
}

func applyFlags(cfg *config.Config) {
	if *voiceURL != "" {
		cfg.VoiceURL = *voiceURL
	}
	if *inputWAV != "" {
		cfg.Input.Backend = audioio.BackendFile
		cfg.Input.Device = *inputWAV
	}
	if *outputWAV != "" {
		cfg.Output.Backend = audioio.BackendFile
		cfg.Output.Device = *outputWAV
	}
	if *noResume {
		cfg.Call.AutoResume = false
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
}

func newSession(ctx context.Context, cfg *config.Config) (*session.Session, error) {
	logger := log.L()

	defaults := transport.DefaultConfig()
	ch, err := transport.New(
		transport.WithURL(cfg.VoiceURL),
		transport.WithPingInterval(cfg.Call.PingInterval),
		transport.WithReconnect(cfg.Call.MaxReconnectAttempts, defaults.ReconnectBaseDelay, defaults.ReconnectMaxDelay),
		transport.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	sink, err := audioio.NewSink(cfg.Output, logger)
	if err != nil {
		return nil, err
	}

	client, err := services.New(
		services.WithBaseURL(cfg.APIURL),
		services.WithToken(cfg.APIToken),
		services.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	providers, err := cfg.SpeechProviders(ctx, client, logger)
	if err != nil {
		return nil, err
	}
	local := cfg.LocalSpeech(logger)
	if local != nil {
		providers = append(providers, local)
	}

	opts := []playback.Option{playback.WithLogger(logger), playback.WithLocalSpeech(local)}
	if speech, err := tts.NewChainWithLogger(logger, providers...); err == nil {
		opts = append(opts, playback.WithSpeech(speech))
	} else {
		logger.Warn("no speech synthesizer, replies without audio stay silent")
	}
	player := playback.New(sink, opts...)

	mic := capture.New(capture.DeviceOpener(cfg.Input, logger), capture.WithLogger(logger))

	return session.New(ch, mic, player,
		session.WithAutoResume(cfg.Call.AutoResume),
		session.WithEndGrace(cfg.Call.EndGrace),
		session.WithResponseAudioWait(cfg.Call.ResponseAudioWait),
		session.WithLogger(logger),
	)
}

// readKeys turns Enter presses into Talk and closes hangup on q or EOF.
func readKeys(s *session.Session, hangup chan<- struct{}) {
	defer close(hangup)
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		if strings.EqualFold(strings.TrimSpace(in.Text()), "q") {
			return
		}
		if err := s.Talk(); err != nil {
			switch {
			case errors.Is(err, session.ErrBusy):
				fmt.Println("⏳ Still thinking...")
			case errors.Is(err, session.ErrNotConnected):
				fmt.Println("🔌 Not connected")
			case errors.Is(err, session.ErrEnded), errors.Is(err, session.ErrClosed):
				return
			default:
				fmt.Printf("⚠️  %v\n", err)
			}
		}
	}
}

func show(u session.Update) {
	switch u.Kind {
	case session.UpdateState:
		switch u.State {
		case session.StateListening:
			fmt.Println("🎤 Listening... (Enter to send)")
		case session.StateProcessing:
			fmt.Println("💭 Processing...")
		case session.StateSpeaking:
			fmt.Println("🔊 Speaking... (Enter to interrupt)")
		}
	case session.UpdateStatus:
		switch u.Status {
		case transport.StatusConnected:
			fmt.Println("✅ Connected")
		case transport.StatusConnecting:
			if u.Attempt > 0 {
				fmt.Printf("🔄 Reconnecting (attempt %d, in %v)\n", u.Attempt, u.Delay)
			}
		case transport.StatusDisconnected:
			fmt.Println("🔌 Disconnected")
		}
	case session.UpdateTranscript:
		fmt.Printf("🧑 %s\n", u.Text)
	case session.UpdateResponse:
		fmt.Printf("🩺 %s\n", u.Text)
	case session.UpdateError:
		fmt.Printf("⚠️  %s\n", u.Text)
	case session.UpdateAlert:
		if u.Err != nil {
			fmt.Printf("❌ %s: %v\n", u.Text, u.Err)
		} else {
			fmt.Printf("❌ %s\n", u.Text)
		}
	case session.UpdateEnding:
		fmt.Println("📴 Call ending...")
	}
}
