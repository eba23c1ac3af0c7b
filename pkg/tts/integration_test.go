//go:build integration

package tts_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/teslashibe/go-aira/pkg/tts"
)

// Run with: go test -tags=integration -v ./pkg/tts/...

func TestElevenLabsIntegration(t *testing.T) {
	apiKey := os.Getenv("ELEVENLABS_API_KEY")
	if apiKey == "" {
		t.Skip("ELEVENLABS_API_KEY not set")
	}

	provider, err := tts.NewElevenLabs(
		tts.WithAPIKey(apiKey),
		tts.WithModel(tts.ModelTurboV2_5),
		tts.WithOutputFormat(tts.EncodingPCM24),
	)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer provider.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := provider.Health(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	result, err := provider.Synthesize(ctx, "Hello, this is AIRA. How are you feeling today?")
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	t.Logf("synthesized %d bytes in %dms", len(result.Audio), result.LatencyMs)

	pcm, err := result.PCM()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if pcm.SampleRate != 24000 {
		t.Errorf("expected 24000 sample rate, got %d", pcm.SampleRate)
	}
	if pcm.Duration() < 500*time.Millisecond {
		t.Errorf("audio too short: %v", pcm.Duration())
	}
}

func TestOpenAIIntegration(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	provider, err := tts.NewOpenAI(tts.WithAPIKey(apiKey))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := provider.Synthesize(ctx, "Remember to take your medication with food.")
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if _, err := result.PCM(); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	t.Logf("synthesized %d bytes in %dms", len(result.Audio), result.LatencyMs)
}

func TestGoogleIntegration(t *testing.T) {
	apiKey := os.Getenv("GOOGLE_TTS_API_KEY")
	if apiKey == "" {
		t.Skip("GOOGLE_TTS_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	provider, err := tts.NewGoogle(ctx, tts.WithAPIKey(apiKey))
	if err != nil {
		t.Fatal(err)
	}
	if err := provider.Health(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	result, err := provider.Synthesize(ctx, "Your appointment is confirmed.")
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if _, err := result.PCM(); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
}

func TestChainIntegration(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	broken, _ := tts.NewOpenAI(tts.WithAPIKey("invalid"))
	working, _ := tts.NewOpenAI(tts.WithAPIKey(apiKey))

	chain, err := tts.NewChain(broken, working)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := chain.Synthesize(ctx, "Fallback check."); err != nil {
		t.Fatalf("chain failed: %v", err)
	}
}
