package tts

import (
	"context"
	"log/slog"
	"time"
)

const providerBackend = "backend"

// SpeechClient is the text-to-speech endpoint of the AIRA backend.
// *services.Client satisfies it.
type SpeechClient interface {
	TextToSpeech(ctx context.Context, text, voiceID string) ([]byte, error)
}

// Backend implements Provider on top of the AIRA backend. The endpoint
// returns whatever its upstream synthesizer produces, so the encoding is
// sniffed from the bytes.
type Backend struct {
	client  SpeechClient
	voiceID string
	logger  *slog.Logger
}

// NewBackend creates a provider that calls client.
func NewBackend(client SpeechClient, opts ...Option) *Backend {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	return &Backend{
		client:  client,
		voiceID: cfg.VoiceID,
		logger:  cfg.Logger.With("component", "tts.backend"),
	}
}

// Synthesize converts text to audio through the backend.
func (b *Backend) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if text == "" {
		return nil, WrapError(providerBackend, ErrEmptyText)
	}
	start := time.Now()

	audio, err := b.client.TextToSpeech(ctx, text, b.voiceID)
	if err != nil {
		return nil, WrapError(providerBackend, err)
	}
	enc := DetectEncoding(audio)

	b.logger.Debug("synthesized audio", "chars", len(text), "bytes", len(audio), "encoding", enc)

	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: enc, Channels: 1},
		CharCount: len(text),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Health is optimistic; the backend has its own health endpoint.
func (b *Backend) Health(ctx context.Context) error { return nil }

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// Name returns "backend".
func (b *Backend) Name() string { return providerBackend }

var _ Provider = (*Backend)(nil)
