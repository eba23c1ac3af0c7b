package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"
)

const providerGoogle = "google"

// DefaultGoogleVoice is a clear US English neural voice.
const DefaultGoogleVoice = "en-US-Neural2-F"

// Google implements Provider with Cloud Text-to-Speech. LINEAR16 output
// arrives as a WAV container.
type Google struct {
	config *Config
	svc    *texttospeech.Service
	logger *slog.Logger
}

// NewGoogle creates a Google provider authenticated with an API key.
func NewGoogle(ctx context.Context, opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.VoiceID = DefaultGoogleVoice
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// WithHTTPClient would drop the API key, so the library's own
	// transport is used and timeouts come from the request context.
	clientOpts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.BaseURL))
	}

	svc, err := texttospeech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("create service: %w", err))
	}

	return &Google{
		config: cfg,
		svc:    svc,
		logger: cfg.Logger.With("component", "tts.google"),
	}, nil
}

// Synthesize converts text to WAV audio.
func (g *Google) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if text == "" {
		return nil, WrapError(providerGoogle, ErrEmptyText)
	}
	start := time.Now()

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: g.config.LanguageCode,
			Name:         g.config.VoiceID,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding:   "LINEAR16",
			SampleRateHertz: int64(g.config.SampleRate),
		},
	}

	resp, err := g.svc.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		return nil, g.wrap(err)
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("decode audio: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	g.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", g.config.VoiceID,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: EncodingWAV, SampleRate: g.config.SampleRate, Channels: 1, BitDepth: 16},
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Health lists the voices for the configured language.
func (g *Google) Health(ctx context.Context) error {
	if _, err := g.svc.Voices.List().LanguageCode(g.config.LanguageCode).Context(ctx).Do(); err != nil {
		return g.wrap(err)
	}
	return nil
}

// Close is a no-op.
func (g *Google) Close() error { return nil }

// Name returns "google".
func (g *Google) Name() string { return providerGoogle }

func (g *Google) wrap(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{
			StatusCode: gerr.Code,
			Message:    gerr.Message,
			Provider:   providerGoogle,
		}
	}
	return WrapError(providerGoogle, err)
}

var _ Provider = (*Google)(nil)
