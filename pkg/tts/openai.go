package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-aira/internal/httpc"
)

const providerOpenAI = "openai"

// OpenAI voices.
const (
	VoiceAlloy   = "alloy"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// OpenAI models.
const (
	ModelTTS1   = "tts-1"
	ModelTTS1HD = "tts-1-hd"
)

// OpenAI implements Provider with the OpenAI speech endpoint. Audio is
// requested as WAV.
type OpenAI struct {
	config *Config
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = VoiceShimmer
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = httpc.NewClient(cfg.Timeout)

	return &OpenAI{
		config: cfg,
		client: openai.NewClientWithConfig(clientCfg),
		logger: cfg.Logger.With("component", "tts.openai"),
	}, nil
}

// Synthesize converts text to WAV audio.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if text == "" {
		return nil, WrapError(providerOpenAI, ErrEmptyText)
	}
	start := time.Now()

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.config.ModelID),
		Input:          text,
		Voice:          openai.SpeechVoice(o.config.VoiceID),
		ResponseFormat: openai.SpeechResponseFormat("wav"),
	})
	if err != nil {
		return nil, o.wrap(err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("read response: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	o.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", o.config.VoiceID,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: EncodingWAV, SampleRate: 24000, Channels: 1, BitDepth: 16},
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Health lists models to check the key.
func (o *OpenAI) Health(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return o.wrap(err)
	}
	return nil
}

// Close is a no-op; the HTTP client is shared.
func (o *OpenAI) Close() error { return nil }

// Name returns "openai".
func (o *OpenAI) Name() string { return providerOpenAI }

// VoiceID returns the configured voice.
func (o *OpenAI) VoiceID() string { return o.config.VoiceID }

// wrap converts go-openai errors into APIError where a status is known.
func (o *OpenAI) wrap(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		return &APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Code:       code,
			Provider:   providerOpenAI,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Provider:   providerOpenAI,
		}
	}
	return WrapError(providerOpenAI, err)
}

var _ Provider = (*OpenAI)(nil)
