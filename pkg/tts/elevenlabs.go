package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-aira/internal/httpc"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ElevenLabs model IDs.
const (
	ModelTurboV2_5      = "eleven_turbo_v2_5"
	ModelFlashV2_5      = "eleven_flash_v2_5"
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// elevenLabsVoices maps preset names to voice IDs.
var elevenLabsVoices = map[string]string{
	"rachel":    "21m00Tcm4TlvDq8ikWAM",
	"sarah":     "EXAVITQu4vr4xnSDxMaL",
	"charlotte": "XB0fDUnXU5powFXDhCwa",
	"aria":      "9BWtsMINqrJLrRacOk9x",
	"adam":      "pNInz6obpgDQGcFmaJgB",
}

// ResolveElevenLabsVoice returns the voice ID for a preset name, or the
// input unchanged if it is already an ID.
func ResolveElevenLabsVoice(name string) string {
	if id, ok := elevenLabsVoices[name]; ok {
		return id
	}
	return name
}

// ElevenLabs implements Provider for the ElevenLabs REST API. Output is
// requested as raw PCM so it can be played without a decoder.
type ElevenLabs struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewElevenLabs creates an ElevenLabs provider.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTurboV2_5
	cfg.VoiceID = "rachel"
	cfg.OutputFormat = EncodingPCM16
	cfg.Apply(opts...)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}
	cfg.VoiceID = ResolveElevenLabsVoice(cfg.VoiceID)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}

	return &ElevenLabs{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "tts.elevenlabs"),
		baseURL: baseURL,
	}, nil
}

// Synthesize converts text to audio.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if text == "" {
		return nil, WrapError(providerElevenLabs, ErrEmptyText)
	}
	start := time.Now()

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": e.config.ModelID,
		"voice_settings": map[string]any{
			"stability":         e.config.VoiceSettings.Stability,
			"similarity_boost":  e.config.VoiceSettings.SimilarityBoost,
			"style":             e.config.VoiceSettings.Style,
			"use_speaker_boost": e.config.VoiceSettings.SpeakerBoost,
		},
	})
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}

	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", e.baseURL, e.config.VoiceID, e.config.OutputFormat)
	resp, err := e.doWithRetry(ctx, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("read response: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	e.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"model", e.config.ModelID,
	)

	rate := SampleRateFromEncoding(e.config.OutputFormat)
	return &AudioResult{
		Audio: audio,
		Format: AudioFormat{
			Encoding:   e.config.OutputFormat,
			SampleRate: rate,
			Channels:   1,
			BitDepth:   16,
		},
		Duration:  pcmDuration(len(audio), rate),
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Health checks API connectivity and API key validity.
func (e *ElevenLabs) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/user", nil)
	if err != nil {
		return WrapError(providerElevenLabs, err)
	}
	req.Header.Set("xi-api-key", e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return WrapError(providerElevenLabs, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return e.parseError(resp)
	}
	return nil
}

// Close releases idle connections.
func (e *ElevenLabs) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// Name returns "elevenlabs".
func (e *ElevenLabs) Name() string { return providerElevenLabs }

// VoiceID returns the resolved voice ID.
func (e *ElevenLabs) VoiceID() string { return e.config.VoiceID }

// doWithRetry posts body to url, retrying rate limits and server errors
// with linear backoff.
func (e *ElevenLabs) doWithRetry(ctx context.Context, url string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, WrapError(providerElevenLabs, fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("xi-api-key", e.config.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/pcm")

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = WrapError(providerElevenLabs, err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		apiErr := e.parseError(resp)
		resp.Body.Close()
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		e.logger.Warn("retrying request", "attempt", attempt+1, "status", apiErr.StatusCode)
	}

	return nil, lastErr
}

// parseError reads an error response body.
func (e *ElevenLabs) parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Detail struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"detail"`
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(body),
		Provider:   providerElevenLabs,
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail.Message != "" {
		apiErr.Message = errResp.Detail.Message
		apiErr.Code = errResp.Detail.Status
	}
	return apiErr
}

// pcmDuration returns the playing time of n bytes of mono PCM16.
func pcmDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n/2) * time.Second / time.Duration(rate)
}

var _ Provider = (*ElevenLabs)(nil)
