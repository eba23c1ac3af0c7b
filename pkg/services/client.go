// Package services is a client for the AIRA backend's request/response
// endpoints: chat completion, Whisper transcription and text-to-speech.
//
// The voice call itself runs over the socket protocol in pkg/transport;
// these endpoints back the non-socket voice flow and the text chat.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teslashibe/go-aira/internal/httpc"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat-completion request body.
type ChatRequest struct {
	Messages     []Message `json:"messages"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Temperature  *float64  `json:"temperature,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
}

// ChatResponse is the chat-completion response body.
type ChatResponse struct {
	Success    bool           `json:"success"`
	Content    string         `json:"content"`
	Model      string         `json:"model"`
	Usage      map[string]any `json:"usage,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Transcription is the Whisper endpoint response.
type Transcription struct {
	Success  bool   `json:"success"`
	Text     string `json:"text"`
	Filename string `json:"filename"`
}

// Client calls the backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a backend client. When a token is configured every request
// carries it as a bearer token.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var client *http.Client
	if cfg.Token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		client = httpc.WithTransport(cfg.Timeout, func(base http.RoundTripper) http.RoundTripper {
			return &oauth2.Transport{Source: src, Base: base}
		})
	} else {
		client = httpc.NewClient(cfg.Timeout)
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    client,
		logger:  cfg.Logger.With("component", "services.client"),
	}, nil
}

// ChatCompletion sends messages to /api/v1/bedrock/chat.
func (c *Client) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("services: marshal chat request: %w", err)
	}

	var out ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/bedrock/chat", "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return &out, fmt.Errorf("%w: %s", ErrUnsuccessful, out.Error)
	}

	c.logger.Debug("chat completion",
		"messages", len(req.Messages),
		"model", out.Model,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &out, nil
}

// TranscribeAudio uploads audio to /api/v1/transcription/whisper.
func (c *Client) TranscribeAudio(ctx context.Context, audio []byte, filename string) (*Transcription, error) {
	start := time.Now()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("services: create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("services: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("services: close multipart: %w", err)
	}

	var out Transcription
	if err := c.do(ctx, http.MethodPost, "/api/v1/transcription/whisper", mw.FormDataContentType(), &buf, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return &out, ErrUnsuccessful
	}

	c.logger.Debug("transcribed audio",
		"bytes", len(audio),
		"chars", len(out.Text),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &out, nil
}

// TextToSpeech returns synthesized audio from /api/v1/voice/text-to-speech.
// An empty voiceID uses the backend default.
func (c *Client) TextToSpeech(ctx context.Context, text, voiceID string) ([]byte, error) {
	payload := map[string]string{"text": text}
	if voiceID != "" {
		payload["voice_id"] = voiceID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("services: marshal tts request: %w", err)
	}

	resp, err := c.send(ctx, http.MethodPost, "/api/v1/voice/text-to-speech", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("services: read audio: %w", err)
	}
	return audio, nil
}

// Health calls /health.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	resp, err := c.send(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("services: decode %s: %w", path, err)
	}
	return nil
}

// send performs the request and converts non-2xx responses to *APIError.
func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("services: create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("services: %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}
	return resp, nil
}

// parseError reads a FastAPI-style {"detail": ...} body.
func parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}

	var detail struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(body, &detail) == nil {
		if s, ok := detail.Detail.(string); ok && s != "" {
			apiErr.Message = s
		}
	}
	return apiErr
}
