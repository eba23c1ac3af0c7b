package voicegw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-aira/internal/httpc"
	"github.com/teslashibe/go-aira/pkg/audioio"
	"github.com/teslashibe/go-aira/pkg/services"
	"github.com/teslashibe/go-aira/pkg/tts"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of the conversation kept per connection.
type Turn struct {
	Role    string
	Content string
}

// Transcriber turns an utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Chatter produces the assistant reply for a conversation.
type Chatter interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// ChatRequest is what a Chatter receives for one turn.
type ChatRequest struct {
	SystemPrompt string
	Messages     []Turn
	Temperature  float64
	MaxTokens    int
}

// Pipeline bundles the stages run for every utterance.
type Pipeline struct {
	Transcriber Transcriber
	Chatter     Chatter
	Speech      tts.Provider
}

func (p Pipeline) validate() error {
	switch {
	case p.Transcriber == nil:
		return errors.New("voicegw: pipeline has no transcriber")
	case p.Chatter == nil:
		return errors.New("voicegw: pipeline has no chatter")
	case p.Speech == nil:
		return errors.New("voicegw: pipeline has no speech provider")
	}
	return nil
}

// ErrEmptyReply is returned when the model answers with no content.
var ErrEmptyReply = errors.New("voicegw: empty reply")

// utteranceName picks the upload filename from the audio container.
func utteranceName(audio []byte) string {
	if audioio.IsWAV(audio) {
		return "audio.wav"
	}
	return "audio.webm"
}

// Default OpenAI models.
const (
	DefaultChatModel          = "gpt-4o"
	DefaultTranscriptionModel = "whisper-1"
)

// OpenAIConfig configures the OpenAI stages.
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	ChatModel          string
	TranscriptionModel string
	Timeout            time.Duration
	Logger             *slog.Logger
}

// OpenAI runs transcription and chat against the OpenAI API.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *slog.Logger
}

// NewOpenAI creates the OpenAI stages.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("voicegw: OpenAI API key is required")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = DefaultTranscriptionModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = httpc.NewClient(cfg.Timeout)

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: cfg.Logger.With("component", "voicegw.openai"),
	}, nil
}

// Transcribe sends the utterance to Whisper.
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.cfg.TranscriptionModel,
		Reader:   bytes.NewReader(audio),
		FilePath: filename,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Chat runs a chat completion with the system prompt first.
func (o *OpenAI) Chat(ctx context.Context, req ChatRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.cfg.ChatModel,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyReply
	}

	o.logger.Debug("chat completion",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

// Backend runs transcription and chat through the AIRA HTTP API.
type Backend struct {
	client *services.Client
}

// NewBackend wraps a services client.
func NewBackend(client *services.Client) *Backend {
	return &Backend{client: client}
}

// Transcribe uploads the utterance to the Whisper route.
func (b *Backend) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	tr, err := b.client.TranscribeAudio(ctx, audio, filename)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(tr.Text), nil
}

// Chat calls the chat route with the system prompt as its own field.
func (b *Backend) Chat(ctx context.Context, req ChatRequest) (string, error) {
	messages := make([]services.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = services.Message{Role: m.Role, Content: m.Content}
	}
	temperature := req.Temperature

	resp, err := b.client.ChatCompletion(ctx, &services.ChatRequest{
		Messages:     messages,
		MaxTokens:    req.MaxTokens,
		Temperature:  &temperature,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyReply
	}
	return resp.Content, nil
}
