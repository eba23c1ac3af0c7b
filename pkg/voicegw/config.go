package voicegw

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultSystemPrompt is the assistant persona used for every call.
const DefaultSystemPrompt = "You are AIRA (AI Responsive & Intelligent Assistant), a comprehensive medical AI assistant. " +
	"You can help with symptom analysis, appointments, medications, health coaching, emergencies, and all healthcare needs. " +
	"Provide supportive and informative responses. " +
	"Always recommend consulting with healthcare professionals for serious symptoms. " +
	"Keep responses concise and clear for voice interaction."

// DefaultGoodbyeMessage is spoken before the backend ends a call.
const DefaultGoodbyeMessage = "Thank you for using AIRA. Take care of your health. Goodbye!"

// DefaultGoodbyePhrases end the call when found in a transcript.
var DefaultGoodbyePhrases = []string{"goodbye", "bye", "end call", "hang up", "stop", "quit", "exit"}

// Config holds gateway configuration.
type Config struct {
	SystemPrompt   string
	GoodbyePhrases []string
	GoodbyeMessage string

	// HistoryLimit is the number of past messages sent with each turn.
	HistoryLimit int

	Temperature float64
	MaxTokens   int

	// TurnTimeout bounds one utterance from transcription to audio.
	TurnTimeout time.Duration

	// AllowOrigins is the CORS origin list.
	AllowOrigins string

	// Registry receives the gateway metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry

	Logger *slog.Logger
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() *Config {
	return &Config{
		SystemPrompt:   DefaultSystemPrompt,
		GoodbyePhrases: DefaultGoodbyePhrases,
		GoodbyeMessage: DefaultGoodbyeMessage,
		HistoryLimit:   10,
		Temperature:    0.7,
		TurnTimeout:    60 * time.Second,
		AllowOrigins:   "*",
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SystemPrompt == "" {
		return errors.New("voicegw: system prompt is required")
	}
	if c.GoodbyeMessage == "" {
		return errors.New("voicegw: goodbye message is required")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("voicegw: history limit must not be negative, got %d", c.HistoryLimit)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("voicegw: temperature must be in [0, 2], got %v", c.Temperature)
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("voicegw: turn timeout must be positive, got %v", c.TurnTimeout)
	}
	return nil
}

// Option is a functional option for configuring the gateway.
type Option func(*Config)

// WithSystemPrompt replaces the assistant persona.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) {
		c.SystemPrompt = prompt
	}
}

// WithGoodbye sets the phrases that end a call and the farewell spoken.
func WithGoodbye(message string, phrases ...string) Option {
	return func(c *Config) {
		c.GoodbyeMessage = message
		if len(phrases) > 0 {
			c.GoodbyePhrases = phrases
		}
	}
}

// WithHistoryLimit sets how many past messages accompany each turn.
func WithHistoryLimit(n int) Option {
	return func(c *Config) {
		c.HistoryLimit = n
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) {
		c.Temperature = t
	}
}

// WithMaxTokens caps the reply length. Zero leaves it to the model.
func WithMaxTokens(n int) Option {
	return func(c *Config) {
		c.MaxTokens = n
	}
}

// WithTurnTimeout bounds one utterance.
func WithTurnTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.TurnTimeout = d
	}
}

// WithAllowOrigins sets the CORS origins.
func WithAllowOrigins(origins string) Option {
	return func(c *Config) {
		c.AllowOrigins = origins
	}
}

// WithRegistry sets the metrics registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = reg
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
