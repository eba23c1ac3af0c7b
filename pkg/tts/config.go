package tts

import (
	"log/slog"
	"time"
)

// Config is shared by every speech provider. Each constructor seeds its
// own voice and model defaults, applies the options, then reads only the
// fields it needs.
type Config struct {
	// APIKey and BaseURL address the hosted providers (ElevenLabs, Google,
	// OpenAI). An empty BaseURL means the provider's public endpoint.
	APIKey  string
	BaseURL string

	// VoiceID is a provider voice name or ID. ModelID selects the
	// ElevenLabs or OpenAI speech model.
	VoiceID string
	ModelID string

	// LanguageCode and SampleRate shape Google's LINEAR16 output.
	LanguageCode string
	SampleRate   int

	// OutputFormat and VoiceSettings are sent to ElevenLabs.
	OutputFormat  Encoding
	VoiceSettings VoiceSettings

	// Command is the local synthesizer executable and its arguments.
	Command []string

	// Timeout bounds one synthesis request.
	Timeout time.Duration

	// MaxRetries and RetryDelay apply to retryable ElevenLabs failures.
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the provider-independent defaults.
func DefaultConfig() *Config {
	return &Config{
		LanguageCode:  "en-US",
		SampleRate:    24000,
		OutputFormat:  EncodingWAV,
		VoiceSettings: DefaultVoiceSettings(),
		Timeout:       30 * time.Second,
		MaxRetries:    2,
		RetryDelay:    200 * time.Millisecond,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate reports ErrNoAPIKey for a hosted provider without credentials.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

// ValidateWithVoice also requires a voice, for providers with no usable
// default.
func (c *Config) ValidateWithVoice() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.VoiceID == "" {
		return ErrNoVoiceID
	}
	return nil
}

// Option configures a speech provider.
type Option func(*Config)

// WithAPIKey sets the hosted provider's API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL points a hosted provider at another endpoint, e.g. a test
// server.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithVoice sets the voice name or ID.
func WithVoice(voiceID string) Option {
	return func(c *Config) { c.VoiceID = voiceID }
}

// WithModel sets the speech model.
func WithModel(modelID string) Option {
	return func(c *Config) { c.ModelID = modelID }
}

// WithLanguage sets the BCP-47 language code used by Google.
func WithLanguage(code string) Option {
	return func(c *Config) { c.LanguageCode = code }
}

// WithOutputFormat sets the ElevenLabs output encoding.
func WithOutputFormat(format Encoding) Option {
	return func(c *Config) { c.OutputFormat = format }
}

// WithSampleRate sets the Google output sample rate.
func WithSampleRate(hz int) Option {
	return func(c *Config) { c.SampleRate = hz }
}

// WithCommand sets the local synthesizer command line. The reply text is
// appended after "--".
func WithCommand(argv ...string) Option {
	return func(c *Config) { c.Command = argv }
}

// WithTimeout bounds each synthesis request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithRetry sets how often a retryable request is repeated and the base
// delay between attempts.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}
