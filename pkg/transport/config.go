package transport

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config holds configuration for a voice socket channel.
type Config struct {
	// URL is the voice endpoint, e.g. ws://localhost:8000/ws/voice.
	URL string

	// Header is sent with every handshake (auth, origin).
	Header http.Header

	// HandshakeTimeout bounds each dial attempt.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// PingInterval is the heartbeat period while connected.
	PingInterval time.Duration

	// MaxReconnectAttempts caps consecutive reconnection attempts.
	MaxReconnectAttempts int

	// ReconnectBaseDelay is the delay before the first reconnection attempt.
	// Later attempts double it up to ReconnectMaxDelay.
	ReconnectBaseDelay time.Duration

	// ReconnectMaxDelay caps the backoff delay.
	ReconnectMaxDelay time.Duration

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int

	// Dialer opens connections. Defaults to a gorilla/websocket dialer.
	Dialer Dialer

	// Clock drives the heartbeat and backoff timers.
	Clock clockwork.Clock

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with the call defaults.
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		PingInterval:         30 * time.Second,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    5 * time.Second,
		EventBuffer:          64,
		Clock:                clockwork.NewRealClock(),
		Logger:               slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrMissingURL
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("transport: ping interval must be positive, got %v", c.PingInterval)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("transport: max reconnect attempts must not be negative, got %d", c.MaxReconnectAttempts)
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("transport: invalid backoff %v..%v", c.ReconnectBaseDelay, c.ReconnectMaxDelay)
	}
	return nil
}

// Option is a functional option for configuring a Channel.
type Option func(*Config)

// WithURL sets the voice endpoint.
func WithURL(url string) Option {
	return func(c *Config) {
		c.URL = url
	}
}

// WithHeader sets the handshake headers.
func WithHeader(h http.Header) Option {
	return func(c *Config) {
		c.Header = h
	}
}

// WithPingInterval sets the heartbeat period.
func WithPingInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PingInterval = d
	}
}

// WithReconnect configures the reconnection cap and backoff bounds.
func WithReconnect(attempts int, base, max time.Duration) Option {
	return func(c *Config) {
		c.MaxReconnectAttempts = attempts
		c.ReconnectBaseDelay = base
		c.ReconnectMaxDelay = max
	}
}

// WithDialer replaces the connection dialer.
func WithDialer(d Dialer) Option {
	return func(c *Config) {
		c.Dialer = d
	}
}

// WithClock replaces the clock used for timers.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
