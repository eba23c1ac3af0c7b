package services

import (
	"errors"
	"log/slog"
	"time"
)

// Config holds backend client configuration.
type Config struct {
	// BaseURL is the backend root, e.g. https://api.aira.health.
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	Timeout time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithBaseURL sets the backend root URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Config) {
		c.Token = token
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns defaults for a local backend.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:8000",
		Timeout: 60 * time.Second,
		Logger:  slog.Default(),
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
	if c.BaseURL == "" {
		return errors.New("services: base URL required")
	}
	return nil
}
