package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config holds call session timing and wiring.
type Config struct {
	// AutoResume starts listening again after a reply finishes playing.
	AutoResume bool

	// ResumeDelay is the pause before auto-resume.
	ResumeDelay time.Duration

	// ErrorDisplay is how long a backend error message stays visible.
	ErrorDisplay time.Duration

	// EndGrace is the delay between the backend's end frame and Ended.
	EndGrace time.Duration

	// ResponseAudioWait is how long a reply waits for its audio before it
	// is synthesized locally.
	ResponseAudioWait time.Duration

	// UpdateBuffer is the capacity of the Updates channel.
	UpdateBuffer int

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// DefaultConfig returns the call defaults.
func DefaultConfig() *Config {
	return &Config{
		AutoResume:        true,
		ResumeDelay:       500 * time.Millisecond,
		ErrorDisplay:      5 * time.Second,
		EndGrace:          2 * time.Second,
		ResponseAudioWait: 3 * time.Second,
		UpdateBuffer:      256,
		Clock:             clockwork.NewRealClock(),
		Logger:            slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the timings.
func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"resume delay":        c.ResumeDelay,
		"error display":       c.ErrorDisplay,
		"end grace":           c.EndGrace,
		"response audio wait": c.ResponseAudioWait,
	} {
		if d <= 0 {
			return fmt.Errorf("session: %s must be positive, got %v", name, d)
		}
	}
	if c.UpdateBuffer < 1 {
		return fmt.Errorf("session: update buffer must be at least 1, got %d", c.UpdateBuffer)
	}
	return nil
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

// WithAutoResume enables or disables listening after a reply.
func WithAutoResume(on bool) Option {
	return func(c *Config) {
		c.AutoResume = on
	}
}

// WithResumeDelay sets the pause before auto-resume.
func WithResumeDelay(d time.Duration) Option {
	return func(c *Config) {
		c.ResumeDelay = d
	}
}

// WithErrorDisplay sets how long error messages stay visible.
func WithErrorDisplay(d time.Duration) Option {
	return func(c *Config) {
		c.ErrorDisplay = d
	}
}

// WithEndGrace sets the delay before Ended after an end frame.
func WithEndGrace(d time.Duration) Option {
	return func(c *Config) {
		c.EndGrace = d
	}
}

// WithResponseAudioWait sets how long a reply waits for its audio.
func WithResponseAudioWait(d time.Duration) Option {
	return func(c *Config) {
		c.ResponseAudioWait = d
	}
}

// WithUpdateBuffer sets the Updates channel capacity.
func WithUpdateBuffer(n int) Option {
	return func(c *Config) {
		c.UpdateBuffer = n
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
