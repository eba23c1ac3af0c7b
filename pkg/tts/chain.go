package tts

import (
	"context"
	"fmt"
	"log/slog"
)

// Chain implements Provider by trying providers in order. The first
// success wins; if every provider fails the result is a *ChainError.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a provider chain. Nil providers are skipped; at least
// one usable provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	return NewChainWithLogger(slog.Default(), providers...)
}

// NewChainWithLogger creates a provider chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	var usable []Provider
	for _, p := range providers {
		if p != nil {
			usable = append(usable, p)
		}
	}
	if len(usable) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers: usable,
		logger:    logger.With("component", "tts.chain"),
	}, nil
}

// Synthesize tries each provider until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	var errs []error

	for i, p := range c.providers {
		result, err := p.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded",
					"provider", providerName(p),
					"chars", len(text),
				)
			}
			return result, nil
		}

		errs = append(errs, err)
		c.logger.Warn("provider failed",
			"provider", providerName(p),
			"error", err,
		)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, &ChainError{Errors: errs}
}

// Health succeeds when at least one provider is healthy.
func (c *Chain) Health(ctx context.Context) error {
	var (
		healthy int
		lastErr error
	)
	for _, p := range c.providers {
		if err := p.Health(ctx); err != nil {
			lastErr = err
			continue
		}
		healthy++
	}

	if healthy == 0 {
		return fmt.Errorf("all %d providers unhealthy: %w", len(c.providers), lastErr)
	}
	return nil
}

// Close closes all providers.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Providers returns the providers in order.
func (c *Chain) Providers() []Provider {
	return c.providers
}

// Name returns "chain".
func (c *Chain) Name() string { return "chain" }

func providerName(p Provider) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}

var _ Provider = (*Chain)(nil)
