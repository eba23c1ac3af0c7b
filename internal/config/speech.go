package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-aira/pkg/tts"
)

// SpeechProviders builds the remote synthesizers in Speech.Providers
// order. Entries without credentials are skipped, as is the backend
// entry when client is nil.
func (c *Config) SpeechProviders(ctx context.Context, client tts.SpeechClient, logger *slog.Logger) ([]tts.Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var providers []tts.Provider
	for _, name := range c.Speech.Providers {
		var (
			p   tts.Provider
			err error
		)
		switch name {
		case SpeechBackend:
			if client == nil {
				continue
			}
			opts := []tts.Option{tts.WithLogger(logger)}
			if c.Speech.Voice != "" {
				opts = append(opts, tts.WithVoice(c.Speech.Voice))
			}
			p = tts.NewBackend(client, opts...)

		case SpeechElevenLabs:
			if c.ElevenLabs.APIKey == "" {
				continue
			}
			opts := []tts.Option{tts.WithAPIKey(c.ElevenLabs.APIKey), tts.WithLogger(logger)}
			if c.ElevenLabs.VoiceID != "" {
				opts = append(opts, tts.WithVoice(c.ElevenLabs.VoiceID))
			}
			p, err = tts.NewElevenLabs(opts...)

		case SpeechGoogle:
			if c.Google.APIKey == "" {
				continue
			}
			opts := []tts.Option{tts.WithAPIKey(c.Google.APIKey), tts.WithLogger(logger)}
			if c.Google.Voice != "" {
				opts = append(opts, tts.WithVoice(c.Google.Voice))
			}
			if c.Google.Language != "" {
				opts = append(opts, tts.WithLanguage(c.Google.Language))
			}
			p, err = tts.NewGoogle(ctx, opts...)

		case SpeechOpenAI:
			if c.OpenAI.APIKey == "" {
				continue
			}
			opts := []tts.Option{tts.WithAPIKey(c.OpenAI.APIKey), tts.WithLogger(logger)}
			if c.OpenAI.Voice != "" {
				opts = append(opts, tts.WithVoice(c.OpenAI.Voice))
			}
			p, err = tts.NewOpenAI(opts...)

		default:
			return nil, fmt.Errorf("config: unknown speech provider %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("config: speech provider %s: %w", name, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// LocalSpeech returns the on-device synthesizer, or nil when its command
// is not installed.
func (c *Config) LocalSpeech(logger *slog.Logger) tts.Provider {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []tts.Option{tts.WithLogger(logger)}
	if len(c.Speech.LocalCommand) > 0 {
		opts = append(opts, tts.WithCommand(c.Speech.LocalCommand...))
	}

	local, err := tts.NewLocal(opts...)
	if err != nil {
		logger.Debug("local speech unavailable", "error", err)
		return nil
	}
	return local
}
