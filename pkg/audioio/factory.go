package audioio

import (
	"fmt"
	"log/slog"
)

// NewSource creates an input device for cfg.Backend.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("creating audio source",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	switch cfg.Backend {
	case BackendMock, "":
		return NewMockSource(cfg, logger), nil
	case BackendFile:
		return NewFileSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrDeviceUnavailable, cfg.Backend)
	}
}

// NewSink creates an output device for cfg.Backend.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("creating audio sink",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	switch cfg.Backend {
	case BackendMock, "":
		return NewMockSink(cfg, logger), nil
	case BackendFile:
		return NewFileSink(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrDeviceUnavailable, cfg.Backend)
	}
}

// AvailableBackends lists the backends this build supports.
func AvailableBackends() []Backend {
	return []Backend{BackendMock, BackendFile}
}
