package tts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const providerLocal = "local"

// DefaultLocalCommand writes WAV to stdout for the text given as the last
// argument. The text always follows a "--" so it is never read as an option.
var DefaultLocalCommand = []string{"espeak-ng", "--stdout", "-s", "165"}

// Local implements Provider by running an on-device synthesizer. It is
// the last resort when hosted speech is unavailable.
type Local struct {
	argv    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewLocal creates a local provider. It fails with ErrProviderUnavailable
// when the command is not installed.
func NewLocal(opts ...Option) (*Local, error) {
	cfg := DefaultConfig()
	cfg.Command = DefaultLocalCommand
	cfg.Apply(opts...)

	if len(cfg.Command) == 0 {
		return nil, WrapError(providerLocal, ErrProviderUnavailable)
	}
	if _, err := exec.LookPath(cfg.Command[0]); err != nil {
		return nil, WrapError(providerLocal, fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
	}

	return &Local{
		argv:    cfg.Command,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With("component", "tts.local", "command", cfg.Command[0]),
	}, nil
}

// Synthesize runs the command and returns its WAV output.
func (l *Local) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, WrapError(providerLocal, ErrEmptyText)
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	start := time.Now()

	args := append(append([]string{}, l.argv[1:]...), "--", text)
	cmd := exec.CommandContext(ctx, l.argv[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, WrapError(providerLocal, fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String())))
	}

	audio := stdout.Bytes()
	l.logger.Debug("synthesized audio", "chars", len(text), "bytes", len(audio))

	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: DetectEncoding(audio), Channels: 1},
		CharCount: len(text),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Health checks the command is still installed.
func (l *Local) Health(ctx context.Context) error {
	if _, err := exec.LookPath(l.argv[0]); err != nil {
		return WrapError(providerLocal, err)
	}
	return nil
}

// Close is a no-op.
func (l *Local) Close() error { return nil }

// Name returns "local".
func (l *Local) Name() string { return providerLocal }

var _ Provider = (*Local)(nil)
