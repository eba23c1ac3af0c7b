// Package playback plays one assistant utterance at a time.
//
// A Controller owns the output device for the lifetime of a call. Each
// PlayBytes or Speak call starts a new playback, interrupting the one in
// flight, and finishes with exactly one Event: Ended on natural
// completion or Interrupted when stopped.
//
// Audio that cannot be decoded falls back to local speech synthesis of
// the accompanying text, and when no synthesizer is available the
// playback completes at once with Degraded set. Playback errors are never
// fatal.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-aira/pkg/audioio"
	"github.com/teslashibe/go-aira/pkg/tts"
)

// ErrClosed is returned by Err when the controller has been closed.
var ErrClosed = errors.New("playback: controller closed")

// EventKind identifies how a playback finished.
type EventKind int

const (
	// EventEnded is sent when a playback completes naturally.
	EventEnded EventKind = iota
	// EventInterrupted is sent when Stop or a newer playback cuts it short.
	EventInterrupted
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventEnded:
		return "ended"
	case EventInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Event reports the end of a playback.
type Event struct {
	Kind EventKind
	ID   uint64

	// Degraded is set when nothing could be played.
	Degraded bool

	// Err is the decode or synthesis failure that caused a fallback.
	Err error
}

// Stats contains playback counters.
type Stats struct {
	Plays         int64 `json:"plays"`
	Interruptions int64 `json:"interruptions"`
	Fallbacks     int64 `json:"fallbacks"`
	Degraded      int64 `json:"degraded"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithLocalSpeech sets the on-device synthesizer used when received
// audio cannot be played.
func WithLocalSpeech(p tts.Provider) Option {
	return func(c *Controller) {
		c.local = p
	}
}

// WithSpeech sets the synthesizer used by Speak, typically a chain of a
// remote provider followed by the local one. Defaults to the local
// synthesizer.
func WithSpeech(p tts.Provider) Option {
	return func(c *Controller) {
		c.speech = p
	}
}

// WithEventBuffer sets the capacity of the event channel. Default: 16.
func WithEventBuffer(n int) Option {
	return func(c *Controller) {
		c.eventBuffer = n
	}
}

type active struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller plays audio through a sink.
type Controller struct {
	sink        audioio.Sink
	local       tts.Provider
	speech      tts.Provider
	logger      *slog.Logger
	eventBuffer int
	events      chan Event

	// opMu serializes PlayBytes, Speak, Stop and Close. Playback
	// goroutines never take it.
	opMu sync.Mutex

	mu      sync.Mutex
	cur     *active
	nextID  uint64
	started bool
	closed  bool

	plays         atomic.Int64
	interruptions atomic.Int64
	fallbacks     atomic.Int64
	degraded      atomic.Int64
}

// New creates a controller that writes to sink. The sink is started on
// the first playback.
func New(sink audioio.Sink, opts ...Option) *Controller {
	c := &Controller{
		sink:        sink,
		logger:      slog.Default(),
		eventBuffer: 16,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.speech == nil {
		c.speech = c.local
	}
	c.logger = c.logger.With("component", "playback.controller")
	c.events = make(chan Event, c.eventBuffer)
	return c
}

// Events returns the completion channel. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// PlayBytes plays encoded audio, stopping any playback in flight.
// fallbackText is spoken by the local synthesizer if audio cannot be
// decoded. It returns the playback ID carried by the completion event,
// or 0 after Close.
func (c *Controller) PlayBytes(audio []byte, fallbackText string) uint64 {
	return c.begin(func(ctx context.Context) (audioio.PCM, bool, error) {
		pcm, err := decode(audio)
		if err == nil {
			return pcm, false, nil
		}
		c.logger.Warn("received audio not playable, falling back", "bytes", len(audio), "error", err)
		if c.local == nil || fallbackText == "" {
			return audioio.PCM{}, false, err
		}
		pcm, ferr := synthesize(ctx, c.local, fallbackText)
		if ferr != nil {
			return audioio.PCM{}, true, errors.Join(err, ferr)
		}
		return pcm, true, nil
	})
}

// Speak synthesizes text and plays it, stopping any playback in flight.
func (c *Controller) Speak(text string) uint64 {
	return c.begin(func(ctx context.Context) (audioio.PCM, bool, error) {
		if c.speech == nil {
			return audioio.PCM{}, false, tts.ErrProviderUnavailable
		}
		pcm, err := synthesize(ctx, c.speech, text)
		return pcm, true, err
	})
}

// Stop halts the current playback and drops buffered audio. It returns
// after the Interrupted event has been queued. Safe to call when idle.
func (c *Controller) Stop() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.halt()
}

// IsSpeaking reports whether a playback is in flight.
func (c *Controller) IsSpeaking() bool {
	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()
	if cur == nil {
		return false
	}
	select {
	case <-cur.done:
		return false
	default:
		return true
	}
}

// Close stops playback and releases the output device. Safe to call more
// than once.
func (c *Controller) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.halt()

	var errs []error
	if err := c.sink.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop sink: %w", err))
	}
	if err := c.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}
	close(c.events)

	c.logger.Debug("playback closed")
	return errors.Join(errs...)
}

// Stats returns playback counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Plays:         c.plays.Load(),
		Interruptions: c.interruptions.Load(),
		Fallbacks:     c.fallbacks.Load(),
		Degraded:      c.degraded.Load(),
	}
}

type source func(ctx context.Context) (pcm audioio.PCM, fallback bool, err error)

func (c *Controller) begin(src source) uint64 {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.halt()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}

	c.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	a := &active{id: c.nextID, cancel: cancel, done: make(chan struct{})}
	c.cur = a
	c.plays.Add(1)

	var startErr error
	if !c.started {
		if startErr = c.sink.Start(ctx); startErr == nil {
			c.started = true
		}
	}

	go c.run(ctx, a, src, startErr)
	return a.id
}

// halt stops the current playback and waits for it. Callers hold opMu.
func (c *Controller) halt() {
	c.mu.Lock()
	a := c.cur
	c.cur = nil
	c.mu.Unlock()

	if a == nil {
		return
	}
	select {
	case <-a.done:
		return
	default:
	}

	a.cancel()
	if err := c.sink.Clear(); err != nil {
		c.logger.Warn("clear output failed", "error", err)
	}
	<-a.done
}

func (c *Controller) run(ctx context.Context, a *active, src source, startErr error) {
	defer close(a.done)
	defer a.cancel()

	ev := Event{Kind: EventEnded, ID: a.id}

	if startErr != nil {
		ev.Degraded = true
		ev.Err = fmt.Errorf("%w: %w", audioio.ErrDeviceUnavailable, startErr)
		c.finish(ev)
		return
	}

	pcm, fallback, err := src(ctx)
	if fallback {
		c.fallbacks.Add(1)
	}
	switch {
	case ctx.Err() != nil:
		ev.Kind = EventInterrupted
	case err != nil:
		ev.Degraded = true
		ev.Err = err
	default:
		if err := c.write(ctx, pcm); err != nil && ctx.Err() == nil {
			ev.Degraded = true
			ev.Err = err
		}
		if ctx.Err() != nil {
			ev.Kind = EventInterrupted
		}
	}
	c.finish(ev)
}

func (c *Controller) write(ctx context.Context, pcm audioio.PCM) error {
	cfg := c.sink.Config()
	samples := pcm.Convert(cfg.SampleRate, cfg.Channels)

	step := cfg.BufferSize() * cfg.Channels
	if step <= 0 {
		step = len(samples)
	}

	for off := 0; off < len(samples); off += step {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := min(off+step, len(samples))
		chunk := audioio.AudioChunk{
			Samples:    samples[off:end],
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		}
		if err := c.sink.Write(ctx, chunk); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return c.sink.Flush(ctx)
}

func (c *Controller) finish(ev Event) {
	switch {
	case ev.Kind == EventInterrupted:
		c.interruptions.Add(1)
	case ev.Degraded:
		c.degraded.Add(1)
		c.logger.Warn("playback degraded", "id", ev.ID, "error", ev.Err)
	}

	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event dropped, consumer not keeping up", "id", ev.ID, "kind", ev.Kind)
	}
}

func decode(audio []byte) (audioio.PCM, error) {
	if len(audio) == 0 {
		return audioio.PCM{}, fmt.Errorf("%w: empty audio", audioio.ErrUnsupportedFormat)
	}
	r := &tts.AudioResult{
		Audio:  audio,
		Format: tts.AudioFormat{Encoding: tts.DetectEncoding(audio)},
	}
	return r.PCM()
}

func synthesize(ctx context.Context, p tts.Provider, text string) (audioio.PCM, error) {
	result, err := p.Synthesize(ctx, text)
	if err != nil {
		return audioio.PCM{}, err
	}
	return result.PCM()
}
