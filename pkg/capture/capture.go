// Package capture records one utterance at a time from the microphone.
//
// A Controller opens the input device on Start, buffers every chunk the
// device produces, and on Stop releases the device and returns the
// recording as a single PCM16 WAV blob ready to be sent to the backend.
// At most one device is open at a time and every opened device is
// released exactly once.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-aira/pkg/audioio"
)

var (
	// ErrPermissionDenied indicates the microphone could not be opened.
	// It is not retried; the user has to grant access and try again.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")
)

// Opener acquires the input device.
type Opener func(ctx context.Context) (audioio.Source, error)

// DeviceOpener returns an Opener that creates a fresh source from cfg.
func DeviceOpener(cfg audioio.Config, logger *slog.Logger) Opener {
	return func(ctx context.Context) (audioio.Source, error) {
		return audioio.NewSource(cfg, logger)
	}
}

// Blob is a finished recording.
type Blob struct {
	Data       []byte
	MimeType   string
	Duration   time.Duration
	SampleRate int
	Channels   int

	// Level is the RMS level of the recording, 0..1.
	Level float64
}

// Empty reports whether the recording holds no audio.
func (b *Blob) Empty() bool {
	return b == nil || b.Duration == 0
}

// Stats contains controller counters.
type Stats struct {
	Opens      int64 `json:"opens"`
	Releases   int64 `json:"releases"`
	Recordings int64 `json:"recordings"`
	Recording  bool  `json:"recording"`
}

// Controller records utterances. It is safe for concurrent use.
type Controller struct {
	open   Opener
	logger *slog.Logger

	// mu is held across device open and release so two devices are
	// never live at once.
	mu      sync.Mutex
	src     audioio.Source
	cancel  context.CancelFunc
	rec     *recording
	started time.Time

	opens      atomic.Int64
	releases   atomic.Int64
	recordings atomic.Int64
}

type recording struct {
	samples []int16
	done    chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates a controller that acquires devices through open.
func New(open Opener, opts ...Option) *Controller {
	c := &Controller{
		open:   open,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "capture.controller")
	return c
}

// Start opens the microphone and begins buffering. It is a no-op while
// already recording. Any failure to acquire the device is reported as
// ErrPermissionDenied.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.src != nil {
		return nil
	}

	src, err := c.open(ctx)
	if err != nil {
		c.logger.Error("microphone unavailable", "error", err)
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	c.opens.Add(1)

	runCtx, cancel := context.WithCancel(context.Background())
	if err := src.Start(runCtx); err != nil {
		cancel()
		c.release(src)
		c.logger.Error("microphone failed to start", "error", err)
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	rec := &recording{done: make(chan struct{})}
	go rec.collect(src.Stream())

	c.src = src
	c.cancel = cancel
	c.rec = rec
	c.started = time.Now()

	c.logger.Debug("recording started", "backend", src.Name())
	return nil
}

// Stop releases the microphone and returns what was recorded. It returns
// nil, nil when not recording.
func (c *Controller) Stop() (*Blob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := c.src
	if src == nil {
		return nil, nil
	}
	rec := c.rec
	cancel := c.cancel
	c.src, c.rec, c.cancel = nil, nil, nil

	cfg := src.Config()
	c.release(src)
	cancel()
	<-rec.done

	c.recordings.Add(1)
	blob := &Blob{
		Data:       audioio.EncodeWAV(rec.samples, cfg.SampleRate, cfg.Channels),
		MimeType:   audioio.MimeWAV,
		Duration:   audioio.FramesDuration(len(rec.samples), cfg.SampleRate, cfg.Channels),
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Level:      audioio.RMS(rec.samples),
	}

	c.logger.Debug("recording stopped",
		"duration", blob.Duration,
		"bytes", len(blob.Data),
		"wall", time.Since(c.started).Round(time.Millisecond),
	)
	return blob, nil
}

// IsRecording reports whether the microphone is open.
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.src != nil
}

// Stats returns controller counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Opens:      c.opens.Load(),
		Releases:   c.releases.Load(),
		Recordings: c.recordings.Load(),
		Recording:  c.IsRecording(),
	}
}

// release stops and closes src. Callers hold c.mu.
func (c *Controller) release(src audioio.Source) {
	if err := src.Stop(); err != nil {
		c.logger.Warn("microphone stop failed", "error", err)
	}
	if err := src.Close(); err != nil {
		c.logger.Warn("microphone close failed", "error", err)
	}
	c.releases.Add(1)
}

func (r *recording) collect(stream <-chan audioio.AudioChunk) {
	defer close(r.done)
	for chunk := range stream {
		r.samples = append(r.samples, chunk.Samples...)
	}
}
