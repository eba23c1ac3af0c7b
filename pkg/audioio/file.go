package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// FileSource plays a WAV file into the capture stream at real-time pace,
// followed by silence until stopped.
type FileSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewFileSource creates a source that reads cfg.Device on every Start.
func NewFileSource(cfg Config, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileSource{
		cfg:      cfg,
		logger:   logger.With("component", "audioio.file_source", "path", cfg.Device),
		streamCh: make(chan AudioChunk),
	}
	close(s.streamCh)
	return s
}

// Start loads the file and begins streaming it.
func (s *FileSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	data, err := os.ReadFile(s.cfg.Device)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	pcm, err := DecodeWAV(data)
	if err != nil {
		return fmt.Errorf("audioio: read %s: %w", s.cfg.Device, err)
	}
	samples := pcm.Convert(s.cfg.SampleRate, s.cfg.Channels)

	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.streamCh = make(chan AudioChunk, 16)

	go s.stream(ctx, samples, s.stopCh, s.doneCh, s.streamCh)

	s.logger.Info("file source started", "duration", FramesDuration(len(samples), s.cfg.SampleRate, s.cfg.Channels))
	return nil
}

func (s *FileSource) stream(ctx context.Context, samples []int16, stop <-chan struct{}, done chan<- struct{}, out chan<- AudioChunk) {
	defer close(done)
	defer close(out)

	ticker := time.NewTicker(s.cfg.BufferDuration)
	defer ticker.Stop()

	size := s.cfg.BufferSize() * s.cfg.Channels
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}

		chunk := make([]int16, size)
		n := copy(chunk, samples)
		samples = samples[n:]

		select {
		case out <- AudioChunk{Samples: chunk, SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels}:
		default:
			s.logger.Debug("file source overrun")
		}
	}
}

// Stop halts streaming.
func (s *FileSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	return nil
}

// Read returns the next chunk.
func (s *FileSource) Read(ctx context.Context) (AudioChunk, error) {
	stream := s.Stream()
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-stream:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the chunk channel of the current run.
func (s *FileSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the device configuration.
func (s *FileSource) Config() Config { return s.cfg }

// Name returns "file".
func (s *FileSource) Name() string { return string(BackendFile) }

// Close stops the source for good.
func (s *FileSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// FileSink collects played audio and writes it as one WAV file on Close.
type FileSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	pending []int16
	played  []int16
}

// NewFileSink creates a sink that writes to cfg.Device.
func NewFileSink(cfg Config, logger *slog.Logger) *FileSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.file_sink", "path", cfg.Device),
	}
}

// Start opens the sink.
func (s *FileSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.running = true
	return nil
}

// Stop halts output.
func (s *FileSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// Write queues a chunk.
func (s *FileSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.running {
		return io.ErrClosedPipe
	}
	s.pending = append(s.pending, chunk.Samples...)
	return nil
}

// Flush commits queued audio.
func (s *FileSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, s.pending...)
	s.pending = s.pending[:0]
	return nil
}

// Clear drops queued audio.
func (s *FileSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending[:0]
	return nil
}

// Config returns the device configuration.
func (s *FileSink) Config() Config { return s.cfg }

// Name returns "file".
func (s *FileSink) Name() string { return string(BackendFile) }

// Close writes the collected audio to disk.
func (s *FileSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.running = false
	played := s.played
	s.mu.Unlock()

	if len(played) == 0 {
		return nil
	}
	data := EncodeWAV(played, s.cfg.SampleRate, s.cfg.Channels)
	if err := os.WriteFile(s.cfg.Device, data, 0o644); err != nil {
		return fmt.Errorf("audioio: write %s: %w", s.cfg.Device, err)
	}
	s.logger.Info("wrote played audio", "bytes", len(data))
	return nil
}
