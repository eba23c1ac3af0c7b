package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource generates silence or a sine wave in real time.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	frequency float64
	amplitude float64
	startErr  error

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	stopCh   chan struct{}
	doneCh   chan struct{}
	phase    float64

	starts      atomic.Int64
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave makes the source produce a tone instead of silence.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithStartError makes Start fail, as a microphone without permission would.
func WithStartError(err error) MockSourceOption {
	return func(m *MockSource) {
		m.startErr = err
	}
}

// NewMockSource creates a mock source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{
		cfg:       cfg,
		logger:    logger.With("component", "audioio.mock_source"),
		amplitude: 0.5,
		streamCh:  make(chan AudioChunk),
	}
	close(m.streamCh)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins generating audio until Stop, Close or ctx is done.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}
	if m.startErr != nil {
		return m.startErr
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.streamCh = make(chan AudioChunk, 16)
	m.starts.Add(1)

	go m.generate(ctx, m.stopCh, m.doneCh, m.streamCh)

	m.logger.Debug("mock source started", "sample_rate", m.cfg.SampleRate, "frequency", m.frequency)
	return nil
}

// generate owns out and closes it on exit.
func (m *MockSource) generate(ctx context.Context, stop <-chan struct{}, done chan<- struct{}, out chan<- AudioChunk) {
	defer close(done)
	defer close(out)

	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			chunk := m.nextChunk()
			select {
			case out <- chunk:
				m.chunksRead.Add(1)
				m.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				m.overruns.Add(1)
			}
		}
	}
}

func (m *MockSource) nextChunk() AudioChunk {
	frames := m.cfg.BufferSize()
	ch := m.cfg.Channels
	samples := make([]int16, frames*ch)

	if m.frequency > 0 {
		step := 2 * math.Pi * m.frequency / float64(m.cfg.SampleRate)
		for i := 0; i < frames; i++ {
			v := int16(m.amplitude * 32767 * math.Sin(m.phase))
			for c := 0; c < ch; c++ {
				samples[i*ch+c] = v
			}
			m.phase += step
			if m.phase > 2*math.Pi {
				m.phase -= 2 * math.Pi
			}
		}
	}

	return AudioChunk{Samples: samples, SampleRate: m.cfg.SampleRate, Channels: ch}
}

// Stop halts generation and waits for the stream to close.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	<-done
	m.logger.Debug("mock source stopped")
	return nil
}

// Read returns the next chunk.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	stream := m.Stream()
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
func (m *MockSource) Stream() <-chan AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the device configuration.
func (m *MockSource) Config() Config { return m.cfg }

// Name returns "mock".
func (m *MockSource) Name() string { return string(BackendMock) }

// Close stops the source for good.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

// Closed reports whether Close has been called.
func (m *MockSource) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Starts returns how many times the source was started.
func (m *MockSource) Starts() int {
	return int(m.starts.Load())
}

// Stats returns capture counters.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     string(BackendMock),
	}
}

var _ SourceWithStats = (*MockSource)(nil)

// MockSink records everything written to it. Flush simulates playing time
// when a flush delay is configured, and returns early on Clear.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	flushDelay time.Duration

	mu       sync.Mutex
	running  bool
	closed   bool
	pending  []int16
	played   []int16
	clearCh  chan struct{}
	flushes  int
	clears   int64
	writeErr error

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

// MockSinkOption configures a MockSink.
type MockSinkOption func(*MockSink)

// WithFlushDelay makes Flush block for d, simulating playback.
func WithFlushDelay(d time.Duration) MockSinkOption {
	return func(m *MockSink) {
		m.flushDelay = d
	}
}

// NewMockSink creates a mock sink.
func NewMockSink(cfg Config, logger *slog.Logger, opts ...MockSinkOption) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSink{
		cfg:     cfg,
		logger:  logger.With("component", "audioio.mock_sink"),
		clearCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens the sink.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	m.running = true
	return nil
}

// Stop halts output.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Write queues a chunk.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.running {
		return io.ErrClosedPipe
	}
	if m.writeErr != nil {
		return m.writeErr
	}

	m.pending = append(m.pending, chunk.Samples...)
	m.chunksWritten.Add(1)
	m.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// SetWriteError makes subsequent writes fail with err.
func (m *MockSink) SetWriteError(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// Flush moves pending audio to the played record, after the flush delay.
func (m *MockSink) Flush(ctx context.Context) error {
	m.mu.Lock()
	cleared := m.clearCh
	m.mu.Unlock()

	if m.flushDelay > 0 {
		timer := time.NewTimer(m.flushDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleared:
			return nil
		case <-timer.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.played = append(m.played, m.pending...)
	m.pending = m.pending[:0]
	m.flushes++
	return nil
}

// Clear drops pending audio and releases any blocked Flush.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = m.pending[:0]
	m.clears++
	close(m.clearCh)
	m.clearCh = make(chan struct{})
	return nil
}

// Played returns a copy of all flushed samples.
func (m *MockSink) Played() []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int16(nil), m.played...)
}

// Flushes returns the number of completed flushes.
func (m *MockSink) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Config returns the device configuration.
func (m *MockSink) Config() Config { return m.cfg }

// Name returns "mock".
func (m *MockSink) Name() string { return string(BackendMock) }

// Close releases the sink.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.running = false
	return nil
}

// Closed reports whether Close has been called.
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stats returns playback counters.
func (m *MockSink) Stats() SinkStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return SinkStats{
		ChunksWritten:   m.chunksWritten.Load(),
		SamplesWritten:  m.samplesWritten.Load(),
		Clears:          m.clears,
		Running:         m.running,
		Backend:         string(BackendMock),
		BufferedSamples: int64(len(m.pending)),
	}
}

var _ SinkWithStats = (*MockSink)(nil)
