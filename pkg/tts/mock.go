package tts

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-aira/pkg/audioio"
)

// Mock implements Provider for testing.
// All methods can be customized via function fields.
type Mock struct {
	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, Synthesize fails with ErrProviderUnavailable.
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	// If nil, returns nil.
	CloseFunc func() error

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMock creates a mock that returns 10ms of WAV silence per character.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			return SilenceResult(time.Duration(len(text)) * 10 * time.Millisecond), nil
		},
	}
}

// NewFailingMock creates a mock whose every method fails with err.
func NewFailingMock(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// SilenceResult returns a WAV result of d silence at 16kHz.
func SilenceResult(d time.Duration) *AudioResult {
	samples := make([]int16, int(int64(d)*16000/int64(time.Second)))
	return &AudioResult{
		Audio:    audioio.EncodeWAV(samples, 16000, 1),
		Format:   AudioFormat{Encoding: EncodingWAV, SampleRate: 16000, Channels: 1, BitDepth: 16},
		Duration: d,
	}
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.record("Synthesize", text)
	if m.SynthesizeFunc == nil {
		return nil, WrapError(m.Name(), ErrProviderUnavailable)
	}
	result, err := m.SynthesizeFunc(ctx, text)
	if err == nil && result != nil && result.CharCount == 0 {
		result.CharCount = len(text)
	}
	return result, err
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health", "")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.record("Close", "")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Name returns NameValue or "mock".
func (m *Mock) Name() string {
	if m.NameValue != "" {
		return m.NameValue
	}
	return "mock"
}

func (m *Mock) record(method, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Text: text, Time: time.Now()})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ Provider = (*Mock)(nil)
