// Package audioio provides the audio input and output devices a call uses.
//
// Two backends are available:
//   - File: reads a WAV file as microphone input and writes played audio
//     to a WAV file. Used by the command-line call driver.
//   - Mock: synthetic input (silence or a sine wave) and an in-memory
//     output that records what was played. Used by tests.
//
// All audio crossing this package is PCM16. Recorded utterances and
// server audio travel as WAV containers (see EncodeWAV and DecodeWAV).
package audioio

import (
	"errors"
	"fmt"
	"time"
)

// Backend names an audio device implementation.
type Backend string

const (
	// BackendMock generates or records audio in memory.
	BackendMock Backend = "mock"
	// BackendFile streams from and to WAV files.
	BackendFile Backend = "file"
)

// ErrDeviceUnavailable indicates the configured device cannot be opened.
var ErrDeviceUnavailable = errors.New("audioio: device unavailable")

// Config holds audio device configuration.
type Config struct {
	// Backend selects the device implementation. Default: mock.
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate in Hz. Default: 16000, the rate the transcription
	// backend works at.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the channel count. Default: 1.
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the length of each chunk. Default: 20ms.
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the backend-specific device name. For the file backend it
	// is the WAV path.
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig returns the default device configuration.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendMock,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("audioio: sample_rate must be positive, got %d", c.SampleRate)
	case c.Channels <= 0:
		return fmt.Errorf("audioio: channels must be positive, got %d", c.Channels)
	case c.BufferDuration <= 0:
		return fmt.Errorf("audioio: buffer_duration must be positive, got %v", c.BufferDuration)
	case c.Backend == BackendFile && c.Device == "":
		return fmt.Errorf("audioio: file backend needs a device path")
	}
	return nil
}

// BufferSize returns the number of frames per chunk.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a chunk in bytes.
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
