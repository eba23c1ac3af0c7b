package audioio

import (
	"context"
	"io"
	"time"
)

// AudioChunk is a block of interleaved PCM16 samples.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Bytes returns the chunk as little-endian PCM16.
func (c *AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// FromBytes fills the chunk from little-endian PCM16.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	c.Samples = BytesToSamples(data)
	c.SampleRate = sampleRate
	c.Channels = channels
}

// Duration returns the playing time of the chunk.
func (c *AudioChunk) Duration() time.Duration {
	return FramesDuration(len(c.Samples), c.SampleRate, c.Channels)
}

// FramesDuration returns the playing time of n interleaved samples.
func FramesDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate*channels)
}

// Source is a microphone or other input device.
type Source interface {
	// Start opens the device and begins producing chunks on Stream.
	// Calling Start on a running source is a no-op.
	Start(ctx context.Context) error

	// Stop halts capture and closes the Stream channel once the producer
	// has drained. Safe to call more than once.
	Stop() error

	// Read returns the next chunk, or io.EOF once the source has stopped.
	Read(ctx context.Context) (AudioChunk, error)

	// Stream returns the channel chunks are delivered on for the current run.
	Stream() <-chan AudioChunk

	// Config returns the device configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	// Close releases the device. A closed source cannot be restarted.
	io.Closer
}

// SourceStats contains capture counters.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats is a Source that reports counters.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
