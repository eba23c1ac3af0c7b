package audioio

import (
	"context"
	"io"
)

// Sink is a speaker or other output device.
type Sink interface {
	// Start opens the device for writing.
	Start(ctx context.Context) error

	// Stop halts output. Safe to call more than once.
	Stop() error

	// Write queues a chunk for output. It may block while the device
	// buffer is full.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush blocks until queued audio has been played or ctx is done.
	Flush(ctx context.Context) error

	// Clear drops queued audio immediately. Used to interrupt playback.
	Clear() error

	// Config returns the device configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	// Close releases the device. A closed sink cannot be restarted.
	io.Closer
}

// SinkStats contains playback counters.
type SinkStats struct {
	ChunksWritten   int64  `json:"chunks_written"`
	SamplesWritten  int64  `json:"samples_written"`
	Clears          int64  `json:"clears"`
	Running         bool   `json:"running"`
	Backend         string `json:"backend"`
	BufferedSamples int64  `json:"buffered_samples"`
}

// SinkWithStats is a Sink that reports counters.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
