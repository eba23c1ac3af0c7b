package protocol

import (
	"encoding/base64"
)

// =============================================================================
// Helper functions for creating frames
// =============================================================================

// NewAudio creates an audio frame carrying base64-encoded audio.
func NewAudio(audio []byte) Frame {
	return Frame{Type: TypeAudio, Data: base64.StdEncoding.EncodeToString(audio)}
}

// NewPing creates a heartbeat probe.
func NewPing() Frame {
	return Frame{Type: TypePing}
}

// NewPong creates a heartbeat ack.
func NewPong() Frame {
	return Frame{Type: TypePong}
}

// NewTranscript creates a transcript frame.
func NewTranscript(text string) Frame {
	return Frame{Type: TypeTranscript, Text: text}
}

// NewResponse creates an assistant reply frame.
func NewResponse(text string) Frame {
	return Frame{Type: TypeResponse, Text: text}
}

// NewError creates a recoverable error frame.
func NewError(message string) Frame {
	return Frame{Type: TypeError, Message: message}
}

// NewEnd creates a termination frame.
func NewEnd() Frame {
	return Frame{Type: TypeEnd}
}
