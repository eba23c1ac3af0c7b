// Package protocol defines the JSON frames exchanged over the voice socket.
// This package is shared between the call client (pkg/transport, pkg/session)
// and the reference backend (pkg/voicegw).
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies the type of a voice socket frame.
type MessageType string

const (
	// Client → Backend
	TypeAudio MessageType = "audio" // One recorded utterance (also Backend → Client: synthesized reply)
	TypePing  MessageType = "ping"  // Heartbeat liveness probe

	// Backend → Client
	TypeTranscript MessageType = "transcript" // Recognized text of the last utterance
	TypeResponse   MessageType = "response"   // Assistant reply text
	TypeError      MessageType = "error"      // Recoverable error description
	TypePong       MessageType = "pong"       // Heartbeat ack
	TypeEnd        MessageType = "end"        // Backend-initiated termination
)

// Errors returned when parsing frames.
var (
	ErrMalformed   = errors.New("protocol: malformed frame")
	ErrUnknownType = errors.New("protocol: unknown frame type")
	ErrNoAudio     = errors.New("protocol: frame carries no audio")
)

// Frame is the envelope for every message on the voice socket.
// Only the field relevant to Type is populated.
type Frame struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text,omitempty"`    // transcript, response
	Data    string      `json:"data,omitempty"`    // audio (base64)
	Message string      `json:"message,omitempty"` // error
}

// Bytes returns the JSON-encoded frame.
func (f Frame) Bytes() ([]byte, error) {
	return json.Marshal(f)
}

// Audio decodes the base64 payload of an audio frame.
func (f Frame) Audio() ([]byte, error) {
	if f.Type != TypeAudio || f.Data == "" {
		return nil, ErrNoAudio
	}
	audio, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: audio payload: %v", ErrMalformed, err)
	}
	return audio, nil
}

// IsInbound reports whether the frame is one the backend sends to a client.
func (f Frame) IsInbound() bool {
	switch f.Type {
	case TypeTranscript, TypeResponse, TypeAudio, TypeError, TypePong, TypeEnd:
		return true
	}
	return false
}

// IsOutbound reports whether the frame is one a client sends to the backend.
func (f Frame) IsOutbound() bool {
	return f.Type == TypeAudio || f.Type == TypePing
}

// Parse decodes a frame and checks that its type is known.
func Parse(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if !f.IsInbound() && !f.IsOutbound() {
		return f, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	return f, nil
}

// ParseInbound decodes a frame received by a client.
func ParseInbound(data []byte) (Frame, error) {
	f, err := Parse(data)
	if err != nil {
		return f, err
	}
	if !f.IsInbound() {
		return f, fmt.Errorf("%w: %q is not a backend frame", ErrUnknownType, f.Type)
	}
	return f, nil
}

// ParseOutbound decodes a frame received by the backend.
func ParseOutbound(data []byte) (Frame, error) {
	f, err := Parse(data)
	if err != nil {
		return f, err
	}
	if !f.IsOutbound() {
		return f, fmt.Errorf("%w: %q is not a client frame", ErrUnknownType, f.Type)
	}
	return f, nil
}
