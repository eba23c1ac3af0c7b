package audioio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// MimeWAV is the content type of EncodeWAV output.
const MimeWAV = "audio/wav"

var (
	// ErrUnsupportedFormat indicates audio that is not a PCM16 WAV
	// container (e.g. MP3 from a hosted synthesizer).
	ErrUnsupportedFormat = errors.New("audioio: unsupported audio format")

	// ErrMalformedWAV indicates a truncated or inconsistent WAV container.
	ErrMalformedWAV = errors.New("audioio: malformed wav")
)

const (
	wavHeaderSize = 44
	wavFormatPCM  = 1
)

// PCM is decoded interleaved PCM16 audio.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration returns the playing time of the audio.
func (p PCM) Duration() time.Duration {
	return FramesDuration(len(p.Samples), p.SampleRate, p.Channels)
}

// EncodeWAV wraps PCM16 samples in a canonical 44-byte-header WAV container.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, wavHeaderSize+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*2))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(s))
	}
	return buf
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// DecodeWAV parses a PCM16 WAV container. Non-WAV input and WAV files with
// any other sample format return ErrUnsupportedFormat.
func DecodeWAV(data []byte) (PCM, error) {
	if !IsWAV(data) {
		return PCM{}, ErrUnsupportedFormat
	}

	var (
		pcm     PCM
		haveFmt bool
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return PCM{}, fmt.Errorf("%w: short fmt chunk", ErrMalformedWAV)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			channels := int(binary.LittleEndian.Uint16(data[body+2:]))
			rate := int(binary.LittleEndian.Uint32(data[body+4:]))
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if format != wavFormatPCM || bits != 16 {
				return PCM{}, fmt.Errorf("%w: format %d, %d bits", ErrUnsupportedFormat, format, bits)
			}
			if channels == 0 || rate == 0 {
				return PCM{}, fmt.Errorf("%w: %d channels at %d Hz", ErrMalformedWAV, channels, rate)
			}
			pcm.Channels = channels
			pcm.SampleRate = rate
			haveFmt = true

		case "data":
			if !haveFmt {
				return PCM{}, fmt.Errorf("%w: data before fmt", ErrMalformedWAV)
			}
			end := body + size
			// Streamed WAVs sometimes carry a placeholder size.
			if end > len(data) || size == 0 {
				end = len(data)
			}
			pcm.Samples = BytesToSamples(data[body:end])
			return pcm, nil
		}

		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	return PCM{}, fmt.Errorf("%w: no data chunk", ErrMalformedWAV)
}
