// Package tts turns assistant text into speech audio.
//
// Every synthesizer implements Provider, so the playback path can swap or
// chain them without knowing which one produced the audio:
//
//   - Backend: the AIRA text-to-speech endpoint (via pkg/services)
//   - ElevenLabs: hosted voices, PCM output
//   - OpenAI: hosted voices through go-openai, WAV output
//   - Google: Cloud Text-to-Speech, LINEAR16 (WAV) output
//   - Local: an on-device speech command such as espeak-ng
//
// Example usage:
//
//	remote, _ := tts.NewOpenAI(tts.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
//	local, _ := tts.NewLocal()
//	chain, _ := tts.NewChain(remote, local)
//	defer chain.Close()
//
//	result, _ := chain.Synthesize(ctx, "How are you feeling today?")
//	pcm, _ := result.PCM()
package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/teslashibe/go-aira/pkg/audioio"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to a complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Named is implemented by providers that report a short name for logs.
type Named interface {
	Name() string
}

// AudioResult is a synthesized utterance.
type AudioResult struct {
	// Audio holds the encoded audio.
	Audio []byte

	// Format describes how Audio is encoded.
	Format AudioFormat

	// Duration is the playing time, when known.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request latency in milliseconds.
	LatencyMs int64
}

// PCM decodes the result into samples. Compressed encodings return
// audioio.ErrUnsupportedFormat.
func (r *AudioResult) PCM() (audioio.PCM, error) {
	switch r.Format.Encoding {
	case EncodingWAV:
		return audioio.DecodeWAV(r.Audio)
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		channels := r.Format.Channels
		if channels == 0 {
			channels = 1
		}
		return audioio.PCM{
			Samples:    audioio.BytesToSamples(r.Audio),
			SampleRate: SampleRateFromEncoding(r.Format.Encoding),
			Channels:   channels,
		}, nil
	default:
		// Some services label WAV output loosely.
		if audioio.IsWAV(r.Audio) {
			return audioio.DecodeWAV(r.Audio)
		}
		return audioio.PCM{}, fmt.Errorf("%w: %s", audioio.ErrUnsupportedFormat, r.Format.Encoding)
	}
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// Encoding identifies an audio encoding.
type Encoding string

const (
	// EncodingWAV is a RIFF/WAVE container with PCM16 samples.
	EncodingWAV Encoding = "wav"

	// Raw little-endian PCM16, mono.
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"

	// EncodingMP3 cannot be played by this package and triggers fallback.
	EncodingMP3 Encoding = "mp3_44100_128"
)

// VoiceSettings controls ElevenLabs voice characteristics.
type VoiceSettings struct {
	Stability       float64
	SimilarityBoost float64
	Style           float64
	SpeakerBoost    bool
}

// DefaultVoiceSettings returns settings tuned for a calm clinical voice.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.6,
		SimilarityBoost: 0.75,
		SpeakerBoost:    true,
	}
}

// SampleRateFromEncoding returns the sample rate implied by an encoding,
// or 0 when the container carries it.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	default:
		return 0
	}
}

// DetectEncoding guesses the encoding of audio returned without metadata.
func DetectEncoding(audio []byte) Encoding {
	if audioio.IsWAV(audio) {
		return EncodingWAV
	}
	return EncodingMP3
}
