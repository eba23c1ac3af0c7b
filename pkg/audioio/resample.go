package audioio

import "math"

// Resample converts mono samples between rates by linear interpolation.
// Good enough for speech.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]int16, n)
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		a, b := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int16(a + frac*(b-a))
	}
	return out
}

// BytesToSamples decodes little-endian PCM16. A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian PCM16.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, 2*len(samples))
	for i, s := range samples {
		data[2*i] = byte(s)
		data[2*i+1] = byte(uint16(s) >> 8)
	}
	return data
}

// Downmix averages interleaved multi-channel samples to mono.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(samples[i*channels+c])
		}
		mono[i] = int16(sum / int32(channels))
	}
	return mono
}

// Upmix duplicates mono samples across channels.
func Upmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)*channels)
	for i, s := range samples {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return out
}

// Convert returns p's samples at the given rate and channel count.
func (p PCM) Convert(sampleRate, channels int) []int16 {
	mono := Downmix(p.Samples, p.Channels)
	mono = Resample(mono, p.SampleRate, sampleRate)
	return Upmix(mono, channels)
}

// RMS returns the root mean square of samples, normalized to 0..1.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
