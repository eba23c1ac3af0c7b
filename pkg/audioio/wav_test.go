package audioio

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEncodeDecodeWAV(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	data := EncodeWAV(samples, 16000, 1)

	if len(data) != 44+2*len(samples) {
		t.Fatalf("len = %d", len(data))
	}
	if !IsWAV(data) {
		t.Fatal("IsWAV = false")
	}
	if got := binary.LittleEndian.Uint32(data[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}

	pcm, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if pcm.SampleRate != 16000 || pcm.Channels != 1 {
		t.Errorf("format = %d Hz x %d", pcm.SampleRate, pcm.Channels)
	}
	for i := range samples {
		if pcm.Samples[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, pcm.Samples[i], samples[i])
		}
	}
}

func TestDecodeWAV_SkipsExtraChunks(t *testing.T) {
	base := EncodeWAV([]int16{5, 6}, 22050, 2)

	// Insert an odd-sized LIST chunk (padded) between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	data := append([]byte{}, base[:36]...)
	data = append(data, list...)
	data = append(data, base[36:]...)

	pcm, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if pcm.SampleRate != 22050 || pcm.Channels != 2 || len(pcm.Samples) != 2 {
		t.Errorf("got %+v", pcm)
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	mp3 := []byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0, 0, 0xFF, 0xFB}
	if _, err := DecodeWAV(mp3); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("mp3: %v, want ErrUnsupportedFormat", err)
	}

	floatWAV := EncodeWAV([]int16{1}, 16000, 1)
	binary.LittleEndian.PutUint16(floatWAV[20:22], 3)
	if _, err := DecodeWAV(floatWAV); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("float wav: %v, want ErrUnsupportedFormat", err)
	}

	truncated := EncodeWAV(nil, 16000, 1)[:30]
	if _, err := DecodeWAV(truncated); !errors.Is(err, ErrMalformedWAV) {
		t.Errorf("truncated: %v, want ErrMalformedWAV", err)
	}
}

func TestPCMDuration(t *testing.T) {
	pcm := PCM{Samples: make([]int16, 16000), SampleRate: 16000, Channels: 1}
	if pcm.Duration() != time.Second {
		t.Errorf("Duration = %v", pcm.Duration())
	}
}

func TestFileSourceAndSink(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")

	tone := make([]int16, 1600)
	for i := range tone {
		tone[i] = 1000
	}
	if err := os.WriteFile(in, EncodeWAV(tone, 16000, 1), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Backend = BackendFile
	cfg.Device = in

	src, err := NewSource(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if chunk.Samples[0] != 1000 {
		t.Errorf("first sample = %d, want 1000", chunk.Samples[0])
	}
	src.Stop()

	cfg.Device = out
	sink, err := NewSink(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	sink.Start(ctx)
	sink.Write(ctx, chunk)
	sink.Flush(ctx)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	pcm, err := DecodeWAV(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm.Samples) != len(chunk.Samples) {
		t.Errorf("wrote %d samples, want %d", len(pcm.Samples), len(chunk.Samples))
	}
}

func TestFileSource_Missing(t *testing.T) {
	cfg := testConfig()
	cfg.Backend = BackendFile
	cfg.Device = filepath.Join(t.TempDir(), "missing.wav")

	src := NewFileSource(cfg, nil)
	if err := src.Start(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Start = %v, want ErrDeviceUnavailable", err)
	}
}
