package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-aira/pkg/audioio"
	"github.com/teslashibe/go-aira/pkg/tts"
)

func testSink(opts ...audioio.MockSinkOption) *audioio.MockSink {
	cfg := audioio.DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond
	return audioio.NewMockSink(cfg, nil, opts...)
}

func nextEvent(t *testing.T, c *Controller) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playback event")
		return Event{}
	}
}

func waitSpeaking(t *testing.T, c *Controller, sink *audioio.MockSink) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.IsSpeaking() && sink.Stats().BufferedSamples > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("playback never reached the sink")
}

func mp3Bytes() []byte {
	return []byte{0xFF, 0xFB, 0x90, 0x64, 0x00, 0x00}
}

func TestPlayBytes_Natural(t *testing.T) {
	sink := testSink()
	c := New(sink)
	defer c.Close()

	id := c.PlayBytes(audioio.EncodeWAV(make([]int16, 1600), 16000, 1), "")
	ev := nextEvent(t, c)

	if ev.Kind != EventEnded || ev.ID != id || ev.Degraded {
		t.Fatalf("unexpected event %+v", ev)
	}
	if n := len(sink.Played()); n != 1600 {
		t.Errorf("played %d samples, want 1600", n)
	}
	if got := sink.Stats().ChunksWritten; got != 10 {
		t.Errorf("chunks = %d, want 10", got)
	}
	if c.IsSpeaking() {
		t.Error("IsSpeaking after natural end")
	}
}

func TestPlayBytes_Resamples(t *testing.T) {
	sink := testSink()
	c := New(sink)
	defer c.Close()

	c.PlayBytes(audioio.EncodeWAV(make([]int16, 1600), 8000, 2), "")
	if ev := nextEvent(t, c); ev.Kind != EventEnded {
		t.Fatalf("unexpected event %+v", ev)
	}
	// 100ms of stereo 8kHz becomes 100ms of mono 16kHz.
	if n := len(sink.Played()); n != 1600 {
		t.Errorf("played %d samples, want 1600", n)
	}
}

func TestStop_Interrupts(t *testing.T) {
	sink := testSink(audioio.WithFlushDelay(time.Minute))
	c := New(sink)
	defer c.Close()

	id := c.PlayBytes(audioio.EncodeWAV(make([]int16, 1600), 16000, 1), "")
	waitSpeaking(t, c, sink)

	c.Stop()
	ev := nextEvent(t, c)
	if ev.Kind != EventInterrupted || ev.ID != id {
		t.Fatalf("unexpected event %+v", ev)
	}
	if c.IsSpeaking() {
		t.Error("IsSpeaking after Stop")
	}
	if sink.Stats().Clears != 1 {
		t.Errorf("clears = %d, want 1", sink.Stats().Clears)
	}
	if len(sink.Played()) != 0 {
		t.Error("interrupted audio should not be played")
	}

	c.Stop()
	if sink.Stats().Clears != 1 {
		t.Error("second Stop should be a no-op")
	}
	if c.Stats().Interruptions != 1 {
		t.Errorf("interruptions = %d", c.Stats().Interruptions)
	}
}

func TestNewPlaybackStopsActive(t *testing.T) {
	sink := testSink(audioio.WithFlushDelay(50 * time.Millisecond))
	c := New(sink)
	defer c.Close()

	wav := audioio.EncodeWAV(make([]int16, 320), 16000, 1)
	first := c.PlayBytes(wav, "")
	waitSpeaking(t, c, sink)
	second := c.PlayBytes(wav, "")

	ev := nextEvent(t, c)
	if ev.Kind != EventInterrupted || ev.ID != first {
		t.Fatalf("first event %+v, want interrupted %d", ev, first)
	}
	ev = nextEvent(t, c)
	if ev.Kind != EventEnded || ev.ID != second {
		t.Fatalf("second event %+v, want ended %d", ev, second)
	}
}

func TestFallback(t *testing.T) {
	t.Run("local speech", func(t *testing.T) {
		local := tts.NewMock()
		sink := testSink()
		c := New(sink, WithLocalSpeech(local))
		defer c.Close()

		c.PlayBytes(mp3Bytes(), "Hello")
		ev := nextEvent(t, c)
		if ev.Kind != EventEnded || ev.Degraded {
			t.Fatalf("unexpected event %+v", ev)
		}
		calls := local.Calls()
		if len(calls) != 1 || calls[0].Text != "Hello" {
			t.Errorf("local calls = %+v", calls)
		}
		// 10ms per character at 16kHz.
		if n := len(sink.Played()); n != 800 {
			t.Errorf("played %d samples, want 800", n)
		}
		if c.Stats().Fallbacks != 1 {
			t.Errorf("fallbacks = %d", c.Stats().Fallbacks)
		}
	})

	t.Run("no synthesizer", func(t *testing.T) {
		sink := testSink()
		c := New(sink)
		defer c.Close()

		c.PlayBytes(mp3Bytes(), "Hello")
		ev := nextEvent(t, c)
		if ev.Kind != EventEnded || !ev.Degraded {
			t.Fatalf("expected degraded end, got %+v", ev)
		}
		if !errors.Is(ev.Err, audioio.ErrUnsupportedFormat) {
			t.Errorf("err = %v", ev.Err)
		}
		if len(sink.Played()) != 0 {
			t.Error("nothing should be played")
		}
	})

	t.Run("synthesizer fails", func(t *testing.T) {
		c := New(testSink(), WithLocalSpeech(tts.NewFailingMock(errors.New("no voice"))))
		defer c.Close()

		c.PlayBytes(nil, "Hello")
		if ev := nextEvent(t, c); !ev.Degraded {
			t.Fatalf("expected degraded end, got %+v", ev)
		}
	})
}

func TestSpeak(t *testing.T) {
	t.Run("remote then local", func(t *testing.T) {
		remote := tts.NewFailingMock(errors.New("offline"))
		local := tts.NewMock()
		chain, err := tts.NewChain(remote, local)
		if err != nil {
			t.Fatal(err)
		}

		sink := testSink()
		c := New(sink, WithSpeech(chain), WithLocalSpeech(local))
		defer c.Close()

		c.Speak("Take care")
		ev := nextEvent(t, c)
		if ev.Kind != EventEnded || ev.Degraded {
			t.Fatalf("unexpected event %+v", ev)
		}
		if remote.CallCount("Synthesize") != 1 || local.CallCount("Synthesize") != 1 {
			t.Error("expected remote then local synthesis")
		}
		if len(sink.Played()) == 0 {
			t.Error("nothing played")
		}
	})

	t.Run("no providers", func(t *testing.T) {
		c := New(testSink())
		defer c.Close()

		c.Speak("Take care")
		ev := nextEvent(t, c)
		if !ev.Degraded || !errors.Is(ev.Err, tts.ErrProviderUnavailable) {
			t.Fatalf("expected degraded end, got %+v", ev)
		}
	})

	t.Run("stop during synthesis", func(t *testing.T) {
		release := make(chan struct{})
		slow := &tts.Mock{
			SynthesizeFunc: func(ctx context.Context, text string) (*tts.AudioResult, error) {
				close(release)
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}
		c := New(testSink(), WithSpeech(slow))
		defer c.Close()

		id := c.Speak("Take care")
		<-release
		c.Stop()

		ev := nextEvent(t, c)
		if ev.Kind != EventInterrupted || ev.ID != id {
			t.Fatalf("unexpected event %+v", ev)
		}
	})
}

func TestDeviceStartFailure(t *testing.T) {
	sink := testSink()
	sink.Close()
	c := New(sink)
	defer c.Close()

	c.PlayBytes(audioio.EncodeWAV(make([]int16, 160), 16000, 1), "")
	ev := nextEvent(t, c)
	if !ev.Degraded || !errors.Is(ev.Err, audioio.ErrDeviceUnavailable) {
		t.Fatalf("expected degraded end, got %+v", ev)
	}
}

func TestClose(t *testing.T) {
	sink := testSink(audioio.WithFlushDelay(time.Minute))
	c := New(sink)

	c.PlayBytes(audioio.EncodeWAV(make([]int16, 320), 16000, 1), "")
	waitSpeaking(t, c, sink)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sink.Closed() {
		t.Error("sink not closed")
	}

	ev, ok := <-c.Events()
	if !ok || ev.Kind != EventInterrupted {
		t.Fatalf("expected queued interrupted event, got %+v ok=%v", ev, ok)
	}
	if _, ok := <-c.Events(); ok {
		t.Error("events channel should be closed")
	}

	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if id := c.PlayBytes(nil, ""); id != 0 {
		t.Errorf("PlayBytes after Close returned %d", id)
	}
}
