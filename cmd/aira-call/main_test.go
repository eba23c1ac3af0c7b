package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/teslashibe/go-aira/pkg/audioio"
	"github.com/teslashibe/go-aira/pkg/capture"
	"github.com/teslashibe/go-aira/pkg/playback"
	"github.com/teslashibe/go-aira/pkg/session"
	"github.com/teslashibe/go-aira/pkg/transport"
)

// unreachableURL returns a voice URL on a port nothing listens on.
func unreachableURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return "ws://" + addr + "/ws/voice"
}

func newTestSession(t *testing.T, url string) *session.Session {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audioCfg := audioio.DefaultConfig()

	ch, err := transport.New(
		transport.WithURL(url),
		transport.WithReconnect(3, 20*time.Millisecond, 20*time.Millisecond),
		transport.WithLogger(logger),
	)
	if err != nil {
		t.Fatal(err)
	}
	s, err := session.New(ch,
		capture.New(capture.DeviceOpener(audioCfg, logger), capture.WithLogger(logger)),
		playback.New(audioio.NewMockSink(audioCfg, logger), playback.WithLogger(logger)),
		session.WithLogger(logger),
	)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestConnect_KeepsRetrying(t *testing.T) {
	s := newTestSession(t, unreachableURL(t))
	defer s.Close()

	if err := connect(context.Background(), s); err != nil {
		t.Fatalf("connect = %v, want nil while the transport retries", err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case u := <-s.Updates():
			if u.Kind == session.UpdateStatus && u.Status == transport.StatusConnecting && u.Attempt > 0 {
				return
			}
		case <-timeout:
			t.Fatal("no reconnect scheduled after a failed first dial")
		}
	}
}

func TestConnect_Closed(t *testing.T) {
	s := newTestSession(t, unreachableURL(t))
	s.Close()

	if err := connect(context.Background(), s); !errors.Is(err, session.ErrClosed) {
		t.Errorf("connect = %v, want ErrClosed", err)
	}
}
