package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/teslashibe/go-aira/pkg/protocol"
)

// fakeConn is an in-memory Conn.
type fakeConn struct {
	inbound chan []byte
	fail    chan error
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	writes   []protocol.Frame
	controls []int
	closes   int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		fail:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case err := <-c.fail:
		return 0, nil, err
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	f, err := protocol.Parse(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.writes = append(c.writes, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	c.controls = append(c.controls, messageType)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.writes {
		if f.Type == protocol.TypePing {
			n++
		}
	}
	return n
}

func (c *fakeConn) closeFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, mt := range c.controls {
		if mt == websocket.CloseMessage {
			n++
		}
	}
	return n
}

// fakeDialer hands out queued conns, then fails.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(context.Context, string, http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, NewConnectionError("connection refused", nil, true)
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) push(c *fakeConn) {
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestChannel(t *testing.T, d Dialer, clock clockwork.Clock) *Channel {
	t.Helper()
	ch, err := New(
		WithURL("ws://voice.test/ws/voice"),
		WithDialer(d),
		WithClock(clock),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func nextEvent(t *testing.T, ch *Channel) Event {
	t.Helper()
	select {
	case ev := <-ch.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func nextStatus(t *testing.T, ch *Channel) Event {
	t.Helper()
	for {
		ev := nextEvent(t, ch)
		if ev.Kind == EventStatus {
			return ev
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt, time.Second, 5*time.Second); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingURL) {
		t.Errorf("expected ErrMissingURL, got %v", err)
	}

	cfg.Apply(WithURL("ws://x"), WithReconnect(3, 5*time.Second, time.Second))
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for max delay below base delay")
	}

	cfg.Apply(WithReconnect(3, time.Second, 5*time.Second))
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestChannel_ConnectAndReceive(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(conn)
	ch := newTestChannel(t, d, clockwork.NewFakeClock())

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if ev := nextStatus(t, ch); ev.Status != StatusConnecting {
		t.Fatalf("first status = %v, want connecting", ev.Status)
	}
	if ev := nextStatus(t, ch); ev.Status != StatusConnected {
		t.Fatalf("second status = %v, want connected", ev.Status)
	}
	if !ch.IsConnected() {
		t.Fatal("should be connected")
	}
	if err := ch.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect: got %v, want ErrAlreadyConnected", err)
	}

	conn.inbound <- []byte(`{"type":"transcript","text":"hello"}`)
	conn.inbound <- []byte(`not json`)
	conn.inbound <- []byte(`{"type":"response","text":"hi there"}`)

	ev := nextEvent(t, ch)
	if ev.Kind != EventMessage || ev.Frame.Type != protocol.TypeTranscript || ev.Frame.Text != "hello" {
		t.Errorf("unexpected first event: %+v", ev)
	}
	ev = nextEvent(t, ch)
	if ev.Kind != EventError || !errors.Is(ev.Err, protocol.ErrMalformed) {
		t.Errorf("expected parse error event, got %+v", ev)
	}
	ev = nextEvent(t, ch)
	if ev.Kind != EventMessage || ev.Frame.Type != protocol.TypeResponse {
		t.Errorf("unexpected third event: %+v", ev)
	}

	if got := ch.Stats().FramesReceived; got != 3 {
		t.Errorf("FramesReceived = %d, want 3", got)
	}
}

func TestChannel_SendNotConnected(t *testing.T) {
	ch := newTestChannel(t, &fakeDialer{}, clockwork.NewFakeClock())

	err := ch.Send(protocol.NewAudio([]byte{1, 2}))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send() error = %v, want ErrNotConnected", err)
	}
	if !IsNotConnected(err) {
		t.Error("IsNotConnected should be true")
	}

	ev := nextEvent(t, ch)
	if ev.Kind != EventError || !errors.Is(ev.Err, ErrNotConnected) {
		t.Errorf("expected error event, got %+v", ev)
	}
}

func TestChannel_Heartbeat(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(conn)
	ch := newTestChannel(t, d, clock)

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	nextStatus(t, ch)
	nextStatus(t, ch)

	clock.Advance(29 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if n := conn.pings(); n != 0 {
		t.Fatalf("pings before interval = %d, want 0", n)
	}

	clock.Advance(time.Second)
	waitFor(t, "first ping", func() bool { return conn.pings() == 1 })

	clock.Advance(30 * time.Second)
	waitFor(t, "second ping", func() bool { return conn.pings() == 2 })

	ch.Close()
	clock.Advance(90 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if n := conn.pings(); n != 2 {
		t.Errorf("pings after close = %d, want 2", n)
	}
}

func TestChannel_CloseIdempotent(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(conn)
	ch := newTestChannel(t, d, clockwork.NewFakeClock())

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := ch.Close(); err != nil {
			t.Errorf("Close() #%d error: %v", i+1, err)
		}
	}

	if n := conn.closeFrames(); n != 1 {
		t.Errorf("close frames = %d, want 1", n)
	}
	if ch.Status() != StatusDisconnected {
		t.Errorf("status = %v, want disconnected", ch.Status())
	}
	if err := ch.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close: got %v, want ErrClosed", err)
	}
	if err := ch.Send(protocol.NewPing()); !IsNotConnected(err) {
		t.Errorf("Send after Close: got %v", err)
	}
}

func TestChannel_ReconnectBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(conn)
	ch := newTestChannel(t, d, clock)

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	nextStatus(t, ch)
	nextStatus(t, ch)

	conn.fail <- &websocket.CloseError{Code: websocket.CloseAbnormalClosure}

	wantDelays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, delay := range wantDelays {
		ev := nextStatus(t, ch)
		if ev.Status != StatusConnecting || ev.Attempt != i+1 || ev.Delay != delay {
			t.Fatalf("attempt %d: got status=%v attempt=%d delay=%v, want connecting %d %v",
				i+1, ev.Status, ev.Attempt, ev.Delay, i+1, delay)
		}

		clock.Advance(delay - time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		if got := d.count(); got != i+1 {
			t.Fatalf("dialed early: dials = %d, want %d", got, i+1)
		}
		clock.Advance(time.Millisecond)
	}

	ev := nextStatus(t, ch)
	if ev.Status != StatusError {
		t.Fatalf("final status = %v, want error", ev.Status)
	}
	if !errors.Is(ev.Err, ErrReconnectExhausted) {
		t.Errorf("final error = %v, want ErrReconnectExhausted", ev.Err)
	}
	if got := d.count(); got != 4 {
		t.Errorf("dials = %d, want 4", got)
	}

	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if got := d.count(); got != 4 {
		t.Errorf("dialed after exhaustion: %d", got)
	}
	if ch.ReconnectAttempts() != 3 {
		t.Errorf("attempts = %d, want 3", ch.ReconnectAttempts())
	}
}

func TestChannel_ReconnectSucceeds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{}
	d.push(first)
	d.push(second)
	ch := newTestChannel(t, d, clock)

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	nextStatus(t, ch)
	nextStatus(t, ch)

	first.fail <- errors.New("connection reset by peer")

	ev := nextStatus(t, ch)
	if ev.Status != StatusConnecting || ev.Attempt != 1 {
		t.Fatalf("got %+v, want connecting attempt 1", ev)
	}

	clock.Advance(time.Second)
	if ev := nextStatus(t, ch); ev.Status != StatusConnected {
		t.Fatalf("got %v, want connected", ev.Status)
	}
	if ch.ReconnectAttempts() != 0 {
		t.Errorf("attempts not reset: %d", ch.ReconnectAttempts())
	}

	if err := ch.Send(protocol.NewAudio([]byte{1})); err != nil {
		t.Fatalf("Send() after reconnect: %v", err)
	}
	second.mu.Lock()
	n := len(second.writes)
	second.mu.Unlock()
	if n != 1 {
		t.Errorf("writes on new conn = %d, want 1", n)
	}
}

func TestChannel_NormalClosure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(conn)
	ch := newTestChannel(t, d, clock)

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	nextStatus(t, ch)
	nextStatus(t, ch)

	conn.fail <- &websocket.CloseError{Code: websocket.CloseNormalClosure}

	if ev := nextStatus(t, ch); ev.Status != StatusDisconnected {
		t.Fatalf("got %v, want disconnected", ev.Status)
	}

	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if got := d.count(); got != 1 {
		t.Errorf("reconnected after normal closure: dials = %d", got)
	}
}

func TestChannel_InitialConnectFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := &fakeDialer{}
	ch := newTestChannel(t, d, clock)

	err := ch.Connect(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}

	nextStatus(t, ch) // connecting
	ev := nextStatus(t, ch)
	if ev.Status != StatusConnecting || ev.Attempt != 1 || ev.Delay != time.Second {
		t.Fatalf("got %+v, want reconnect attempt 1 after 1s", ev)
	}

	d.push(newFakeConn())
	clock.Advance(time.Second)
	if ev := nextStatus(t, ch); ev.Status != StatusConnected {
		t.Errorf("got %v, want connected", ev.Status)
	}
}

func TestChannel_Websocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan protocol.Frame, 4)
	closeCodes := make(chan int, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(protocol.NewResponse("Hello, how can I help?"))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				closeCodes <- closeCode(err)
				return
			}
			f, err := protocol.ParseOutbound(data)
			if err != nil {
				continue
			}
			received <- f
			if f.Type == protocol.TypePing {
				_ = conn.WriteJSON(protocol.NewPong())
			}
		}
	}))
	defer srv.Close()

	ch, err := New(WithURL("ws" + strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	var msg Event
	for msg.Kind != EventMessage {
		msg = nextEvent(t, ch)
	}
	if msg.Frame.Type != protocol.TypeResponse || msg.Frame.Text != "Hello, how can I help?" {
		t.Errorf("unexpected frame: %+v", msg.Frame)
	}

	if err := ch.Send(protocol.NewPing()); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-received:
		if f.Type != protocol.TypePing {
			t.Errorf("server got %s, want ping", f.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive ping")
	}

	pong := nextEvent(t, ch)
	if pong.Kind != EventMessage || pong.Frame.Type != protocol.TypePong {
		t.Errorf("expected pong, got %+v", pong)
	}

	ch.Close()
	select {
	case code := <-closeCodes:
		if code != websocket.CloseNormalClosure {
			t.Errorf("server saw close code %d, want 1000", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not see close")
	}
}
