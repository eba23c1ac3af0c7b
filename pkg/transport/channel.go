// Package transport maintains the voice socket between a call session and
// the voice backend.
//
// A Channel owns exactly one live websocket connection. It sends a ping
// frame on a fixed heartbeat while connected, and when the connection drops
// with anything other than a normal closure it reconnects with exponential
// backoff until MaxReconnectAttempts is reached, after which the channel
// parks in StatusError until the owner closes it or calls Connect again.
//
// Everything the owner needs to react to (inbound frames, status changes,
// send failures) is delivered in order on the Events channel:
//
//	ch, err := transport.New(transport.WithURL("ws://localhost:8000/ws/voice"))
//	if err != nil {
//	    return err
//	}
//	defer ch.Close()
//
//	go func() {
//	    for ev := range ch.Events() {
//	        // handle ev.Frame / ev.Status / ev.Err
//	    }
//	}()
//
//	if err := ch.Connect(ctx); err != nil {
//	    // the channel keeps retrying in the background
//	}
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/teslashibe/go-aira/pkg/protocol"
)

// Status represents the state of the voice socket.
type Status int

const (
	// StatusDisconnected indicates no connection and no pending reconnect.
	StatusDisconnected Status = iota
	// StatusConnecting indicates a dial is in progress or scheduled.
	StatusConnecting
	// StatusConnected indicates an open connection.
	StatusConnected
	// StatusError indicates reconnection was exhausted.
	StatusError
)

// String returns a human-readable status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// EventKind identifies what an Event carries.
type EventKind int

const (
	// EventMessage carries an inbound frame.
	EventMessage EventKind = iota
	// EventStatus carries a status change.
	EventStatus
	// EventError carries a send or parse failure.
	EventError
)

// Event is delivered on Channel.Events.
type Event struct {
	Kind EventKind

	// Frame is set for EventMessage.
	Frame protocol.Frame

	// Status is set for EventStatus.
	Status Status

	// Attempt and Delay describe a scheduled reconnect (StatusConnecting)
	// or the final attempt count (StatusError).
	Attempt int
	Delay   time.Duration

	// Err is the failure for EventError and the cause of a status change.
	Err error
}

// Stats contains channel counters.
type Stats struct {
	Status            Status `json:"status"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	FramesSent        int64  `json:"frames_sent"`
	FramesReceived    int64  `json:"frames_received"`
}

// Channel is a reconnecting voice socket.
type Channel struct {
	cfg    *Config
	logger *slog.Logger
	clock  clockwork.Clock
	dialer Dialer

	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	conn     Conn
	gen      uint64 // incremented per connection; stale goroutines compare against it
	status   Status
	attempts int
	closed   bool
	hbStop   chan struct{}
	retry    clockwork.Timer

	// gorilla/websocket allows one concurrent writer.
	writeMu sync.Mutex

	framesSent     atomic.Int64
	framesReceived atomic.Int64
}

// New creates a channel. It does not dial until Connect is called.
func New(opts ...Option) (*Channel, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewWebsocketDialer(cfg.HandshakeTimeout)
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	return &Channel{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "transport.channel"),
		clock:  cfg.Clock,
		dialer: cfg.Dialer,
		events: make(chan Event, cfg.EventBuffer),
		done:   make(chan struct{}),
		status: StatusDisconnected,
	}, nil
}

// Events returns the channel on which frames, status changes and errors
// are delivered. It is never closed; stop reading after Close.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Status returns the current connection status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected returns true if the socket is open.
func (c *Channel) IsConnected() bool {
	return c.Status() == StatusConnected
}

// ReconnectAttempts returns the consecutive reconnection attempts made
// since the last successful connect.
func (c *Channel) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Stats returns channel counters.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	status, attempts := c.status, c.attempts
	c.mu.Unlock()

	return Stats{
		Status:            status,
		ReconnectAttempts: attempts,
		FramesSent:        c.framesSent.Load(),
		FramesReceived:    c.framesReceived.Load(),
	}
}

// Connect dials the voice endpoint. A failed dial is returned and also
// enters the reconnect schedule. Calling Connect after StatusError starts
// a fresh round of attempts.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.status == StatusConnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.status == StatusError {
		c.attempts = 0
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	c.emit(Event{Kind: EventStatus, Status: StatusConnecting})

	c.logger.Info("connecting to voice backend", "url", c.cfg.URL)

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		ev := c.scheduleReconnectLocked(err)
		c.mu.Unlock()
		c.emit(ev)
		return err
	}

	c.opened(conn)
	return nil
}

// Send writes a frame. When the socket is not open it returns
// ErrNotConnected and also reports the failure as an EventError.
func (c *Channel) Send(frame protocol.Frame) error {
	err := c.write(0, frame)
	if err != nil {
		c.tryEmit(Event{Kind: EventError, Err: err})
	}
	return err
}

// Close sends a normal-closure frame, stops the heartbeat and any pending
// reconnect, and releases the connection. It is safe to call repeatedly.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	conn := c.conn
	c.conn = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		conn.Close()
	}

	c.logger.Info("voice channel closed")
	return nil
}

// Backoff returns the reconnect delay for a 1-based attempt:
// base * 2^(attempt-1), capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (c *Channel) dial(ctx context.Context) (Conn, error) {
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}
	return c.dialer.Dial(ctx, c.cfg.URL, c.cfg.Header)
}

// opened installs a freshly dialed connection.
func (c *Channel) opened(conn Conn) {
	c.mu.Lock()
	if c.closed || (c.status == StatusConnected && c.conn != nil) {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.status = StatusConnected
	c.attempts = 0
	c.retry = nil
	stop := make(chan struct{})
	c.hbStop = stop
	ticker := c.clock.NewTicker(c.cfg.PingInterval)
	c.mu.Unlock()

	c.logger.Info("voice channel connected", "url", c.cfg.URL)
	c.emit(Event{Kind: EventStatus, Status: StatusConnected})

	go c.heartbeat(gen, ticker, stop)
	go c.readLoop(gen, conn)
}

// heartbeat sends a ping every PingInterval until stop is closed.
func (c *Channel) heartbeat(gen uint64, ticker clockwork.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if err := c.write(gen, protocol.NewPing()); err != nil {
				c.logger.Debug("heartbeat ping failed", "error", err)
			}
		}
	}
}

// readLoop dispatches inbound frames until the connection fails.
func (c *Channel) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(gen, err)
			return
		}
		c.framesReceived.Add(1)

		frame, err := protocol.ParseInbound(data)
		if err != nil {
			c.logger.Warn("discarding inbound frame", "error", err)
			c.emit(Event{Kind: EventError, Err: err})
			continue
		}
		if !c.emit(Event{Kind: EventMessage, Frame: frame}) {
			return
		}
	}
}

// dropped handles a read failure on connection gen.
func (c *Channel) dropped(gen uint64, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}

	code := closeCode(err)
	var ev Event
	if code == websocket.CloseNormalClosure {
		c.status = StatusDisconnected
		ev = Event{Kind: EventStatus, Status: StatusDisconnected}
	} else {
		ev = c.scheduleReconnectLocked(NewConnectionError(fmt.Sprintf("closed with code %d", code), err, true))
	}
	c.mu.Unlock()

	conn.Close()
	c.logger.Warn("voice channel dropped",
		"code", code,
		"status", ev.Status,
		"attempt", ev.Attempt,
		"delay", ev.Delay,
	)
	c.emit(ev)
}

// scheduleReconnectLocked arms the next reconnect, or parks the channel in
// StatusError once the cap is reached. Callers hold c.mu and emit the
// returned event after unlocking.
func (c *Channel) scheduleReconnectLocked(cause error) Event {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.status = StatusError
		return Event{
			Kind:    EventStatus,
			Status:  StatusError,
			Attempt: c.attempts,
			Err:     fmt.Errorf("%w: %w", ErrReconnectExhausted, cause),
		}
	}

	c.attempts++
	delay := Backoff(c.attempts, c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay)
	c.status = StatusConnecting
	c.retry = c.clock.AfterFunc(delay, c.reconnect)

	return Event{
		Kind:    EventStatus,
		Status:  StatusConnecting,
		Attempt: c.attempts,
		Delay:   delay,
		Err:     cause,
	}
}

// reconnect runs when a backoff timer fires.
func (c *Channel) reconnect() {
	c.mu.Lock()
	if c.closed || c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Info("reconnecting to voice backend", "attempt", attempt)

	conn, err := c.dial(context.Background())
	if err != nil {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		ev := c.scheduleReconnectLocked(err)
		c.mu.Unlock()
		c.emit(ev)
		return
	}

	c.opened(conn)
}

// write sends a frame on the current connection. A non-zero gen restricts
// the write to that connection.
func (c *Channel) write(gen uint64, frame protocol.Frame) error {
	data, err := frame.Bytes()
	if err != nil {
		return fmt.Errorf("transport: encode frame: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	ok := conn != nil && c.status == StatusConnected && (gen == 0 || gen == c.gen)
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return NewConnectionError("write failed", err, true)
	}
	c.framesSent.Add(1)
	return nil
}

// emit delivers an event, giving up once the channel is closed.
func (c *Channel) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// tryEmit delivers an event without blocking. Used on paths the event
// consumer itself may be calling.
func (c *Channel) tryEmit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event buffer full, dropping event", "kind", ev.Kind, "error", ev.Err)
	}
}
