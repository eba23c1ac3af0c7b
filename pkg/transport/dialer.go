package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a connection to the voice endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	return f(ctx, url, header)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// NewWebsocketDialer returns a dialer with the given handshake timeout.
func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	return &WebsocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, NewConnectionError(
				fmt.Sprintf("dial failed with status %d", resp.StatusCode),
				err,
				resp.StatusCode >= 500,
			)
		}
		return nil, NewConnectionError("dial failed", err, true)
	}
	return conn, nil
}

// closeCode extracts the websocket close code from a read error.
// Errors that carry no close frame report CloseAbnormalClosure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
