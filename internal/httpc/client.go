// Package httpc provides the shared HTTP transport used by the service
// clients. Use it instead of http.DefaultClient so timeouts are always set.
package httpc

import (
	"net"
	"net/http"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// Transport is shared by every client built from this package so idle
// connections to the backend are pooled.
var Transport http.RoundTripper = newTransport()

// Client is a shared HTTP client with production-ready defaults.
var Client = &http.Client{
	Timeout:   DefaultTimeout,
	Transport: Transport,
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultConnectTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewClient returns a client with the given timeout over the shared
// transport. A zero timeout uses DefaultTimeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: Transport,
	}
}

// WithTransport returns a client with the given timeout whose round
// tripper wraps the shared transport, e.g. to add authentication.
func WithTransport(timeout time.Duration, wrap func(base http.RoundTripper) http.RoundTripper) *http.Client {
	c := NewClient(timeout)
	if wrap != nil {
		c.Transport = wrap(Transport)
	}
	return c
}
