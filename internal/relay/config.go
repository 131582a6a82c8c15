// Package relay carries activity entries over a local WebSocket: a client
// connection manager used by the logger as its fallback sink and the hub that
// serves the other end.
package relay

import (
	"errors"
	"time"
)

// Default values for the relay client.
const (
	DefaultURL              = "ws://localhost:3001/ws"
	DefaultBaseDelay        = 500 * time.Millisecond
	DefaultMaxDelay         = 30 * time.Second
	DefaultJitterFactor     = 0.5
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultWriteTimeout     = 2 * time.Second
)

// Configuration errors.
var (
	ErrEmptyURL        = errors.New("relay URL cannot be empty")
	ErrInvalidDelay    = errors.New("base delay must be positive")
	ErrInvalidMaxDelay = errors.New("max delay must be >= base delay")
	ErrInvalidJitter   = errors.New("jitter factor must be between 0 and 1")
)

// Config holds configuration for the relay client.
type Config struct {
	// URL is the relay WebSocket endpoint.
	URL string

	// BaseDelay is the wait after the first failure before a new dial is allowed.
	BaseDelay time.Duration

	// MaxDelay caps the wait between dials.
	MaxDelay time.Duration

	// JitterFactor is the fraction of delay to randomize (0.0 to 1.0).
	JitterFactor float64

	// HandshakeTimeout bounds a single dial.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single send.
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with default timings for url.
func DefaultConfig(url string) Config {
	if url == "" {
		url = DefaultURL
	}
	return Config{
		URL:              url,
		BaseDelay:        DefaultBaseDelay,
		MaxDelay:         DefaultMaxDelay,
		JitterFactor:     DefaultJitterFactor,
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.URL == "" {
		return ErrEmptyURL
	}
	if c.BaseDelay <= 0 {
		return ErrInvalidDelay
	}
	if c.MaxDelay < c.BaseDelay {
		return ErrInvalidMaxDelay
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return ErrInvalidJitter
	}
	return nil
}
