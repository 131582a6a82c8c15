package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a Conn.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateOpen
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotOpen is returned by TrySend when the socket is not open.
	ErrNotOpen = errors.New("relay connection not open")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("relay connection closed")
)

// Conn is a lazily opened, self-healing client connection.
//
// Transitions: Unconnected -> Connecting on the first EnsureOpen; Connecting
// -> Open or Failed when the dial finishes; Open -> Failed on a read or write
// error; Failed -> Connecting on EnsureOpen once the backoff has elapsed.
// Nothing ever waits for a dial.
type Conn struct {
	config Config
	logger *slog.Logger
	dialer websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	failures int
	retryAt  time.Time
	closed   bool
	rng      *rand.Rand // protected by mu
	now      func() time.Time
}

// NewConn creates an unconnected relay client. No dial happens until
// EnsureOpen or TrySend is called.
func NewConn(config Config, logger *slog.Logger) (*Conn, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		config: config,
		logger: logger,
		dialer: websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
		ctx:    ctx,
		cancel: cancel,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}, nil
}

// State returns the current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EnsureOpen starts a dial in the background unless the connection is open,
// already dialing, closed or still backing off after a failure.
func (c *Conn) EnsureOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	switch c.state {
	case StateConnecting, StateOpen:
		return
	case StateFailed:
		if c.now().Before(c.retryAt) {
			return
		}
	}

	c.state = StateConnecting
	c.wg.Add(1)
	go c.dial()
}

func (c *Conn) dial() {
	defer c.wg.Done()

	ctx := c.ctx
	if c.config.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.HandshakeTimeout)
		defer cancel()
	}

	conn, _, err := c.dialer.DialContext(ctx, c.config.URL, nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.failLocked(err)
		return
	}

	c.conn = conn
	c.state = StateOpen
	c.failures = 0
	c.logger.Debug("relay connected", slog.String("url", c.config.URL))

	c.wg.Add(1)
	go c.readLoop(conn)
}

// readLoop drains the socket so a server-side close is noticed. The relay
// server never sends anything meaningful.
func (c *Conn) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			c.drop(conn, err)
			return
		}
	}
}

// drop fails the connection if conn is still the current one.
func (c *Conn) drop(conn *websocket.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn || c.closed {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.failLocked(err)
}

// failLocked records a failure and schedules the earliest next dial.
// c.mu must be held.
func (c *Conn) failLocked(err error) {
	delay := c.backoffLocked()
	c.failures++
	c.state = StateFailed
	c.retryAt = c.now().Add(delay)

	c.logger.Debug("relay connection failed",
		slog.String("url", c.config.URL),
		slog.String("error", err.Error()),
		slog.Int("failures", c.failures),
		slog.Duration("retry_in", delay))
}

// backoffLocked calculates the wait before the next dial with exponential
// backoff and jitter. c.mu must be held.
func (c *Conn) backoffLocked() time.Duration {
	shift := uint(c.failures)
	if shift > 30 {
		shift = 30
	}
	backoff := float64(c.config.BaseDelay) * float64(uint64(1)<<shift)
	if backoff > float64(c.config.MaxDelay) {
		backoff = float64(c.config.MaxDelay)
	}

	// Range [delay*(1-jitter/2), delay*(1+jitter/2)].
	if c.config.JitterFactor > 0 {
		jitter := (c.rng.Float64() - 0.5) * c.config.JitterFactor
		backoff = backoff * (1 + jitter)
	}
	return time.Duration(backoff)
}

// TrySend writes v as one JSON text message if the socket is open. Otherwise
// it kicks off a dial and returns ErrNotOpen without waiting.
func (c *Conn) TrySend(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode relay message: %w", err)
	}

	c.EnsureOpen()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state != StateOpen || c.conn == nil {
		return ErrNotOpen
	}

	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(c.now().Add(c.config.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.failLocked(err)
		return fmt.Errorf("failed to send relay message: %w", err)
	}
	return nil
}

// Close closes the socket and waits for background goroutines. Later calls
// to TrySend return ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()

	var err error
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			c.now().Add(time.Second))
		err = c.conn.Close()
		c.conn = nil
	}
	c.state = StateUnconnected
	c.mu.Unlock()

	c.wg.Wait()
	return err
}
