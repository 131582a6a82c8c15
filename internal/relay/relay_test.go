package relay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/educode/educode/internal/activity"
	"github.com/educode/educode/internal/middleware"
	"github.com/gorilla/websocket"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func testConfig(url string) Config {
	return Config{
		URL:              url,
		BaseDelay:        10 * time.Millisecond,
		MaxDelay:         50 * time.Millisecond,
		JitterFactor:     0,
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "empty url", mutate: func(c *Config) { c.URL = "" }, wantErr: ErrEmptyURL},
		{name: "zero delay", mutate: func(c *Config) { c.BaseDelay = 0 }, wantErr: ErrInvalidDelay},
		{name: "max below base", mutate: func(c *Config) { c.MaxDelay = time.Millisecond }, wantErr: ErrInvalidMaxDelay},
		{name: "jitter too large", mutate: func(c *Config) { c.JitterFactor = 1.5 }, wantErr: ErrInvalidJitter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("")
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnconnected, "unconnected"},
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateFailed, "failed"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestConn_TrySendBeforeOpen(t *testing.T) {
	hub := NewHub(nil, newTestLogger())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeIngest))
	defer srv.Close()

	c, err := NewConn(testConfig(wsURL(srv, "")), newTestLogger())
	if err != nil {
		t.Fatalf("NewConn() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	if got := c.State(); got != StateUnconnected {
		t.Fatalf("State() = %v, want %v", got, StateUnconnected)
	}

	// The first send only starts the dial.
	if err := c.TrySend(activity.LogEntry{Action: "AUTH_LOGIN"}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("TrySend() error = %v, want ErrNotOpen", err)
	}

	waitFor(t, func() bool { return c.State() == StateOpen })
}

func TestConn_DeliversToHub(t *testing.T) {
	var (
		mu       sync.Mutex
		received []activity.LogEntry
	)
	hub := NewHub(func(e activity.LogEntry) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}, newTestLogger())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeIngest))
	defer srv.Close()

	c, err := NewConn(testConfig(wsURL(srv, "")), newTestLogger())
	if err != nil {
		t.Fatalf("NewConn() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	c.EnsureOpen()
	waitFor(t, func() bool { return c.State() == StateOpen })

	entry := activity.LogEntry{
		Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Action:    activity.ActionClassCreateSuccess,
		Details:   map[string]any{"className": "Algebra"},
	}
	if err := c.TrySend(entry); err != nil {
		t.Fatalf("TrySend() error = %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0].Action != entry.Action {
		t.Errorf("received action = %q, want %q", received[0].Action, entry.Action)
	}
	if received[0].Details["className"] != "Algebra" {
		t.Errorf("received details = %v, want className=Algebra", received[0].Details)
	}
}

func TestConn_RefusedConnectionFails(t *testing.T) {
	// Grab a free port and release it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c, err := NewConn(testConfig("ws://"+addr+"/ws"), newTestLogger())
	if err != nil {
		t.Fatalf("NewConn() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.TrySend(activity.LogEntry{Action: "AUTH_LOGIN"}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("TrySend() error = %v, want ErrNotOpen", err)
	}
	waitFor(t, func() bool { return c.State() == StateFailed })

	if err := c.TrySend(activity.LogEntry{Action: "AUTH_LOGIN"}); err == nil {
		t.Error("TrySend() on failed connection should return an error")
	}
}

func TestConn_ReconnectsAfterServerClose(t *testing.T) {
	var (
		mu    sync.Mutex
		conns []*websocket.Conn
	)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns = append(conns, conn)
		mu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := NewConn(testConfig(wsURL(srv, "")), newTestLogger())
	if err != nil {
		t.Fatalf("NewConn() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	c.EnsureOpen()
	waitFor(t, func() bool { return c.State() == StateOpen })

	mu.Lock()
	_ = conns[0].Close()
	mu.Unlock()

	waitFor(t, func() bool { return c.State() == StateFailed })

	// Keep asking until the backoff elapses and a new dial succeeds.
	waitFor(t, func() bool {
		c.EnsureOpen()
		return c.State() == StateOpen
	})

	mu.Lock()
	defer mu.Unlock()
	if len(conns) != 2 {
		t.Errorf("server saw %d connections, want 2", len(conns))
	}
}

func TestConn_Close(t *testing.T) {
	c, err := NewConn(testConfig("ws://127.0.0.1:1/ws"), newTestLogger())
	if err != nil {
		t.Fatalf("NewConn() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.TrySend(activity.LogEntry{Action: "AUTH_LOGIN"}); !errors.Is(err, ErrClosed) {
		t.Errorf("TrySend() after Close error = %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestBackoff_Bounds(t *testing.T) {
	c, err := NewConn(Config{
		URL:          "ws://localhost/ws",
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Second,
		JitterFactor: 0,
	}, newTestLogger())
	if err != nil {
		t.Fatalf("NewConn() error = %v", err)
	}

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{40, time.Second},
	}
	for _, tt := range tests {
		c.mu.Lock()
		c.failures = tt.failures
		got := c.backoffLocked()
		c.mu.Unlock()
		if got != tt.want {
			t.Errorf("backoff(failures=%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestHub_BroadcastToWatchers(t *testing.T) {
	hub := NewHub(nil, newTestLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeIngest)
	mux.HandleFunc("/ws/watch", hub.ServeWatch)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	watch, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/watch"), nil)
	if err != nil {
		t.Fatalf("dial watch: %v", err)
	}
	defer watch.Close()
	waitFor(t, func() bool { return hub.WatcherCount() == 1 })

	producer, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial ingest: %v", err)
	}
	defer producer.Close()

	// A malformed message is dropped and does not break the stream.
	if err := producer.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	if err := producer.WriteJSON(activity.LogEntry{Action: activity.ActionNavigation, Page: "/classes"}); err != nil {
		t.Fatalf("write entry: %v", err)
	}

	_ = watch.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := watch.ReadMessage()
	if err != nil {
		t.Fatalf("watch read: %v", err)
	}

	var got activity.LogEntry
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Action != activity.ActionNavigation || got.Page != "/classes" {
		t.Errorf("watched entry = %+v, want NAVIGATION on /classes", got)
	}

	_ = watch.Close()
	waitFor(t, func() bool { return hub.WatcherCount() == 0 })
}

func TestHub_HandshakeCarriesRequestID(t *testing.T) {
	hub := NewHub(nil, newTestLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeIngest)
	mux.HandleFunc("/ws/watch", hub.ServeWatch)
	srv := httptest.NewServer(middleware.RequestID(mux))
	defer srv.Close()

	for _, path := range []string{"/ws", "/ws/watch"} {
		header := http.Header{}
		header.Set(middleware.RequestIDHeader, "relay-42")
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, path), header)
		if err != nil {
			t.Fatalf("dial %s: %v", path, err)
		}
		if got := resp.Header.Get(middleware.RequestIDHeader); got != "relay-42" {
			t.Errorf("%s handshake %s = %q, want relay-42", path, middleware.RequestIDHeader, got)
		}
		_ = conn.Close()
	}
}
