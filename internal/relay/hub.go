package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/educode/educode/internal/activity"
	"github.com/educode/educode/internal/middleware"
	"github.com/gorilla/websocket"
)

const (
	// maxMessageSize caps one inbound entry.
	maxMessageSize = 64 << 10

	// watcherBuffer is how many entries a slow watcher may lag before it is dropped.
	watcherBuffer = 64

	writeWait = 5 * time.Second
)

// EntryHandler receives every entry pushed to the hub.
type EntryHandler func(entry activity.LogEntry)

// watcher is one subscriber on the watch endpoint.
type watcher struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is the server end of the relay. Producers push entries on the ingest
// endpoint; each decoded entry goes to the handler and is fanned out to every
// watcher.
type Hub struct {
	handler  EntryHandler
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	watchers map[*watcher]struct{}
}

// NewHub creates a hub. handler may be nil.
func NewHub(handler EntryHandler, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The relay only listens on developer machines.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		watchers: make(map[*watcher]struct{}),
	}
}

// ServeIngest accepts pushed entries until the client disconnects.
// Nothing is ever acknowledged.
// GET /ws
func (h *Hub) ServeIngest(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, middleware.UpgradeHeader(w))
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to upgrade relay connection", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMessageSize)
	h.logger.DebugContext(r.Context(), "relay producer connected", slog.String("remote_addr", r.RemoteAddr))

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WarnContext(r.Context(), "relay producer closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var entry activity.LogEntry
		if err := json.Unmarshal(payload, &entry); err != nil || entry.Action == "" {
			h.logger.DebugContext(r.Context(), "dropping malformed relay message")
			continue
		}
		h.Broadcast(entry)
	}
}

// ServeWatch streams every entry the hub receives to the client.
// GET /ws/watch
func (h *Hub) ServeWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, middleware.UpgradeHeader(w))
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to upgrade watch connection", slog.String("error", err.Error()))
		return
	}

	wt := &watcher{conn: conn, send: make(chan []byte, watcherBuffer)}
	h.mu.Lock()
	h.watchers[wt] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(wt)
	}()

	// Watchers never send; reading detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(wt)
	<-done
	_ = conn.Close()
}

func (h *Hub) writePump(wt *watcher) {
	for data := range wt.send {
		_ = wt.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := wt.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("failed to write to relay watcher", slog.String("error", err.Error()))
			_ = wt.conn.Close()
			h.remove(wt)
			// Drain until remove closes the channel.
			for range wt.send {
			}
			return
		}
	}
}

// remove unregisters a watcher and closes its queue. Safe to call twice.
func (h *Hub) remove(wt *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watchers[wt]; ok {
		delete(h.watchers, wt)
		close(wt.send)
	}
}

// Broadcast hands the entry to the handler and queues it for every watcher.
// Watchers whose queue is full are disconnected.
func (h *Hub) Broadcast(entry activity.LogEntry) {
	if h.handler != nil {
		h.handler(entry)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		h.logger.Error("failed to marshal relay entry", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for wt := range h.watchers {
		select {
		case wt.send <- data:
		default:
			h.logger.Warn("relay watcher too slow, disconnecting")
			delete(h.watchers, wt)
			close(wt.send)
			_ = wt.conn.Close()
		}
	}
}

// WatcherCount returns the number of connected watchers.
func (h *Hub) WatcherCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}
