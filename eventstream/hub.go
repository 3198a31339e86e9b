// Package eventstream broadcasts TaskEvent rows to connected WebSocket
// clients. Grounded on control_plane/ws_hub.go's single-broadcaster pattern
// (one ticker polling the store, not one per connection, and not a push
// channel fed by call sites scattered across two separate binaries), wiring
// gorilla/websocket into a domain surface TaskFlow's otherwise-absent
// dashboard never had a chance to.
package eventstream

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskflow-io/taskflow/store"
	"github.com/taskflow-io/taskflow/task"
)

const (
	maxConnections = 200
	pollInterval   = 1 * time.Second
	pollBatchSize  = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans newly appended task.Event rows out to every connected client. It
// polls the Store directly rather than requiring every mutation call site
// (spread across the coordinator and worker binaries) to reach back into a
// single process's in-memory channel.
type Hub struct {
	store store.Store

	mu          sync.RWMutex
	clients     map[*websocket.Conn]struct{}
	lastEventID int64
}

// NewHub returns an idle Hub; call Run to start its poll-and-broadcast loop.
func NewHub(s store.Store) *Hub {
	return &Hub{store: s, clients: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades the request to a WebSocket and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[eventstream] upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	if len(h.clients) >= maxConnections {
		h.mu.Unlock()
		conn.Close()
		log.Printf("[eventstream] connection rejected: max connections (%d) reached", maxConnections)
		return
	}
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go h.readUntilClosed(conn)
}

// readUntilClosed blocks on reads (which the client never sends) purely to
// detect disconnection, then unregisters the connection.
func (h *Hub) readUntilClosed(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Run polls the Store for events appended since the last tick and broadcasts
// each to every connected client, until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.pollAndBroadcast(ctx)
		}
	}
}

func (h *Hub) pollAndBroadcast(ctx context.Context) {
	evts, err := h.store.ListEventsSince(ctx, h.lastEventID, pollBatchSize)
	if err != nil {
		log.Printf("[eventstream] poll failed: %v", err)
		return
	}

	h.mu.RLock()
	hasClients := len(h.clients) > 0
	h.mu.RUnlock()

	for _, evt := range evts {
		if hasClients {
			h.broadcast(evt)
		}
		if evt.ID > h.lastEventID {
			h.lastEventID = evt.ID
		}
	}
}

func (h *Hub) broadcast(evt task.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("[eventstream] write failed, dropping client: %v", err)
			// Closing makes readUntilClosed's read fail, which unregisters it.
			conn.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
