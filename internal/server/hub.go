package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/researchdeck/internal/metrics"
	"github.com/ashureev/researchdeck/internal/protocol"
)

const broadcastWriteTimeout = 10 * time.Second

// client is one registered console socket.
type client struct {
	sessionID string
	conn      *websocket.Conn
}

// Hub tracks every open console socket. Agent envelopes go to all of them,
// regardless of which session issued the task.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	metrics *metrics.Gateway
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Gateway) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		metrics: m,
	}
}

// Register adds a socket and returns its handle.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) *client {
	c := &client{sessionID: sessionID, conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SocketOpened()
	}
	slog.Info("Console socket registered", "session_id", sessionID, "active", n)
	return c
}

// Unregister removes a socket. It reports whether the socket was still registered.
func (h *Hub) Unregister(c *client) bool {
	return h.remove(c, false)
}

func (h *Hub) remove(c *client, dropped bool) bool {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return false
	}

	if h.metrics != nil {
		h.metrics.SocketClosed(dropped)
	}
	slog.Info("Console socket unregistered", "session_id", c.sessionID, "dropped", dropped, "active", n)
	return true
}

// Len returns the number of registered sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast writes env to every socket and waits for all writes, so envelopes
// arrive at each socket in broadcast order. A socket whose write fails is closed
// and dropped; the others are unaffected.
func (h *Hub) Broadcast(ctx context.Context, env *protocol.Envelope) {
	data, err := protocol.Encode(*env)
	if err != nil {
		slog.Error("Failed to encode broadcast envelope", "type", env.Type, "error", err)
		return
	}
	if h.metrics != nil {
		h.metrics.Broadcast(env.Type)
	}
	if env.Type == protocol.TypeBrowserState {
		slog.Debug("Broadcasting browser frame", "bytes", len(env.Base64Image))
	}

	var g errgroup.Group
	for _, c := range h.snapshot() {
		g.Go(func() error {
			writeCtx, cancel := context.WithTimeout(ctx, broadcastWriteTimeout)
			defer cancel()
			if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
				slog.Warn("Dropping console socket after write error", "session_id", c.sessionID, "error", err)
				if h.remove(c, true) {
					_ = c.conn.Close(websocket.StatusInternalError, "write failed")
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Send writes env to a single socket.
func (h *Hub) Send(ctx context.Context, c *client, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, broadcastWriteTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// CloseAll closes every socket, used on shutdown.
func (h *Hub) CloseAll() {
	for _, c := range h.snapshot() {
		if h.remove(c, false) {
			_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}
