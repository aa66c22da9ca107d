// Package realtime pushes named events to the overlays a streamer has open.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dotabod/backend-sub002/internal/domain/session"
	"github.com/dotabod/backend-sub002/pkg/logger"
	"github.com/dotabod/backend-sub002/pkg/metrics"
)

const (
	clientSendBuf = 64
	writeDeadline = 5 * time.Second
	pongWait      = 30 * time.Second
	pingInterval  = 20 * time.Second
)

// ErrHubClosed is returned by Serve after Close.
var ErrHubClosed = errors.New("realtime hub closed")

// Message is the frame written to overlays.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	TS    int64  `json:"ts"`
}

type client struct {
	token string
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}
}

// Hub fans published events out to every connection opened for a token.
type Hub struct {
	upgrader websocket.Upgrader
	now      func() time.Time
	log      logger.Logger

	mu     sync.Mutex
	rooms  map[string]map[*client]struct{}
	closed bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithCheckOrigin sets the origin policy for upgrades.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		now:      time.Now,
		log:      logger.Named("realtime"),
		rooms:    make(map[string]map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Channel returns the publisher bound to token.
func (h *Hub) Channel(token string) session.Publisher {
	return channel{hub: h, token: token}
}

type channel struct {
	hub   *Hub
	token string
}

func (c channel) Publish(ctx context.Context, name string, payload any) error {
	return c.hub.Publish(ctx, c.token, name, payload)
}

// Publish sends an event to the connections of token. Slow connections
// drop the frame rather than block the caller.
func (h *Hub) Publish(ctx context.Context, token, name string, payload any) error {
	data, err := json.Marshal(Message{Event: name, Data: payload, TS: h.now().UnixMilli()})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[token] {
		select {
		case c.send <- data:
		default:
			h.log.Warn(ctx, "dropping event for slow overlay",
				logger.String("token", session.Redact(token)),
				logger.String("event", name))
		}
	}
	return nil
}

// Count returns the open connections of token.
func (h *Hub) Count(token string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[token])
}

// Total returns all open connections.
func (h *Hub) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, room := range h.rooms {
		n += len(room)
	}
	return n
}

// Serve upgrades the request and attaches the connection to token. The
// caller authenticates token first.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, token string) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return ErrHubClosed
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		token: token,
		conn:  conn,
		send:  make(chan []byte, clientSendBuf),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	room, ok := h.rooms[token]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[token] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()

	metrics.AddRealtimeConnections(1)
	h.log.Debug(r.Context(), "overlay connected", logger.String("token", session.Redact(token)))

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

// Close disconnects every overlay.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for _, room := range h.rooms {
		for c := range room {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		_ = c.conn.Close()
	}
}

// writePump owns the client lifecycle: on exit it removes the client and
// closes the connection.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		h.remove(c)
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads pongs and close frames. Overlays send nothing upstream.
func (h *Hub) readPump(c *client) {
	defer close(c.done)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	room := h.rooms[c.token]
	if _, ok := room[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.token)
	}
	h.mu.Unlock()
	metrics.AddRealtimeConnections(-1)
}
