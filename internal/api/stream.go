package api

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait = 10 * time.Second
	streamPongWait  = 60 * time.Second
	streamPingEvery = 54 * time.Second
)

// Hub fans execution events out to the connected stream clients. Each
// client has its own send buffer and optional event-type filter; a client
// that stops draining is dropped rather than allowed to stall delivery to
// the others.
type Hub struct {
	mu       sync.Mutex
	clients  map[*streamClient]struct{}
	incoming chan ExecutionEvent
	logger   *slog.Logger
}

type streamClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	accept map[string]bool // nil accepts every event type
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:  make(map[*streamClient]struct{}),
		incoming: make(chan ExecutionEvent, 256),
		logger:   logger.With("component", "event-stream"),
	}
}

// Run drains the incoming queue. Runs until the process exits.
func (h *Hub) Run() {
	for evt := range h.incoming {
		h.dispatch(evt)
	}
}

// BroadcastEvent queues an event for delivery. Saturation drops the event;
// the stream is best-effort and must never hold up an execution.
func (h *Hub) BroadcastEvent(evt ExecutionEvent) {
	select {
	case h.incoming <- evt:
	default:
		h.logger.Warn("event queue full, dropping event", "type", evt.Type)
	}
}

// dispatch marshals once and delivers to every subscribed client.
func (h *Hub) dispatch(evt ExecutionEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("event marshal failed", "type", evt.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(evt.Type) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow consumer: cut it loose instead of stalling the stream.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Subscribe attaches an upgraded connection to the hub and starts its
// pumps. filter names the event types the client wants; empty means all.
func (h *Hub) Subscribe(conn *websocket.Conn, filter []string) {
	c := &streamClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 64),
		accept: acceptSet(filter),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("stream client connected", "clients", n, "filtered", c.accept != nil)

	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) drop(c *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("stream client disconnected", "clients", n)
}

// acceptSet normalizes a requested type filter; nil means "everything".
func acceptSet(filter []string) map[string]bool {
	set := make(map[string]bool, len(filter))
	for _, t := range filter {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (c *streamClient) wants(eventType string) bool {
	return c.accept == nil || c.accept[eventType]
}

func (c *streamClient) writeLoop() {
	ping := time.NewTicker(streamPingEvery)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop exists to answer pongs and notice disconnects; the stream is
// one-way and client frames are discarded.
func (c *streamClient) readLoop() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
