// Package ws streams committed registry and request events to WebSocket
// clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// client is one WebSocket connection. An empty types set receives every
// event.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	mu    sync.RWMutex
	types map[domain.EventType]bool
}

// filterMsg lets a connected client change its event filter:
//
//	{"action":"subscribe","types":["binding_changed"]}
type filterMsg struct {
	Action string   `json:"action"`
	Types  []string `json:"types"`
}

// envelope is the frame written for every event.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Config is reported to clients when they connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans events from an EventSource out to connected clients.
type Hub struct {
	source     domain.EventSource
	clients    map[*client]bool
	broadcast  chan domain.Event
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// NewHub creates a Hub reading from source.
func NewHub(source domain.EventSource, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		source:     source,
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws")),
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run subscribes to the source and serves clients until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.source.Subscribe(ctx)
	if err != nil {
		return err
	}
	go h.pump(ctx, events)

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case ev := <-h.broadcast:
			data, err := json.Marshal(envelope{Type: string(ev.Type), Payload: ev})
			if err != nil {
				h.logger.Warn("encode event failed", slog.String("error", err.Error()))
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(ev.Type) {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.logger.Warn("dropping event for slow client", slog.String("event", string(ev.Type)))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) pump(ctx context.Context, events <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				h.logger.Warn("event subscription closed")
				return
			}
			select {
			case h.broadcast <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the connection and registers the client. ?types=
// takes a comma-separated list of event types to receive.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		types: make(map[domain.EventType]bool),
	}
	if v := r.URL.Query().Get("types"); v != "" {
		c.subscribe(strings.Split(v, ","))
	}

	c.sendStatus()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) wants(t domain.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types) == 0 || c.types[t]
}

func (c *client) subscribe(types []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			c.types[domain.EventType(t)] = true
		}
	}
}

func (c *client) unsubscribe(types []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range types {
		delete(c.types, domain.EventType(strings.TrimSpace(t)))
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg filterMsg
		if json.Unmarshal(message, &msg) != nil {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.subscribe(msg.Types)
		case "unsubscribe":
			c.unsubscribe(msg.Types)
		}
	}
}

// sendStatus greets the client so it can mark the stream healthy before
// any event flows.
func (c *client) sendStatus() {
	msg, err := json.Marshal(envelope{
		Type: "hub_status",
		Payload: map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": max(0, int64(time.Since(c.hub.startedAt).Seconds())),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
