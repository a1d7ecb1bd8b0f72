// Package ws bridges signal bus channels to websocket clients.
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

	"github.com/alanyoungcy/perparb/internal/domain"
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
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Envelope is the frame sent to clients for every bus message.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// subscribeMsg lets a client narrow or widen the channels it receives.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// Hub fans bus messages out to connected clients. New clients receive
// every channel the hub forwards until they unsubscribe.
type Hub struct {
	bus      domain.SignalBus
	channels []string
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub forwarding the given bus channels.
func NewHub(bus domain.SignalBus, channels []string, logger *slog.Logger) *Hub {
	return &Hub{
		bus:      bus,
		channels: channels,
		logger:   logger.With(slog.String("component", "ws_hub")),
		clients:  make(map[*client]struct{}),
	}
}

// Run subscribes to every channel and forwards messages until ctx is
// cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range h.channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			h.logger.Error("subscribe failed", slog.String("channel", ch), slog.String("error", err.Error()))
			continue
		}
		wg.Add(1)
		go func(channel string, msgs <-chan []byte) {
			defer wg.Done()
			for data := range msgs {
				h.broadcast(channel, data)
			}
		}(ch, msgs)
	}

	<-ctx.Done()
	wg.Wait()

	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) broadcast(channel string, data []byte) {
	if !json.Valid(data) {
		quoted, _ := json.Marshal(string(data))
		data = quoted
	}
	frame, err := json.Marshal(Envelope{Channel: channel, Data: data})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(channel) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping message for slow client", slog.String("channel", channel))
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(h.channels)),
	}
	for _, ch := range h.channels {
		c.subs[ch] = true
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", slog.Int("total_clients", n))

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", slog.Int("total_clients", n))
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(raw, &msg) == nil {
			c.apply(msg)
		}
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// isSubscribed matches exact names and trailing-* prefixes.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
