package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"crypto-trading-bot-go/internal/config"
	"crypto-trading-bot-go/internal/events"
	"crypto-trading-bot-go/internal/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	TopicLogs     = "logs"
	TopicTrades   = "trades"
	TopicBot      = "bot"
	TopicSettings = "settings"

	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// AllTopics is the default subscription of a new client.
var AllTopics = []string{TopicLogs, TopicTrades, TopicBot, TopicSettings}

// Message is the envelope of everything written to a client.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type clientAction struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Welcome is sent once right after the upgrade.
type Welcome struct {
	ClientID string         `json:"client_id"`
	Topics   []string       `json:"topics"`
	Backlog  []logger.Entry `json:"backlog"`
}

// BacklogFunc returns the newest log entries, oldest first.
type BacklogFunc func(limit int) []logger.Entry

// TopicFor maps an event type to the topic clients subscribe to.
func TopicFor(eventType string) string {
	prefix, _, _ := strings.Cut(eventType, ".")
	switch prefix {
	case "trade":
		return TopicTrades
	case "bot":
		return TopicBot
	case "settings":
		return TopicSettings
	case "log":
		return TopicLogs
	default:
		return ""
	}
}

// Hub fans events out to connected WebSocket clients.
type Hub struct {
	cfg      config.WebSocket
	logger   *zap.Logger
	upgrader websocket.Upgrader
	backlog  BacklogFunc

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

// NewHub creates a hub. backlog may be nil.
func NewHub(cfg config.WebSocket, allowedOrigins []string, backlog BacklogFunc, logger *zap.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	h := &Hub{
		cfg:     cfg,
		logger:  logger.Named("stream"),
		backlog: backlog,
		clients: make(map[string]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP upgrades the connection and starts the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "stream is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(h, conn)

	// The welcome is queued before the client can receive broadcasts, so it is always first.
	welcome := Welcome{ClientID: c.id, Topics: c.subscribed(), Backlog: []logger.Entry{}}
	if h.backlog != nil && h.cfg.Backlog > 0 {
		welcome.Backlog = h.backlog(h.cfg.Backlog)
	}
	payload, err := json.Marshal(Message{Type: "welcome", Data: welcome, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.Error("Failed to encode welcome", zap.Error(err))
	} else {
		c.send <- payload
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Client connected",
		zap.String("client_id", c.id),
		zap.String("remote_addr", c.remoteAddr()),
		zap.Int("clients", count))
}

// remove unregisters the client and closes its send channel. It is safe to call twice.
func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Client disconnected",
		zap.String("client_id", c.id),
		zap.String("reason", reason),
		zap.Int("clients", count))
}

// sendTo queues a message for one client, dropping it if the client is gone or full.
func (h *Hub) sendTo(c *Client, msg Message) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Broadcast sends a message to every client subscribed to topic.
// Clients whose send buffer is full are disconnected.
func (h *Hub) Broadcast(topic string, msg Message) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0
	}

	var slow []*Client
	sent := 0

	h.mu.RLock()
	for _, c := range h.clients {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.send <- payload:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.remove(c, "send buffer full")
	}
	return sent
}

// HandleEvent forwards a bus event to the matching topic.
func (h *Hub) HandleEvent(e events.Event) {
	topic := TopicFor(e.Type)
	if topic == "" {
		return
	}
	h.Broadcast(topic, Message{Type: e.Type, Data: e.Data, Timestamp: e.Timestamp})
}

// Run drops clients that have not been heard from within stale_after until ctx is done,
// then disconnects everyone.
func (h *Hub) Run(ctx context.Context) error {
	interval := h.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Close()
			return nil
		case <-ticker.C:
			h.cleanup(time.Now())
		}
	}
}

func (h *Hub) cleanup(now time.Time) {
	staleAfter := h.cfg.StaleAfter
	if staleAfter <= 0 {
		return
	}

	var stale []*Client
	h.mu.RLock()
	for _, c := range h.clients {
		if now.Sub(c.seen()) > staleAfter {
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.remove(c, "stale")
	}
}

// Close disconnects all clients and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c, "server shutdown")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is one WebSocket connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	topics   map[string]bool
	lastSeen time.Time
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		id:       uuid.NewString(),
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.cfg.SendBuffer),
		topics:   make(map[string]bool, len(AllTopics)),
		lastSeen: time.Now(),
	}
	for _, t := range AllTopics {
		c.topics[t] = true
	}
	return c
}

func (c *Client) remoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Client) seen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

func (c *Client) wants(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

func (c *Client) subscribed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for _, t := range AllTopics {
		if c.topics[t] {
			out = append(out, t)
		}
	}
	return out
}

func (c *Client) setTopics(topics []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if !isTopic(t) {
			continue
		}
		if on {
			c.topics[t] = true
		} else {
			delete(c.topics, t)
		}
	}
}

func isTopic(t string) bool {
	for _, known := range AllTopics {
		if t == known {
			return true
		}
	}
	return false
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c, "connection closed")
	}()

	staleAfter := c.hub.cfg.StaleAfter
	c.conn.SetReadLimit(maxMessageSize)
	if staleAfter > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(staleAfter))
	}
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		if staleAfter > 0 {
			return c.conn.SetReadDeadline(time.Now().Add(staleAfter))
		}
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Unexpected WebSocket close", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		c.touch()
		if staleAfter > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(staleAfter))
		}
		c.handleAction(data)
	}
}

func (c *Client) handleAction(data []byte) {
	now := time.Now().UTC()

	var action clientAction
	if err := json.Unmarshal(data, &action); err != nil {
		c.hub.sendTo(c, Message{Type: "error", Data: map[string]string{"error": "invalid message"}, Timestamp: now})
		return
	}

	switch strings.ToLower(action.Action) {
	case "ping":
		c.hub.sendTo(c, Message{Type: "pong", Timestamp: now})
	case "subscribe":
		c.setTopics(action.Topics, true)
		c.hub.sendTo(c, Message{Type: "subscribed", Data: map[string][]string{"topics": c.subscribed()}, Timestamp: now})
	case "unsubscribe":
		c.setTopics(action.Topics, false)
		c.hub.sendTo(c, Message{Type: "subscribed", Data: map[string][]string{"topics": c.subscribed()}, Timestamp: now})
	default:
		c.hub.sendTo(c, Message{Type: "error", Data: map[string]string{"error": "unknown action " + action.Action}, Timestamp: now})
	}
}

func (c *Client) writePump() {
	interval := c.hub.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
