package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub maintains the set of active clients and broadcasts events to them.
// Only the Run loop touches the client set.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Events waiting to be fanned out
	broadcast chan Event

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	config   *HubConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu    sync.RWMutex
	stats HubStats
}

// NewHub creates a new WebSocket hub
func NewHub(config *HubConfig, logger *zap.Logger) *Hub {
	if config == nil {
		config = &HubConfig{}
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		config:     config,
		logger:     logger.With(zap.String("component", "websocket")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  orDefault(config.ReadBufferSize, 1024),
		WriteBufferSize: orDefault(config.WriteBufferSize, 1024),
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run handles client registration, unregistration and broadcasting until
// ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket hub")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.dropClient(client)
			}
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			if h.clients[client] {
				h.dropClient(client)
				h.logger.Info("Client disconnected",
					zap.String("client_id", client.ID),
					zap.String("client_ip", client.IP),
				)
				h.fanOut(h.connectionEvent("disconnected", client), nil)
			}

		case event := <-h.broadcast:
			h.mu.Lock()
			h.stats.TotalBroadcasts++
			h.stats.LastBroadcastTime = time.Now()
			h.mu.Unlock()
			h.fanOut(event, nil)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clients[client] = true

	h.mu.Lock()
	h.stats.TotalConnections++
	h.stats.ActiveConnections = int64(len(h.clients))
	h.stats.LastConnectionTime = time.Now()
	active := h.stats.ActiveConnections
	h.mu.Unlock()

	h.logger.Info("Client connected",
		zap.String("client_id", client.ID),
		zap.String("client_ip", client.IP),
		zap.Int64("active_connections", active),
	)

	// Tell the other clients, not the new one
	h.fanOut(h.connectionEvent("connected", client), client)
}

// dropClient removes client and closes its send channel, which makes the
// writer goroutine close the connection.
func (h *Hub) dropClient(client *Client) {
	delete(h.clients, client)
	close(client.Send)

	h.mu.Lock()
	h.stats.ActiveConnections = int64(len(h.clients))
	h.stats.LastDisconnectTime = time.Now()
	h.mu.Unlock()
}

func (h *Hub) fanOut(event Event, exclude *Client) {
	if event.Type == EventTypeConnection && !h.config.BroadcastConnections {
		return
	}
	for client := range h.clients {
		if client == exclude || !shouldSendToClient(h.subscriptionOf(client), event) {
			continue
		}
		select {
		case client.Send <- event:
			h.mu.Lock()
			h.stats.TotalMessages++
			h.mu.Unlock()
		default:
			h.logger.Warn("Client send channel full, closing connection",
				zap.String("client_id", client.ID),
			)
			h.dropClient(client)
		}
	}
}

func (h *Hub) connectionEvent(action string, client *Client) Event {
	return Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now(),
		Data: ConnectionEvent{
			Action:    action,
			ClientID:  client.ID,
			ClientIP:  client.IP,
			UserAgent: client.UserAgent,
			Message:   fmt.Sprintf("Client %s %s", client.ID, action),
		},
	}
}

func (h *Hub) subscriptionOf(client *Client) *SubscriptionRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.Subscription
}

// shouldSendToClient applies the client's subscription, if any
func shouldSendToClient(sub *SubscriptionRequest, event Event) bool {
	if sub == nil || len(sub.Events) == 0 {
		return true
	}
	for _, eventType := range sub.Events {
		if eventType == event.Type {
			return true
		}
	}
	return false
}

// BroadcastEvent queues an event for all connected clients if its type is
// enabled. It never blocks; events are dropped when the queue is full.
func (h *Hub) BroadcastEvent(event Event) {
	if !h.shouldBroadcastEvent(event.Type) {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case h.broadcast <- event:
	default:
		h.mu.Lock()
		h.stats.DroppedEvents++
		h.mu.Unlock()
		h.logger.Warn("Broadcast channel full, dropping event",
			zap.String("event_type", string(event.Type)),
		)
	}
}

// Publish broadcasts data as an event of type t.
func (h *Hub) Publish(t EventType, data interface{}) {
	h.BroadcastEvent(Event{Type: t, Data: data})
}

// shouldBroadcastEvent checks if an event type should be broadcast based on configuration
func (h *Hub) shouldBroadcastEvent(eventType EventType) bool {
	switch eventType {
	case EventTypePolicyGenerated:
		return h.config.BroadcastPolicies
	case EventTypeSessionSanitized, EventTypeOptimizationSubmitted, EventTypeSessionRehydrated:
		return h.config.BroadcastSessions
	case EventTypeConnection:
		return h.config.BroadcastConnections
	default:
		return false
	}
}

// HandleWebSocket upgrades the request and attaches the client to the hub
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.config.MaxConnections > 0 && h.ClientCount() >= h.config.MaxConnections {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          "client_" + uuid.NewString(),
		Conn:        conn,
		Send:        make(chan Event, 256),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		IP:          getClientIP(r),
		UserAgent:   r.UserAgent(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go h.handleClientWrite(client)
	go h.handleClientRead(client)
}

// handleClientWrite handles writing messages to the client
func (h *Hub) handleClientWrite(client *Client) {
	ticker := time.NewTicker(h.pingPeriod())
	writeWait := orDefaultDuration(h.config.WriteTimeout, 10*time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(event); err != nil {
				h.logger.Error("Failed to write WebSocket message",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientRead handles reading messages from the client
func (h *Hub) handleClientRead(client *Client) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.Conn.Close()
	}()

	pongWait := orDefaultDuration(h.config.PongTimeout, 60*time.Second)
	client.Conn.SetReadLimit(orDefaultInt64(h.config.MaxMessageSize, 512))
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.LastPing = time.Now()
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg ClientMessage
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket error",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
			}
			return
		}
		h.handleClientMessage(client, msg)
	}
}

// handleClientMessage handles messages received from clients
func (h *Hub) handleClientMessage(client *Client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		jsonData, err := json.Marshal(msg.Data)
		if err != nil {
			return
		}
		var subscription SubscriptionRequest
		if err := json.Unmarshal(jsonData, &subscription); err != nil {
			return
		}
		h.subscribe(client, &subscription)
	case "ping":
		h.reply(client, Event{
			Type:      EventTypePong,
			Timestamp: time.Now(),
			Data:      map[string]string{"message": "pong"},
		})
	}
}

func (h *Hub) subscribe(client *Client, sub *SubscriptionRequest) {
	h.mu.Lock()
	client.Subscription = sub
	h.mu.Unlock()

	h.logger.Info("Client subscription updated",
		zap.String("client_id", client.ID),
		zap.Any("events", sub.Events),
	)
}

// reply sends directly to one client without going through the hub queue.
func (h *Hub) reply(client *Client, event Event) {
	defer func() {
		// Send may have been closed by the hub concurrently
		_ = recover()
	}()
	select {
	case client.Send <- event:
	default:
	}
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return int(h.stats.ActiveConnections)
}

func (h *Hub) pingPeriod() time.Duration {
	if h.config.PingInterval > 0 {
		return h.config.PingInterval
	}
	return (orDefaultDuration(h.config.PongTimeout, 60*time.Second) * 9) / 10
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and browser origins on the allow list. An entry matches the
// origin exactly or with any port.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || origin == allowed || strings.HasPrefix(origin, allowed+":") {
			return true
		}
	}
	return false
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultInt64(v, def int64) int64 {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
