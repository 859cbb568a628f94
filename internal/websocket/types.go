package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypePolicyGenerated is sent after a scan writes a policy
	EventTypePolicyGenerated EventType = "policy_generated"
	// EventTypeSessionSanitized is sent after a document is sanitized
	EventTypeSessionSanitized EventType = "session_sanitized"
	// EventTypeOptimizationSubmitted is sent when a consumer submits changes
	EventTypeOptimizationSubmitted EventType = "optimization_submitted"
	// EventTypeSessionRehydrated is sent after placeholders are restored
	EventTypeSessionRehydrated EventType = "session_rehydrated"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients. Payloads carry ids,
// paths and counts only.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// PolicyGeneratedEvent describes a freshly written policy
type PolicyGeneratedEvent struct {
	PolicyPath   string `json:"policy_path"`
	Source       string `json:"source"`
	TotalRules   int    `json:"total_rules"`
	MaskRules    int    `json:"mask_rules"`
	ShuffleRules int    `json:"shuffle_rules"`
}

// SessionSanitizedEvent describes one pipeline run
type SessionSanitizedEvent struct {
	SessionID       string `json:"session_id"`
	Source          string `json:"source"`
	Policy          string `json:"policy"`
	Masked          int    `json:"masked"`
	ShuffledParents int    `json:"shuffled_parents"`
	Shadowed        int    `json:"shadowed"`
	VaultEntries    int    `json:"vault_entries"`
	OutputPath      string `json:"output_path"`
}

// OptimizationSubmittedEvent describes a queued optimization
type OptimizationSubmittedEvent struct {
	SessionID    string `json:"session_id"`
	ChangesCount int    `json:"changes_count"`
	OutputPath   string `json:"output_path"`
}

// SessionRehydratedEvent describes a rehydration
type SessionRehydratedEvent struct {
	SessionID  string `json:"session_id,omitempty"`
	VaultPath  string `json:"vault_path"`
	Mode       string `json:"mode"` // structured or text
	OutputPath string `json:"output_path,omitempty"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest limits the event types a client receives
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}

// HubConfig contains configuration for the WebSocket hub
type HubConfig struct {
	BroadcastPolicies    bool
	BroadcastSessions    bool
	BroadcastConnections bool
	AllowedOrigins       []string
	MaxConnections       int
	ReadBufferSize       int
	WriteBufferSize      int
	PingInterval         time.Duration
	PongTimeout          time.Duration
	WriteTimeout         time.Duration
	MaxMessageSize       int64
}

// HubStats tracks WebSocket hub statistics
type HubStats struct {
	TotalConnections   int64     `json:"total_connections"`
	ActiveConnections  int64     `json:"active_connections"`
	TotalMessages      int64     `json:"total_messages"`
	TotalBroadcasts    int64     `json:"total_broadcasts"`
	DroppedEvents      int64     `json:"dropped_events"`
	LastConnectionTime time.Time `json:"last_connection_time"`
	LastDisconnectTime time.Time `json:"last_disconnect_time"`
	LastBroadcastTime  time.Time `json:"last_broadcast_time"`
}
