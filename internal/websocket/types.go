package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeAnonymization is sent after a text was anonymized or analyzed
	EventTypeAnonymization EventType = "anonymization"
	// EventTypeBatch is sent when a batch run completes
	EventTypeBatch EventType = "batch_complete"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// AnonymizationEvent describes one processed text. It never carries the
// text itself.
type AnonymizationEvent struct {
	RequestID       string         `json:"request_id"`
	Operation       string         `json:"operation"`
	ClientIP        string         `json:"client_ip"`
	Sensitivity     string         `json:"sensitivity"`
	Strategy        string         `json:"strategy,omitempty"`
	DetectionsCount int            `json:"detections_count"`
	ByCategory      map[string]int `json:"by_category"`
	RiskLevel       string         `json:"risk_level"`
	ComplianceScore int            `json:"compliance_score"`
	ProcessingMS    float64        `json:"processing_ms"`
}

// BatchEvent summarizes a completed batch
type BatchEvent struct {
	RequestID       string `json:"request_id"`
	TotalTexts      int    `json:"total_texts"`
	Successful      int    `json:"successful"`
	Failed          int    `json:"failed"`
	TotalDetections int    `json:"total_detections"`
	ProcessingMS    int64  `json:"processing_ms"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRequests    int64  `json:"total_requests"`
	TotalDetections  int64  `json:"total_detections"`
	PatternCount     int    `json:"pattern_count"`
	ConnectedClients int    `json:"connected_clients"`
	MemoryUsage      string `json:"memory_usage"`
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

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType   `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows anonymization events
type EventFilter struct {
	MinRiskLevel  string   `json:"min_risk_level,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	MinDetections int      `json:"min_detections,omitempty"`
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
