package model

import (
	"time"
)

// EventType names a server-sent event on a client session stream.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventConversations EventType = "conversations"
	EventMessages      EventType = "messages"
	EventArtifacts     EventType = "artifacts"
	EventNotification  EventType = "notification"
	EventHeartbeat     EventType = "heartbeat"
	EventError         EventType = "error"
	EventToken         EventType = "token"
	EventDone          EventType = "done"
)

// SessionEvent is one frame pushed to a connected client.
type SessionEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Notification is a user-facing alert about a new record.
type Notification struct {
	RecordID    string   `json:"record_id"`
	Category    Category `json:"category"`
	ContextID   string   `json:"context_id,omitempty"`
	ContextName string   `json:"context_name,omitempty"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Link        string   `json:"link,omitempty"`
}

// ConnectedEvent is the first event of a session stream.
type ConnectedEvent struct {
	SessionID string `json:"session_id"`
	Actor     string `json:"actor"`
}

// MessagesEvent carries the active conversation's messages.
type MessagesEvent struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// TokenEvent represents a streaming token event.
type TokenEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ClientCommand is a message sent by a WebSocket client.
type ClientCommand struct {
	Type           string `json:"type"` // "focus", "permission"
	ConversationID string `json:"conversation_id,omitempty"`
	Granted        bool   `json:"granted,omitempty"`
}

// FocusRequest sets the conversation a session is looking at.
type FocusRequest struct {
	ConversationID string `json:"conversation_id"`
}
