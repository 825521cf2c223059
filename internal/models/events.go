package models

import "time"

// Event types exchanged over the websocket channel.
const (
	// client -> server
	EventJoin       = "chat:join"
	EventLeave      = "chat:leave"
	EventSend       = "message:send"
	EventPanicSend  = "panic:send"
	EventTyping     = "chat:typing"
	EventStopTyping = "chat:stop-typing"

	// server -> client
	EventMessageNew = "message:new"
	EventPanicAlert = "panic:alert"
	EventUserJoined = "chat:user-joined"
	EventUserLeft   = "chat:user-left"
	EventError      = "message:error"
	EventAck        = "message:ack"
)

// ChatEvent is the wire envelope for every websocket frame, both
// directions. RequestID correlates a send with its ack.
type ChatEvent struct {
	Type      string    `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	UserName  string    `json:"user_name,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	IsOwn     *bool     `json:"is_own,omitempty"`
	Location  *GeoPoint `json:"location,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// TypingIndicator is an ephemeral per-user typing marker.
type TypingIndicator struct {
	ChatID      string    `json:"chat_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// OnlinePresence is a heartbeat-driven per-user presence marker.
type OnlinePresence struct {
	ChatID   string    `json:"chat_id"`
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}
