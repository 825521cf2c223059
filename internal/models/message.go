package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind discriminates the closed set of message variants.
type MessageKind string

const (
	KindNormal MessageKind = "normal"
	KindPanic  MessageKind = "panic"
)

// GeoPoint is an optional sender location attached to panic messages.
type GeoPoint struct {
	Lat float64 `db:"lat" json:"lat"`
	Lng float64 `db:"lng" json:"lng"`
}

// MessageMeta carries the per-kind optional fields. Normal messages
// leave Priority and Location empty; panic messages set Priority and
// may set Location. ClientKey is a client-generated idempotency key
// stamped at compose time and echoed back by the server.
type MessageMeta struct {
	Priority   string    `json:"priority,omitempty"`
	Location   *GeoPoint `json:"location,omitempty"`
	IncidentID string    `json:"incident_id,omitempty"`
	ClientKey  string    `json:"client_key,omitempty"`
}

// Value serializes the meta as JSONB.
func (m MessageMeta) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan deserializes the meta from a JSONB column.
func (m *MessageMeta) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = MessageMeta{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported meta type %T", src)
	}
}

// Message represents a chat message. Immutable once persisted; the
// server assigns ID and CreatedAt.
type Message struct {
	ID         string      `db:"id" json:"id"`
	ChatID     string      `db:"chat_id" json:"chat_id"`
	SenderID   string      `db:"sender_id" json:"sender_id"`
	SenderName string      `db:"sender_name" json:"sender_name"`
	Body       string      `db:"body" json:"body"`
	Kind       MessageKind `db:"kind" json:"kind"`
	Meta       MessageMeta `db:"meta" json:"meta"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// IsPanic reports whether the message is a panic alert.
func (m Message) IsPanic() bool {
	return m.Kind == KindPanic
}

// MessagePage is the shape returned by the pull API for cursor reads.
type MessagePage struct {
	Messages     []Message `json:"messages"`
	HasMore      bool      `json:"has_more"`
	Total        int       `json:"total"`
	ChatID       string    `json:"chat_id"`
	Neighborhood string    `json:"neighborhood"`
}
