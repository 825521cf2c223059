// Package presence keeps the ephemeral typing and online snapshots.
// Nothing here is durable: entries expire on their own TTL and are
// never written to the message store.
package presence

import (
	"context"
	"time"

	"neighborhood-chat/internal/models"
)

const (
	// TypingTTL bounds a typing indicator's lifetime.
	TypingTTL = 10 * time.Second
	// PresenceTTL is the window a heartbeat keeps a user online.
	PresenceTTL = 60 * time.Second
)

// Store is the ephemeral typing/presence snapshot store. Implemented
// by RedisStore and MemoryStore.
type Store interface {
	SetTyping(ctx context.Context, ind models.TypingIndicator) error
	ClearTyping(ctx context.Context, chatID, userID string) error
	Typing(ctx context.Context, chatID string) ([]models.TypingIndicator, error)

	Heartbeat(ctx context.Context, p models.OnlinePresence) error
	Online(ctx context.Context, chatID string) ([]models.OnlinePresence, error)
}
