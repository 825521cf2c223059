package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"neighborhood-chat/internal/models"
)

// RedisStore keeps typing/presence snapshots in Redis with TTL keys.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func typingKey(chatID, userID string) string {
	return fmt.Sprintf("typing:%s:%s", chatID, userID)
}

func presenceKey(chatID, userID string) string {
	return fmt.Sprintf("presence:%s:%s", chatID, userID)
}

// SetTyping stores a typing indicator under its own TTL.
func (s *RedisStore) SetTyping(ctx context.Context, ind models.TypingIndicator) error {
	if ind.ExpiresAt.IsZero() {
		ind.ExpiresAt = time.Now().UTC().Add(TypingTTL)
	}
	data, err := json.Marshal(ind)
	if err != nil {
		return err
	}
	ttl := time.Until(ind.ExpiresAt)
	if ttl <= 0 {
		ttl = TypingTTL
	}
	return s.client.Set(ctx, typingKey(ind.ChatID, ind.UserID), data, ttl).Err()
}

// ClearTyping drops a typing indicator before its TTL.
func (s *RedisStore) ClearTyping(ctx context.Context, chatID, userID string) error {
	return s.client.Del(ctx, typingKey(chatID, userID)).Err()
}

// Typing returns the live typing indicators for a chat.
func (s *RedisStore) Typing(ctx context.Context, chatID string) ([]models.TypingIndicator, error) {
	keys, err := s.scanKeys(ctx, fmt.Sprintf("typing:%s:*", chatID))
	if err != nil {
		return nil, err
	}

	var out []models.TypingIndicator
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue // expired between scan and get
		}
		var ind models.TypingIndicator
		if err := json.Unmarshal(data, &ind); err == nil {
			out = append(out, ind)
		}
	}
	return out, nil
}

// Heartbeat refreshes a user's online marker.
func (s *RedisStore) Heartbeat(ctx context.Context, p models.OnlinePresence) error {
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, presenceKey(p.ChatID, p.UserID), data, PresenceTTL).Err()
}

// Online returns the users currently online in a chat.
func (s *RedisStore) Online(ctx context.Context, chatID string) ([]models.OnlinePresence, error) {
	keys, err := s.scanKeys(ctx, fmt.Sprintf("presence:%s:*", chatID))
	if err != nil {
		return nil, err
	}

	var out []models.OnlinePresence
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var p models.OnlinePresence
		if err := json.Unmarshal(data, &p); err == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
