package presence

import (
	"context"
	"sync"
	"time"

	"neighborhood-chat/internal/models"
)

// MemoryStore is a goroutine-safe in-memory Store. Used in tests and
// in redis-less deployments.
type MemoryStore struct {
	mu     sync.Mutex
	typing map[string]map[string]models.TypingIndicator
	online map[string]map[string]models.OnlinePresence
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		typing: make(map[string]map[string]models.TypingIndicator),
		online: make(map[string]map[string]models.OnlinePresence),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetTyping stores a typing indicator.
func (s *MemoryStore) SetTyping(_ context.Context, ind models.TypingIndicator) error {
	if ind.ExpiresAt.IsZero() {
		ind.ExpiresAt = s.now().Add(TypingTTL)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.typing[ind.ChatID]; !ok {
		s.typing[ind.ChatID] = make(map[string]models.TypingIndicator)
	}
	s.typing[ind.ChatID][ind.UserID] = ind
	return nil
}

// ClearTyping removes a typing indicator.
func (s *MemoryStore) ClearTyping(_ context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inds, ok := s.typing[chatID]; ok {
		delete(inds, userID)
	}
	return nil
}

// Typing returns unexpired typing indicators, pruning expired ones.
func (s *MemoryStore) Typing(_ context.Context, chatID string) ([]models.TypingIndicator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []models.TypingIndicator
	for userID, ind := range s.typing[chatID] {
		if now.After(ind.ExpiresAt) {
			delete(s.typing[chatID], userID)
			continue
		}
		out = append(out, ind)
	}
	return out, nil
}

// Heartbeat refreshes a user's online marker.
func (s *MemoryStore) Heartbeat(_ context.Context, p models.OnlinePresence) error {
	if p.LastSeen.IsZero() {
		p.LastSeen = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.online[p.ChatID]; !ok {
		s.online[p.ChatID] = make(map[string]models.OnlinePresence)
	}
	s.online[p.ChatID][p.UserID] = p
	return nil
}

// Online returns users seen within the presence TTL.
func (s *MemoryStore) Online(_ context.Context, chatID string) ([]models.OnlinePresence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []models.OnlinePresence
	for userID, p := range s.online[chatID] {
		if now.Sub(p.LastSeen) > PresenceTTL {
			delete(s.online[chatID], userID)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
