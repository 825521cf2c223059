package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"neighborhood-chat/internal/models"
	"neighborhood-chat/internal/observability"
)

const (
	// MaxCacheSize bounds the total cached bytes across all chats.
	MaxCacheSize = 10 << 20
	// MaxMessagesPerChat bounds a single entry independent of chat age.
	MaxMessagesPerChat = 500
	// EntryTTL is the age past which an entry is considered stale.
	EntryTTL = 24 * time.Hour
	// CleanupInterval is the janitor cadence.
	CleanupInterval = 6 * time.Hour

	metadataKey    = "meta"
	entryKeyPrefix = "chat:"

	// makeSpace evicts until usage drops under this share of the max.
	makeSpaceTarget = 0.8
)

// Entry is one chat's cached slice of history.
type Entry struct {
	ChatID        string           `json:"chat_id"`
	Messages      []models.Message `json:"messages"`
	LastMessageID string           `json:"last_message_id"`
	TotalKnown    int              `json:"total_known"`
	WrittenAt     time.Time        `json:"written_at"`
}

type chatAccess struct {
	LastAccess time.Time `json:"last_access"`
	Size       int64     `json:"size"`
}

type metadata struct {
	TotalSize int64                 `json:"total_size"`
	Chats     map[string]chatAccess `json:"chats"`
}

// Stats is a read-only snapshot for observability.
type Stats struct {
	Entries   int
	TotalSize int64
	MaxSize   int64
}

// Store is the bounded local message cache. All read-modify-write
// sequences on the metadata run under one mutex.
type Store struct {
	storage Storage
	mu      sync.Mutex
	now     func() time.Time
}

// New creates a Store over the given backend.
func New(storage Storage) *Store {
	return &Store{
		storage: storage,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func entryKey(chatID string) string {
	return entryKeyPrefix + chatID
}

// Get returns the entry for a chat if present and fresher than the
// TTL; stale entries are evicted and reported absent. A hit updates
// the LRU access time.
func (s *Store) Get(chatID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.loadEntry(chatID)
	if !ok {
		observability.IncCacheOp("get", "miss")
		return Entry{}, false
	}
	if s.now().Sub(entry.WrittenAt) > EntryTTL {
		s.removeLocked(chatID)
		observability.IncCacheOp("get", "expired")
		return Entry{}, false
	}

	meta := s.loadMetadata()
	access := meta.Chats[chatID]
	access.LastAccess = s.now()
	meta.Chats[chatID] = access
	s.saveMetadata(meta)

	observability.IncCacheOp("get", "hit")
	return entry, true
}

// Set replaces a chat's entry. The message list is truncated to the
// most recent MaxMessagesPerChat before storing.
func (s *Store) Set(chatID string, messages []models.Message, lastMessageID string, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeEntry(Entry{
		ChatID:        chatID,
		Messages:      truncateOldest(sortedByTime(messages), MaxMessagesPerChat),
		LastMessageID: lastMessageID,
		TotalKnown:    total,
		WrittenAt:     s.now(),
	})
}

// Append merges newer messages into an existing entry. Existing ids
// win; absent entries are created.
func (s *Store) Append(chatID string, newMessages []models.Message, lastMessageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.loadEntry(chatID)
	if !ok {
		entry = Entry{ChatID: chatID}
	}

	merged, added := merge(entry.Messages, newMessages)
	entry.Messages = truncateOldest(merged, MaxMessagesPerChat)
	if lastMessageID != "" {
		entry.LastMessageID = lastMessageID
	}
	entry.TotalKnown += added
	entry.WrittenAt = s.now()
	s.writeEntry(entry)
}

// Prepend merges older messages in for backward pagination, keeping
// the existing cursor and total.
func (s *Store) Prepend(chatID string, olderMessages []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.loadEntry(chatID)
	if !ok {
		entry = Entry{ChatID: chatID}
	}

	merged, _ := merge(entry.Messages, olderMessages)
	entry.Messages = truncateOldest(merged, MaxMessagesPerChat)
	entry.WrittenAt = s.now()
	s.writeEntry(entry)
}

// Remove deletes a chat's entry and its metadata bookkeeping.
func (s *Store) Remove(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(chatID)
}

// Cleanup evicts every entry not accessed within the TTL. Idempotent.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.loadMetadata()
	now := s.now()
	for chatID, access := range meta.Chats {
		if now.Sub(access.LastAccess) > EntryTTL {
			s.removeLocked(chatID)
			observability.IncCacheOp("cleanup", "evicted")
		}
	}
}

// StartJanitor runs Cleanup on a fixed cadence until ctx is done.
func (s *Store) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// Stats returns a snapshot of the cache size bookkeeping.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := s.loadMetadata()
	return Stats{
		Entries:   len(meta.Chats),
		TotalSize: meta.TotalSize,
		MaxSize:   MaxCacheSize,
	}
}

// writeEntry persists an entry, making space first and retrying once
// with a halved message list on a quota failure. A second failure
// drops the write; callers keep working from network data.
func (s *Store) writeEntry(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", entry.ChatID).Msg("cache encode failed, dropping write")
		return
	}

	meta := s.loadMetadata()
	oldSize := meta.Chats[entry.ChatID].Size
	if meta.TotalSize-oldSize+int64(len(data)) > MaxCacheSize {
		meta = s.makeSpace(meta, int64(len(data)), entry.ChatID)
	}

	// Evicting other chats may not be enough when this entry alone
	// exceeds the budget. Shrink it until it fits or nothing is left.
	for meta.TotalSize-oldSize+int64(len(data)) > MaxCacheSize && len(entry.Messages) > 1 {
		entry.Messages = truncateOldest(entry.Messages, len(entry.Messages)/2)
		data, _ = json.Marshal(entry)
	}
	if meta.TotalSize-oldSize+int64(len(data)) > MaxCacheSize {
		log.Warn().Str("chat_id", entry.ChatID).Msg("cache entry exceeds budget, dropping write")
		observability.IncCacheOp("set", "dropped")
		return
	}

	if err := s.storage.Put(entryKey(entry.ChatID), data); err != nil {
		if !errors.Is(err, ErrQuotaExceeded) {
			log.Warn().Err(err).Str("chat_id", entry.ChatID).Msg("cache write failed, dropping write")
			observability.IncCacheOp("set", "error")
			return
		}
		entry.Messages = truncateOldest(entry.Messages, MaxMessagesPerChat/2)
		data, _ = json.Marshal(entry)
		if err := s.storage.Put(entryKey(entry.ChatID), data); err != nil {
			log.Warn().Err(err).Str("chat_id", entry.ChatID).Msg("cache write failed after truncated retry, dropping write")
			observability.IncCacheOp("set", "dropped")
			return
		}
		observability.IncCacheOp("set", "truncated")
	} else {
		observability.IncCacheOp("set", "ok")
	}

	oldSize = meta.Chats[entry.ChatID].Size
	meta.Chats[entry.ChatID] = chatAccess{LastAccess: s.now(), Size: int64(len(data))}
	meta.TotalSize = meta.TotalSize - oldSize + int64(len(data))
	s.saveMetadata(meta)
}

// makeSpace evicts entries in ascending last-access order until the
// incoming write fits or usage drops under the target share.
func (s *Store) makeSpace(meta metadata, required int64, keep string) metadata {
	type candidate struct {
		chatID string
		access chatAccess
	}
	candidates := make([]candidate, 0, len(meta.Chats))
	for chatID, access := range meta.Chats {
		if chatID != keep {
			candidates = append(candidates, candidate{chatID, access})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].access.LastAccess.Before(candidates[j].access.LastAccess)
	})

	target := int64(float64(MaxCacheSize) * makeSpaceTarget)
	var freed int64
	for _, c := range candidates {
		if freed >= required || meta.TotalSize <= target {
			break
		}
		_ = s.storage.Delete(entryKey(c.chatID))
		meta.TotalSize -= c.access.Size
		freed += c.access.Size
		delete(meta.Chats, c.chatID)
		observability.IncCacheOp("make_space", "evicted")
	}
	return meta
}

func (s *Store) removeLocked(chatID string) {
	_ = s.storage.Delete(entryKey(chatID))
	meta := s.loadMetadata()
	if access, ok := meta.Chats[chatID]; ok {
		meta.TotalSize -= access.Size
		delete(meta.Chats, chatID)
		s.saveMetadata(meta)
	}
}

func (s *Store) loadEntry(chatID string) (Entry, bool) {
	data, ok, err := s.storage.Get(entryKey(chatID))
	if err != nil || !ok {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false
	}
	return entry, true
}

func (s *Store) loadMetadata() metadata {
	meta := metadata{Chats: make(map[string]chatAccess)}
	data, ok, err := s.storage.Get(metadataKey)
	if err != nil || !ok {
		return meta
	}
	if err := json.Unmarshal(data, &meta); err != nil || meta.Chats == nil {
		meta.Chats = make(map[string]chatAccess)
	}
	return meta
}

func (s *Store) saveMetadata(meta metadata) {
	data, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := s.storage.Put(metadataKey, data); err != nil {
		log.Warn().Err(err).Msg("cache metadata write failed")
	}
	observability.SetCacheSize(meta.TotalSize)
}

// merge combines two message lists keeping existing ids, returning
// the merged ascending-timestamp list and how many incoming messages
// were actually new.
func merge(existing, incoming []models.Message) ([]models.Message, int) {
	seen := make(map[string]bool, len(existing))
	for _, m := range existing {
		seen[m.ID] = true
	}

	merged := append([]models.Message{}, existing...)
	added := 0
	for _, m := range incoming {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
		added++
	}
	return sortedByTime(merged), added
}

func sortedByTime(msgs []models.Message) []models.Message {
	out := append([]models.Message{}, msgs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func truncateOldest(msgs []models.Message, max int) []models.Message {
	if len(msgs) <= max {
		return msgs
	}
	return msgs[len(msgs)-max:]
}
