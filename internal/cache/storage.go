// Package cache implements the bounded local message cache: one
// LRU/TTL-evicted entry per chat plus a shared metadata record, kept
// behind a pluggable key-value Storage so the eviction logic is
// backend-agnostic.
package cache

import (
	"errors"
	"sort"
	"sync"
)

// ErrQuotaExceeded is returned by a Storage backend when a write
// cannot fit the underlying quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Storage is the ordered key-value backend the cache persists to.
type Storage interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Keys() ([]string, error)
}

// MemoryStorage is a goroutine-safe in-memory Storage. An optional
// quota makes it reject writes the way a browser-local store would.
type MemoryStorage struct {
	mu    sync.Mutex
	data  map[string][]byte
	quota int64
}

// NewMemoryStorage creates an unbounded in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

// NewMemoryStorageWithQuota creates an in-memory storage that fails
// writes pushing the total stored bytes past quota.
func NewMemoryStorageWithQuota(quota int64) *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte), quota: quota}
}

func (s *MemoryStorage) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (s *MemoryStorage) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quota > 0 {
		var total int64
		for k, v := range s.data {
			if k != key {
				total += int64(len(v))
			}
		}
		if total+int64(len(value)) > s.quota {
			return ErrQuotaExceeded
		}
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	return nil
}

func (s *MemoryStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStorage) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
