package poller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neighborhood-chat/internal/cache"
	"neighborhood-chat/internal/models"
)

type fakeFetcher struct {
	mu           sync.Mutex
	page         models.MessagePage
	err          error
	messageCalls int
	typingCalls  int
	onlineCalls  int
	lastCursor   string
}

func (f *fakeFetcher) FetchMessages(ctx context.Context, chatID, lastMessageID string, limit int) (models.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageCalls++
	f.lastCursor = lastMessageID
	return f.page, f.err
}

func (f *fakeFetcher) FetchTyping(ctx context.Context, chatID string) ([]models.TypingIndicator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingCalls++
	return nil, nil
}

func (f *fakeFetcher) FetchOnline(ctx context.Context, chatID string) ([]models.OnlinePresence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onlineCalls++
	return nil, nil
}

func (f *fakeFetcher) calls() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messageCalls, f.typingCalls, f.onlineCalls
}

func makeMessages(n int, start time.Time) []models.Message {
	msgs := make([]models.Message, n)
	for i := range msgs {
		msgs[i] = models.Message{
			ID:        fmt.Sprintf("msg-%04d", i),
			ChatID:    "chat-1",
			Body:      "hi",
			CreatedAt: start.Add(time.Duration(i) * time.Second),
		}
	}
	return msgs
}

func TestIntervalTiers(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		sinceActivity time.Duration
		emptyCount    int
		want          time.Duration
	}{
		{"active", 10 * time.Second, 0, ActiveInterval},
		{"active edge", 30 * time.Second, 2, ActiveInterval},
		{"active demoted by empties", 10 * time.Second, 3, NormalInterval},
		{"normal", 2 * time.Minute, 0, NormalInterval},
		{"normal demoted by empties", 2 * time.Minute, 5, IdleInterval},
		{"idle", 10 * time.Minute, 0, IdleInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("chat-1", &fakeFetcher{}, cache.New(cache.NewMemoryStorage()), 10, Callbacks{})
			s.now = func() time.Time { return now }
			s.lastActivity = now.Add(-tt.sinceActivity)
			s.consecutiveEmpty = tt.emptyCount
			assert.Equal(t, tt.want, s.computeIntervalLocked())
		})
	}
}

func TestIntervalNoActivityIsIdle(t *testing.T) {
	s := New("chat-1", &fakeFetcher{}, cache.New(cache.NewMemoryStorage()), 10, Callbacks{})
	assert.Equal(t, IdleInterval, s.computeIntervalLocked())
}

func TestIntervalEscalatesAfterEmptyStreak(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := New("chat-1", &fakeFetcher{}, cache.New(cache.NewMemoryStorage()), 10, Callbacks{})
	s.now = func() time.Time { return now }

	// 6 empties push idle past its base but never past the cap
	s.consecutiveEmpty = 6
	assert.Equal(t, EscalatedCap, s.computeIntervalLocked())

	// a long streak pins the interval
	s.consecutiveEmpty = 16
	assert.Equal(t, PinnedInterval, s.computeIntervalLocked())
}

func TestPollCycleAdvancesCursorAndCaches(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msgs := makeMessages(3, now)
	fetcher := &fakeFetcher{page: models.MessagePage{Messages: msgs, Total: 3}}
	store := cache.New(cache.NewMemoryStorage())

	var delivered []models.Message
	s := New("chat-1", fetcher, store, 10, Callbacks{
		OnMessages: func(m []models.Message) { delivered = append(delivered, m...) },
	})
	s.now = func() time.Time { return now }
	s.running = true
	s.ctx = context.Background()
	defer s.Stop()

	s.pollCycle()

	require.Len(t, delivered, 3)
	assert.Equal(t, "msg-0002", s.cursor)
	assert.Equal(t, 0, s.consecutiveEmpty)

	entry, ok := store.Get("chat-1")
	require.True(t, ok)
	assert.Len(t, entry.Messages, 3)
	assert.Equal(t, "msg-0002", entry.LastMessageID)

	// messages imply activity, so presence was polled too
	_, typingCalls, onlineCalls := fetcher.calls()
	assert.Equal(t, 1, typingCalls)
	assert.Equal(t, 1, onlineCalls)
}

func TestPollCycleEmptyCountsAndSkipsPresence(t *testing.T) {
	fetcher := &fakeFetcher{}
	s := New("chat-1", fetcher, cache.New(cache.NewMemoryStorage()), 10, Callbacks{})
	s.running = true
	s.ctx = context.Background()
	defer s.Stop()

	s.pollCycle()
	s.pollCycle()

	assert.Equal(t, 2, s.consecutiveEmpty)

	// no recent activity means no presence traffic
	msgCalls, typingCalls, onlineCalls := fetcher.calls()
	assert.Equal(t, 2, msgCalls)
	assert.Equal(t, 0, typingCalls)
	assert.Equal(t, 0, onlineCalls)
}

func TestRateBudgetSkipsCycle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{}
	s := New("chat-1", fetcher, cache.New(cache.NewMemoryStorage()), 10, Callbacks{})
	s.now = func() time.Time { return now }
	s.running = true
	s.ctx = context.Background()
	defer s.Stop()

	// 8 ops in the last second is 80% of a 10 ops/s quota
	for i := 0; i < 8; i++ {
		s.opTimes = append(s.opTimes, now.Add(-100*time.Millisecond))
	}
	before := s.currentInterval

	s.pollCycle()

	msgCalls, _, _ := fetcher.calls()
	assert.Equal(t, 0, msgCalls, "cycle should be skipped, not fetched")
	assert.Equal(t, before*2, s.currentInterval)
}

func TestRateBudgetWindowSlides(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{}
	s := New("chat-1", fetcher, cache.New(cache.NewMemoryStorage()), 10, Callbacks{})
	s.now = func() time.Time { return now }
	s.running = true
	s.ctx = context.Background()
	defer s.Stop()

	// the same 8 ops, but older than the window
	for i := 0; i < 8; i++ {
		s.opTimes = append(s.opTimes, now.Add(-2*time.Second))
	}

	s.pollCycle()

	msgCalls, _, _ := fetcher.calls()
	assert.Equal(t, 1, msgCalls)
}

func TestStartSurfacesCachedHistoryImmediately(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := cache.New(cache.NewMemoryStorage())
	msgs := makeMessages(4, now)
	store.Set("chat-1", msgs, "msg-0003", 4)

	var delivered []models.Message
	s := New("chat-1", &fakeFetcher{}, store, 10, Callbacks{
		OnMessages: func(m []models.Message) { delivered = m },
	})
	s.Start(context.Background())
	defer s.Stop()

	require.Len(t, delivered, 4, "cached history must surface before the first poll")
	assert.Equal(t, "msg-0003", s.cursor)
}

func TestStartIsIdempotent(t *testing.T) {
	s := New("chat-1", &fakeFetcher{}, cache.New(cache.NewMemoryStorage()), 10, Callbacks{})
	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	assert.True(t, s.Running())
	s.Stop()
	s.Stop()
	assert.False(t, s.Running())
}

func TestSetCursorIsMonotonic(t *testing.T) {
	s := New("chat-1", &fakeFetcher{}, cache.New(cache.NewMemoryStorage()), 10, Callbacks{})
	s.SetCursor("msg-0005")
	s.SetCursor("msg-0002")
	assert.Equal(t, "msg-0005", s.cursor)
	s.SetCursor("msg-0009")
	assert.Equal(t, "msg-0009", s.cursor)
}

func TestNoteActivityResetsEmptyStreak(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := New("chat-1", &fakeFetcher{}, cache.New(cache.NewMemoryStorage()), 10, Callbacks{})
	s.now = func() time.Time { return now }
	s.consecutiveEmpty = 7

	s.NoteActivity()

	assert.Equal(t, 0, s.consecutiveEmpty)
	assert.Equal(t, ActiveInterval, s.computeIntervalLocked())
}
