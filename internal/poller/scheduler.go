// Package poller implements the adaptive sync scheduler: the HTTP
// polling loop that keeps a chat fresh when the push channel is
// unavailable, adapting its cadence to recent activity and to a
// self-imposed operation-rate budget.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"neighborhood-chat/internal/cache"
	"neighborhood-chat/internal/models"
	"neighborhood-chat/internal/observability"
)

const (
	// ActiveInterval applies with activity in the last 30s and fewer
	// than 3 consecutive empty polls.
	ActiveInterval = 5 * time.Second
	// NormalInterval applies with activity in the last 5 minutes and
	// fewer than 5 consecutive empty polls.
	NormalInterval = 12 * time.Second
	// IdleInterval applies otherwise.
	IdleInterval = 30 * time.Second
	// EscalatedCap bounds the doubled interval after >5 empty polls.
	EscalatedCap = 45 * time.Second
	// PinnedInterval applies after >15 consecutive empty polls.
	PinnedInterval = 60 * time.Second

	activeWindow   = 30 * time.Second
	normalWindow   = 5 * time.Minute
	presenceWindow = 2 * time.Minute

	activeEmptyLimit = 3
	normalEmptyLimit = 5
	escalateAfter    = 5
	pinAfter         = 15

	// PageSize is the fetch size for incremental and backward reads.
	PageSize = 50

	initialLoadDelay = 500 * time.Millisecond

	rateWindow    = time.Second
	rateTripRatio = 0.8
)

// Fetcher is the HTTP collaborator the scheduler reads from.
// Implemented by apiclient.Client.
type Fetcher interface {
	FetchMessages(ctx context.Context, chatID, lastMessageID string, limit int) (models.MessagePage, error)
	FetchTyping(ctx context.Context, chatID string) ([]models.TypingIndicator, error)
	FetchOnline(ctx context.Context, chatID string) ([]models.OnlinePresence, error)
}

// Callbacks deliver poll results to the consumer. Nil fields are
// skipped.
type Callbacks struct {
	OnMessages func([]models.Message)
	OnTyping   func([]models.TypingIndicator)
	OnOnline   func([]models.OnlinePresence)
}

// Scheduler polls one chat. The timer is re-armed as a fresh one-shot
// after each cycle completes, so the interval can change every cycle
// and at most one poll is in flight.
type Scheduler struct {
	chatID    string
	fetcher   Fetcher
	cache     *cache.Store
	callbacks Callbacks
	quota     int

	mu               sync.Mutex
	running          bool
	timer            *time.Timer
	ctx              context.Context
	cancel           context.CancelFunc
	cursor           string
	lastActivity     time.Time
	consecutiveEmpty int
	currentInterval  time.Duration
	opTimes          []time.Time
	now              func() time.Time
}

// New builds a Scheduler. quota is the known backend operation quota
// in ops per second; the scheduler trips at 80% of it.
func New(chatID string, fetcher Fetcher, store *cache.Store, quota int, callbacks Callbacks) *Scheduler {
	if quota <= 0 {
		quota = 10
	}
	return &Scheduler{
		chatID:          chatID,
		fetcher:         fetcher,
		cache:           store,
		callbacks:       callbacks,
		quota:           quota,
		currentInterval: NormalInterval,
		now:             time.Now,
	}
}

// Start surfaces any cached history immediately, then begins polling
// after a short reconcile delay. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	if entry, ok := s.cache.Get(s.chatID); ok && len(entry.Messages) > 0 {
		s.cursor = entry.LastMessageID
		if s.callbacks.OnMessages != nil {
			msgs := entry.Messages
			defer s.callbacks.OnMessages(msgs)
		}
	}

	s.timer = time.AfterFunc(initialLoadDelay, s.pollCycle)
	s.mu.Unlock()
}

// Stop clears the pending timer. Idempotent and safe to call
// multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Running reports whether the scheduler has a pending poll.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interval returns the most recently computed polling interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentInterval
}

// NoteActivity marks the chat active (e.g. the user just sent a
// message) so the next cycles poll at the active tier.
func (s *Scheduler) NoteActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
	s.consecutiveEmpty = 0
}

// SetCursor moves the incremental fetch cursor, typically after the
// channel merged pushed messages the poller has not seen.
func (s *Scheduler) SetCursor(lastMessageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lastMessageID > s.cursor {
		s.cursor = lastMessageID
	}
}

func (s *Scheduler) pollCycle() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	cursor := s.cursor

	// Rate budget gate: skip the whole cycle, back off, retry later.
	if !s.allowOpLocked() {
		s.currentInterval = capDuration(s.currentInterval*2, PinnedInterval)
		interval := s.currentInterval
		s.rearmLocked(interval)
		s.mu.Unlock()
		observability.IncPoll("rate_skipped")
		return
	}
	s.recordOpLocked()
	s.mu.Unlock()

	page, err := s.fetcher.FetchMessages(ctx, s.chatID, cursor, PageSize)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	switch {
	case err != nil:
		observability.IncPoll("error")
		log.Debug().Err(err).Str("chat_id", s.chatID).Msg("poll fetch failed")
		s.consecutiveEmpty++
	case len(page.Messages) > 0:
		observability.IncPoll("messages")
		s.consecutiveEmpty = 0
		s.lastActivity = s.now()
		s.cursor = page.Messages[len(page.Messages)-1].ID
	default:
		observability.IncPoll("empty")
		s.consecutiveEmpty++
	}

	pollPresence := !s.lastActivity.IsZero() && s.now().Sub(s.lastActivity) <= presenceWindow
	typingAllowed := pollPresence && s.allowOpLocked()
	if typingAllowed {
		s.recordOpLocked()
	}
	onlineAllowed := pollPresence && s.allowOpLocked()
	if onlineAllowed {
		s.recordOpLocked()
	}
	s.mu.Unlock()

	if err == nil && len(page.Messages) > 0 {
		s.cache.Append(s.chatID, page.Messages, page.Messages[len(page.Messages)-1].ID)
		if s.callbacks.OnMessages != nil {
			s.callbacks.OnMessages(page.Messages)
		}
	}

	if typingAllowed {
		if typing, err := s.fetcher.FetchTyping(ctx, s.chatID); err == nil && s.callbacks.OnTyping != nil {
			s.callbacks.OnTyping(typing)
		}
	}
	if onlineAllowed {
		if online, err := s.fetcher.FetchOnline(ctx, s.chatID); err == nil && s.callbacks.OnOnline != nil {
			s.callbacks.OnOnline(online)
		}
	}

	s.mu.Lock()
	if s.running {
		s.currentInterval = s.computeIntervalLocked()
		s.rearmLocked(s.currentInterval)
	}
	s.mu.Unlock()
}

// computeIntervalLocked re-evaluates the tier before every poll.
func (s *Scheduler) computeIntervalLocked() time.Duration {
	if s.consecutiveEmpty > pinAfter {
		return PinnedInterval
	}

	now := s.now()
	var interval time.Duration
	switch {
	case !s.lastActivity.IsZero() && now.Sub(s.lastActivity) <= activeWindow && s.consecutiveEmpty < activeEmptyLimit:
		interval = ActiveInterval
	case !s.lastActivity.IsZero() && now.Sub(s.lastActivity) <= normalWindow && s.consecutiveEmpty < normalEmptyLimit:
		interval = NormalInterval
	default:
		interval = IdleInterval
	}

	if s.consecutiveEmpty > escalateAfter {
		interval = capDuration(interval*2, EscalatedCap)
	}
	return interval
}

func (s *Scheduler) rearmLocked(interval time.Duration) {
	s.timer = time.AfterFunc(interval, s.pollCycle)
}

// allowOpLocked checks the sliding 1-second budget window.
func (s *Scheduler) allowOpLocked() bool {
	s.pruneOpsLocked()
	return float64(len(s.opTimes)) < float64(s.quota)*rateTripRatio
}

func (s *Scheduler) recordOpLocked() {
	s.opTimes = append(s.opTimes, s.now())
}

func (s *Scheduler) pruneOpsLocked() {
	cutoff := s.now().Add(-rateWindow)
	kept := s.opTimes[:0]
	for _, t := range s.opTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.opTimes = kept
}

func capDuration(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}
