// Package channel implements the dual-transport chat channel: the
// single entry point the UI talks to. It prefers the push channel,
// falls back to the adaptive polling scheduler, and funnels every
// inbound message through one deduplication/ordering gate.
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"neighborhood-chat/internal/apiclient"
	"neighborhood-chat/internal/cache"
	"neighborhood-chat/internal/models"
	"neighborhood-chat/internal/poller"
)

// typingLifetime bounds a local typing indicator even if the explicit
// stop is never sent.
const typingLifetime = 10 * time.Second

// RestClient is the HTTP collaborator: the pull reads the scheduler
// issues plus the send/typing fallbacks. Implemented by
// apiclient.Client.
type RestClient interface {
	poller.Fetcher
	FetchBefore(ctx context.Context, chatID, beforeID string, limit int) (models.MessagePage, error)
	SendMessage(ctx context.Context, req apiclient.SendRequest) (models.Message, error)
	SetTyping(ctx context.Context, chatID string, typing bool) error
}

// PushFactory builds the push transport with the channel's callbacks
// wired in. Tests substitute a fake transport here.
type PushFactory func(onEvent func(models.ChatEvent), onState func(ConnState)) PushTransport

// Config assembles a Channel.
type Config struct {
	ChatID   string
	Identity Identity
	Rest     RestClient
	Cache    *cache.Store
	NewPush  PushFactory

	// BackendQuota is the backend's known operation quota, ops/sec.
	BackendQuota int

	// OnUpdate receives the merged message list after every change.
	OnUpdate func([]models.Message)
	// OnTyping receives the live typing set after every change.
	OnTyping func([]models.TypingIndicator)
	// OnOnline receives presence snapshots from the poll path.
	OnOnline func([]models.OnlinePresence)
	// OnStateChange observes push connection transitions.
	OnStateChange func(ConnState)
}

// Channel is the dual-transport chat channel for a single chat.
type Channel struct {
	cfg   Config
	sched *poller.Scheduler
	push  PushTransport

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	messages   []models.Message
	own        map[string]bool
	typing     map[string]models.TypingIndicator
	typingStop *time.Timer
	closed     bool
	started    bool
}

// New builds a Channel. Connect must be called before sending.
func New(cfg Config) *Channel {
	c := &Channel{
		cfg:    cfg,
		own:    make(map[string]bool),
		typing: make(map[string]models.TypingIndicator),
	}
	c.sched = poller.New(cfg.ChatID, cfg.Rest, cfg.Cache, cfg.BackendQuota, poller.Callbacks{
		OnMessages: func(msgs []models.Message) { c.acceptBatch(msgs, false) },
		OnTyping:   c.replaceTyping,
		OnOnline:   cfg.OnOnline,
	})
	if cfg.NewPush != nil {
		c.push = cfg.NewPush(c.handlePushEvent, c.handleStateChange)
	}
	return c
}

// Connect brings the channel up: it tries the push transport and
// falls back to polling when the push channel cannot connect. Always
// surfaces cached history immediately via the scheduler's initial
// load.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	ctx = c.ctx
	c.mu.Unlock()

	if c.push == nil {
		c.sched.Start(ctx)
		return
	}
	if err := c.push.Connect(ctx); err != nil {
		log.Debug().Err(err).Msg("push connect failed, falling back to polling")
		c.sched.Start(ctx)
	}
}

// handleStateChange starts/stops the poller as the push transport
// moves in and out of Connected. Exactly one transport is active for
// outbound sends; inbound events are accepted from both during
// transition windows.
func (c *Channel) handleStateChange(state ConnState) {
	c.mu.Lock()
	ctx := c.ctx
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	if state == StateConnected {
		c.sched.Stop()
	} else if ctx != nil {
		c.sched.Start(ctx)
	}
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(state)
	}
}

// State reports the push connection state.
func (c *Channel) State() ConnState {
	if c.push == nil {
		return StateDisconnected
	}
	return c.push.State()
}

// SendMessage sends a normal message over the active transport and
// returns the persisted record.
func (c *Channel) SendMessage(ctx context.Context, body string) (models.Message, error) {
	return c.send(ctx, body, models.KindNormal, nil)
}

// SendPanicMessage sends a high-priority panic message, optionally
// carrying the sender's location.
func (c *Channel) SendPanicMessage(ctx context.Context, body string, location *models.GeoPoint) (models.Message, error) {
	return c.send(ctx, body, models.KindPanic, location)
}

func (c *Channel) send(ctx context.Context, body string, kind models.MessageKind, location *models.GeoPoint) (models.Message, error) {
	clientKey := uuid.NewString()

	if c.push != nil && c.push.State() == StateConnected {
		eventType := models.EventSend
		if kind == models.KindPanic {
			eventType = models.EventPanicSend
		}
		event := models.ChatEvent{
			Type:     eventType,
			ChatID:   c.cfg.ChatID,
			UserID:   c.cfg.Identity.UserID,
			UserName: c.cfg.Identity.DisplayName,
			Location: location,
			Message: &models.Message{
				Body: body,
				Meta: models.MessageMeta{ClientKey: clientKey},
			},
		}
		msg, err := c.push.SendWithAck(ctx, event, defaultAckTimeout)
		if err == nil {
			c.applyLocalSend(msg)
			return msg, nil
		}
		log.Debug().Err(err).Msg("push send failed, falling back to http")
	}

	msg, err := c.cfg.Rest.SendMessage(ctx, apiclient.SendRequest{
		ChatID:   c.cfg.ChatID,
		Body:     body,
		Kind:     kind,
		Meta:     models.MessageMeta{ClientKey: clientKey},
		Location: location,
	})
	if err != nil {
		return models.Message{}, err
	}
	c.applyLocalSend(msg)
	return msg, nil
}

// applyLocalSend is the single local-state-update both send paths
// converge on.
func (c *Channel) applyLocalSend(msg models.Message) {
	own := true
	c.accept(msg, &own, true)
	c.sched.NoteActivity()
	c.sched.SetCursor(msg.ID)
}

// StartTyping emits a typing signal and arms the auto-stop timer.
func (c *Channel) StartTyping(ctx context.Context) {
	c.emitTyping(ctx, true)

	c.mu.Lock()
	if c.typingStop != nil {
		c.typingStop.Stop()
	}
	c.typingStop = time.AfterFunc(typingLifetime, func() {
		c.StopTyping(context.Background())
	})
	c.mu.Unlock()
}

// StopTyping clears the typing signal and the auto-stop timer.
func (c *Channel) StopTyping(ctx context.Context) {
	c.mu.Lock()
	if c.typingStop != nil {
		c.typingStop.Stop()
		c.typingStop = nil
	}
	c.mu.Unlock()

	c.emitTyping(ctx, false)
}

func (c *Channel) emitTyping(ctx context.Context, typing bool) {
	if c.push != nil && c.push.State() == StateConnected {
		eventType := models.EventStopTyping
		if typing {
			eventType = models.EventTyping
		}
		err := c.push.SendEvent(models.ChatEvent{
			Type:     eventType,
			ChatID:   c.cfg.ChatID,
			UserID:   c.cfg.Identity.UserID,
			UserName: c.cfg.Identity.DisplayName,
		})
		if err == nil {
			return
		}
	}
	if err := c.cfg.Rest.SetTyping(ctx, c.cfg.ChatID, typing); err != nil {
		log.Debug().Err(err).Msg("typing signal failed")
	}
}

// LoadMoreMessages pages backward from the oldest known message and
// merges the result.
func (c *Channel) LoadMoreMessages(ctx context.Context) error {
	c.mu.Lock()
	var oldest string
	if len(c.messages) > 0 {
		oldest = c.messages[0].ID
	}
	c.mu.Unlock()
	if oldest == "" {
		return c.Refresh(ctx)
	}

	page, err := c.cfg.Rest.FetchBefore(ctx, c.cfg.ChatID, oldest, poller.PageSize)
	if err != nil {
		return err
	}
	if c.cfg.Cache != nil {
		c.cfg.Cache.Prepend(c.cfg.ChatID, page.Messages)
	}
	c.acceptBatch(page.Messages, false)
	return nil
}

// Refresh fetches the newest page and reconciles it into local state.
func (c *Channel) Refresh(ctx context.Context) error {
	page, err := c.cfg.Rest.FetchMessages(ctx, c.cfg.ChatID, "", poller.PageSize)
	if err != nil {
		return err
	}
	c.acceptBatch(page.Messages, true)
	if len(page.Messages) > 0 {
		c.sched.SetCursor(page.Messages[len(page.Messages)-1].ID)
	}
	return nil
}

// Messages returns the merged, ordered message list.
func (c *Channel) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// IsOwn reports whether a message in the channel belongs to the
// current user.
func (c *Channel) IsOwn(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.own[messageID]
}

// TypingUsers returns the unexpired inbound typing indicators.
func (c *Channel) TypingUsers() []models.TypingIndicator {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	var out []models.TypingIndicator
	for userID, ind := range c.typing {
		if now.After(ind.ExpiresAt) {
			delete(c.typing, userID)
			continue
		}
		out = append(out, ind)
	}
	return out
}

// Close tears the channel down: pending timers cleared, room left,
// transports stopped. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.typingStop != nil {
		c.typingStop.Stop()
		c.typingStop = nil
	}
	cancel := c.cancel
	c.mu.Unlock()

	c.sched.Stop()
	if c.push != nil {
		_ = c.push.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// handlePushEvent routes inbound push frames.
func (c *Channel) handlePushEvent(event models.ChatEvent) {
	switch event.Type {
	case models.EventMessageNew, models.EventPanicAlert:
		if event.Message != nil {
			c.accept(*event.Message, event.IsOwn, true)
			c.sched.SetCursor(event.Message.ID)
		}
	case models.EventTyping:
		c.mu.Lock()
		c.typing[event.UserID] = models.TypingIndicator{
			ChatID:      event.ChatID,
			UserID:      event.UserID,
			DisplayName: event.UserName,
			ExpiresAt:   time.Now().UTC().Add(typingLifetime),
		}
		c.mu.Unlock()
		c.notifyTyping()
	case models.EventStopTyping:
		c.mu.Lock()
		delete(c.typing, event.UserID)
		c.mu.Unlock()
		c.notifyTyping()
	case models.EventError:
		log.Warn().Str("error", event.Error).Msg("push channel error event")
	}
}

// accept runs the dedup/ordering gate on one inbound message.
// writeCache is false when the message already reached the cache
// through the poll path.
func (c *Channel) accept(msg models.Message, explicitOwn *bool, writeCache bool) {
	c.mu.Lock()
	if isDuplicate(c.messages, msg) {
		c.mu.Unlock()
		return
	}
	c.messages = insertOrdered(c.messages, msg)
	c.own[msg.ID] = resolveOwnership(msg, explicitOwn, c.cfg.Identity)
	c.mu.Unlock()

	if writeCache && c.cfg.Cache != nil {
		c.cfg.Cache.Append(c.cfg.ChatID, []models.Message{msg}, msg.ID)
	}
	c.notifyUpdate()
}

func (c *Channel) acceptBatch(msgs []models.Message, writeCache bool) {
	for _, msg := range msgs {
		c.accept(msg, nil, writeCache)
	}
}

// replaceTyping swaps in a polled typing snapshot.
func (c *Channel) replaceTyping(indicators []models.TypingIndicator) {
	c.mu.Lock()
	c.typing = make(map[string]models.TypingIndicator, len(indicators))
	for _, ind := range indicators {
		if ind.UserID == c.cfg.Identity.UserID {
			continue
		}
		c.typing[ind.UserID] = ind
	}
	c.mu.Unlock()
	c.notifyTyping()
}

func (c *Channel) notifyUpdate() {
	if c.cfg.OnUpdate != nil {
		c.cfg.OnUpdate(c.Messages())
	}
}

func (c *Channel) notifyTyping() {
	if c.cfg.OnTyping != nil {
		c.cfg.OnTyping(c.TypingUsers())
	}
}
